package lookup

import (
	"context"
	"sync"

	"itersight/internal/domain"
)

// UnknownName is returned for ids the resolver cannot identify. Aggregation
// must keep going on unknown ids rather than fail.
const UnknownName = "Unknown"

// Resolver turns raw member/group ids into display names.
type Resolver interface {
	ResolveMember(ctx context.Context, id string) domain.Member
	ResolveGroup(ctx context.Context, id string) domain.Group
}

// Static is a fixed-table resolver, used for tests and snapshot payloads that
// carry their own member/group data.
type Static struct {
	Members map[string]string
	Groups  map[string]string
}

func (s Static) ResolveMember(_ context.Context, id string) domain.Member {
	if name, ok := s.Members[id]; ok {
		return domain.Member{ID: id, DisplayName: name}
	}
	return domain.Member{ID: id, DisplayName: UnknownName}
}

func (s Static) ResolveGroup(_ context.Context, id string) domain.Group {
	if name, ok := s.Groups[id]; ok {
		return domain.Group{ID: id, DisplayName: name}
	}
	return domain.Group{ID: id, DisplayName: UnknownName}
}

// Cache memoizes another resolver. Same id always resolves to the same name,
// so last-writer-wins under the single mutex is enough. The cache is handed
// to the call path explicitly; there is no package-global instance.
type Cache struct {
	Next Resolver

	mu      sync.Mutex
	members map[string]domain.Member
	groups  map[string]domain.Group
}

// NewCache wraps next with request- or session-scoped memoization.
func NewCache(next Resolver) *Cache {
	return &Cache{
		Next:    next,
		members: make(map[string]domain.Member),
		groups:  make(map[string]domain.Group),
	}
}

func (c *Cache) ResolveMember(ctx context.Context, id string) domain.Member {
	c.mu.Lock()
	if m, ok := c.members[id]; ok {
		c.mu.Unlock()
		return m
	}
	c.mu.Unlock()
	m := c.Next.ResolveMember(ctx, id)
	c.mu.Lock()
	c.members[id] = m
	c.mu.Unlock()
	return m
}

func (c *Cache) ResolveGroup(ctx context.Context, id string) domain.Group {
	c.mu.Lock()
	if g, ok := c.groups[id]; ok {
		c.mu.Unlock()
		return g
	}
	c.mu.Unlock()
	g := c.Next.ResolveGroup(ctx, id)
	c.mu.Lock()
	c.groups[id] = g
	c.mu.Unlock()
	return g
}
