package lookup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"itersight/internal/domain"
)

type countingResolver struct {
	Static
	memberCalls int
	groupCalls  int
}

func (c *countingResolver) ResolveMember(ctx context.Context, id string) domain.Member {
	c.memberCalls++
	return c.Static.ResolveMember(ctx, id)
}

func (c *countingResolver) ResolveGroup(ctx context.Context, id string) domain.Group {
	c.groupCalls++
	return c.Static.ResolveGroup(ctx, id)
}

func TestStaticUnknownFallback(t *testing.T) {
	s := Static{Members: map[string]string{"m1": "Ada"}}
	assert.Equal(t, "Ada", s.ResolveMember(context.Background(), "m1").DisplayName)
	assert.Equal(t, UnknownName, s.ResolveMember(context.Background(), "nope").DisplayName)
	assert.Equal(t, UnknownName, s.ResolveGroup(context.Background(), "nope").DisplayName)
}

func TestCacheMemoizes(t *testing.T) {
	next := &countingResolver{Static: Static{
		Members: map[string]string{"m1": "Ada"},
		Groups:  map[string]string{"g1": "Observability"},
	}}
	cache := NewCache(next)

	for i := 0; i < 3; i++ {
		assert.Equal(t, "Ada", cache.ResolveMember(context.Background(), "m1").DisplayName)
		assert.Equal(t, "Observability", cache.ResolveGroup(context.Background(), "g1").DisplayName)
	}
	assert.Equal(t, 1, next.memberCalls)
	assert.Equal(t, 1, next.groupCalls)

	// unknown ids are memoized too, same id always resolves the same way
	cache.ResolveMember(context.Background(), "nope")
	cache.ResolveMember(context.Background(), "nope")
	assert.Equal(t, 2, next.memberCalls)
}
