package tracker

import (
	"context"
	"log"

	"itersight/internal/domain"
	"itersight/internal/lookup"
)

// Resolver adapts the tracker client to the lookup contract. Lookup failures
// degrade to the Unknown placeholder so an aggregation never fails on a bad
// or deleted id.
type Resolver struct {
	Client *Client
	Logger *log.Logger
}

func (r Resolver) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

func (r Resolver) ResolveMember(ctx context.Context, id string) domain.Member {
	m, err := r.Client.Member(ctx, id)
	if err != nil {
		r.logger().Printf("resolve member %s: %v", id, err)
		return domain.Member{ID: id, DisplayName: lookup.UnknownName}
	}
	if m.DisplayName == "" {
		m.DisplayName = lookup.UnknownName
	}
	m.ID = id
	return m
}

func (r Resolver) ResolveGroup(ctx context.Context, id string) domain.Group {
	g, err := r.Client.Group(ctx, id)
	if err != nil {
		r.logger().Printf("resolve group %s: %v", id, err)
		return domain.Group{ID: id, DisplayName: lookup.UnknownName}
	}
	if g.DisplayName == "" {
		g.DisplayName = lookup.UnknownName
	}
	g.ID = id
	return g
}
