package store

import (
	"context"

	"github.com/maxpert/livestore/livequery"
	"github.com/maxpert/livestore/query"
)

// SubscribeResult registers a live query. handler receives the initial
// snapshot, which is also returned, and then a fresh snapshot after every
// committed mutation of the query's entity type or a related type.
func (s *Store) SubscribeResult(ctx context.Context, q query.Query, handler livequery.Handler) (livequery.Snapshot, *livequery.LiveQuery, error) {
	if err := s.checkOpen(); err != nil {
		return livequery.Snapshot{}, nil, err
	}
	if _, err := s.entityType(q.EntityType()); err != nil {
		return livequery.Snapshot{}, nil, err
	}

	lq, snap, err := s.registry.Register(detach(ctx), q, handler)
	if err != nil {
		return livequery.Snapshot{}, nil, err
	}
	return snap, lq, nil
}

// Unsubscribe stops a live query. No delivery starts after it returns.
// Safe to call from inside the query's handler.
func (s *Store) Unsubscribe(lq *livequery.LiveQuery) {
	s.registry.Unregister(lq)
}
