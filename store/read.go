package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/maxpert/livestore/db"
	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/query"
)

// Select returns every record q selects. Outside a transaction records
// are canonical: the same (type, key) always yields the same instance.
func (s *Store) Select(ctx context.Context, q query.Query) ([]*entity.Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := s.entityType(q.EntityType()); err != nil {
		return nil, err
	}

	sess, tx := s.session(ctx)
	if tx != nil {
		return sess.Select(ctx, q)
	}
	return s.selectCanonical(ctx, q)
}

func (s *Store) selectCanonical(ctx context.Context, q query.Query) ([]*entity.Record, error) {
	readSeq := s.hub.Seq()
	recs, err := s.db.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.canonicalize(recs, readSeq), nil
}

// First returns the first record q selects, or ErrNotFound
func (s *Store) First(ctx context.Context, q query.Query) (*entity.Record, error) {
	recs, err := s.Select(ctx, q.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("first %s: %w", q.EntityType(), ErrNotFound)
	}
	return recs[0], nil
}

// Get loads a record by key. The database is always consulted so rows
// removed by a cascade are never served from the identity map.
func (s *Store) Get(ctx context.Context, entityType string, key entity.Value) (*entity.Record, error) {
	t, err := s.entityType(entityType)
	if err != nil {
		return nil, err
	}
	rec, err := s.First(ctx, query.From(t.Name).Where(goqu.C(t.KeyField().Name).Eq(key.Driver())))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get %s %s: %w", entityType, key, ErrNotFound)
	}
	return rec, err
}

// Cached returns the identity-map instance for a type and key without
// reading the database. Records the map has evicted or never held are
// reported missing.
func (s *Store) Cached(entityType string, key entity.Value) (*entity.Record, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(entityType, key)
}

// Count returns how many rows q selects
func (s *Store) Count(ctx context.Context, q query.Query) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	sess, _ := s.session(ctx)
	return sess.Count(ctx, q)
}

func (s *Store) canonicalize(recs []*entity.Record, readSeq uint64) []*entity.Record {
	if s.cache == nil {
		return recs
	}
	for i, rec := range recs {
		recs[i] = s.cache.Canonical(rec, readSeq)
	}
	return recs
}

// liveExecutor runs live query re-evaluations outside any transaction
type liveExecutor struct {
	s *Store
}

func (e liveExecutor) Select(ctx context.Context, q query.Query) ([]*entity.Record, error) {
	return e.s.selectCanonical(ctx, q)
}

// canonicalCursor hands out identity-mapped records from a pull cursor
type canonicalCursor struct {
	*db.Cursor
	s       *Store
	readSeq uint64
}

func (c *canonicalCursor) Record() (*entity.Record, error) {
	rec, err := c.Cursor.Record()
	if err != nil || c.s.cache == nil {
		return rec, err
	}
	return c.s.cache.Canonical(rec, c.readSeq), nil
}
