// Package coordinator buffers the mutation events produced inside a
// transaction and publishes them, collapsed, as one batch when the
// transaction commits. Rolled back transactions publish nothing.
//
// A scope rides the context returned by Begin:
//
//	ctx, scope, err := coord.Begin(ctx)
//	...writes record events into scope...
//	batch, err := coord.Commit(scope, tx.Commit)
package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/maxpert/livestore/notify"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Publisher is the part of the mutation hub the coordinator needs
type Publisher interface {
	Publish(batch notify.Batch) notify.Batch
}

// Coordinator tracks the open transaction scopes of one store
type Coordinator struct {
	hub    Publisher
	active *xsync.MapOf[string, *Scope]
}

// New creates a coordinator publishing committed batches to hub
func New(hub Publisher) *Coordinator {
	return &Coordinator{
		hub:    hub,
		active: xsync.NewMapOf[string, *Scope](),
	}
}

// Begin opens a scope and returns a context carrying it. A context that
// already carries a pending scope of this coordinator is rejected with
// ErrNestedTransaction; scopes from completed transactions are ignored.
func (c *Coordinator) Begin(ctx context.Context) (context.Context, *Scope, error) {
	if existing, ok := FromContext(ctx); ok && existing.coord == c && existing.Outcome() == Pending {
		return ctx, nil, ErrNestedTransaction
	}

	s := &Scope{
		ID:      uuid.NewString(),
		Started: time.Now(),
		coord:   c,
	}
	c.active.Store(s.ID, s)

	log.Debug().Str("scope", s.ID).Msg("Transaction scope opened")
	return context.WithValue(ctx, scopeKey{}, s), s, nil
}

// Active returns the pending scope of this coordinator carried by ctx
func (c *Coordinator) Active(ctx context.Context) (*Scope, bool) {
	s, ok := FromContext(ctx)
	if !ok || s.coord != c || s.Outcome() != Pending {
		return nil, false
	}
	return s, true
}

// Commit runs commit and, on success, publishes the collapsed buffer as
// one batch. On failure the buffer is discarded and a TransactionError is
// returned. A scope with no buffered events publishes nothing.
func (c *Coordinator) Commit(s *Scope, commit func() error) (notify.Batch, error) {
	metrics := NewTxnMetrics()

	events, ok := s.complete(Committed)
	if !ok {
		return notify.Batch{}, ErrScopeClosed
	}
	defer c.active.Delete(s.ID)

	if err := commit(); err != nil {
		s.mu.Lock()
		s.outcome = RolledBack
		s.mu.Unlock()

		log.Warn().Err(err).Str("scope", s.ID).Int("discarded", len(events)).Msg("Transaction commit failed")
		return notify.Batch{}, metrics.RecordFailure(&TransactionError{Op: "commit", ScopeID: s.ID, Err: err})
	}

	batch := notify.Batch{TxnID: s.ID, Events: Collapse(events)}
	if len(batch.Events) > 0 {
		batch = c.hub.Publish(batch)
	}

	log.Debug().
		Str("scope", s.ID).
		Int("events", len(events)).
		Int("collapsed", len(batch.Events)).
		Uint64("seq", batch.Seq).
		Msg("Transaction committed")

	metrics.RecordCommitted()
	return batch, nil
}

// Rollback discards the buffer and runs rollback. Rolling back a scope that
// already completed is a no-op, so it is safe to defer.
func (c *Coordinator) Rollback(s *Scope, rollback func() error) error {
	events, ok := s.complete(RolledBack)
	if !ok {
		return nil
	}
	defer c.active.Delete(s.ID)

	metrics := NewTxnMetrics()
	if err := rollback(); err != nil {
		return metrics.RecordFailure(&TransactionError{Op: "rollback", ScopeID: s.ID, Err: err})
	}

	log.Debug().Str("scope", s.ID).Int("discarded", len(events)).Msg("Transaction rolled back")
	metrics.RecordRolledBack()
	return nil
}

// Len returns the number of pending scopes
func (c *Coordinator) Len() int {
	return c.active.Size()
}

// Abandon rolls back every pending scope; used on store shutdown
func (c *Coordinator) Abandon(rollback func(*Scope) error) {
	c.active.Range(func(id string, s *Scope) bool {
		if err := c.Rollback(s, func() error { return rollback(s) }); err != nil {
			log.Warn().Err(err).Str("scope", id).Msg("Failed to roll back abandoned transaction")
		}
		return true
	})
}
