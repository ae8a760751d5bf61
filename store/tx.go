package store

import (
	"context"

	"github.com/maxpert/livestore/coordinator"
	"github.com/maxpert/livestore/db"
	"github.com/maxpert/livestore/notify"
)

// ErrNestedTransaction is returned by Begin when ctx already carries a
// pending transaction of the same store
var ErrNestedTransaction = coordinator.ErrNestedTransaction

// Tx is an open transaction. Writes made with the context returned by
// Begin join it; their events are published as one collapsed batch on
// Commit and discarded on Rollback.
type Tx struct {
	store *Store
	scope *coordinator.Scope
	tx    *db.Tx
}

type txKey struct{}

// Begin opens a transaction and returns a context carrying it
func (s *Store) Begin(ctx context.Context) (context.Context, *Tx, error) {
	if err := s.checkOpen(); err != nil {
		return ctx, nil, err
	}

	txCtx, scope, err := s.coord.Begin(ctx)
	if err != nil {
		return ctx, nil, err
	}

	dbtx, err := s.db.Begin(ctx)
	if err != nil {
		_ = s.coord.Rollback(scope, func() error { return nil })
		return ctx, nil, err
	}

	t := &Tx{store: s, scope: scope, tx: dbtx}
	s.txs.Store(scope.ID, t)
	return context.WithValue(txCtx, txKey{}, t), t, nil
}

// ID identifies the transaction; committed batches carry it as TxnID
func (t *Tx) ID() string {
	return t.scope.ID
}

// Commit commits the database transaction and publishes its collapsed
// events. A transaction that wrote nothing publishes nothing.
func (t *Tx) Commit() (notify.Batch, error) {
	defer t.store.txs.Delete(t.scope.ID)
	return t.store.coord.Commit(t.scope, t.tx.Commit)
}

// Rollback aborts the transaction. It is a no-op after Commit, so it is
// safe to defer.
func (t *Tx) Rollback() error {
	defer t.store.txs.Delete(t.scope.ID)
	return t.store.coord.Rollback(t.scope, t.tx.Rollback)
}

// Tx runs fn in a transaction, committing when it returns nil and rolling
// back otherwise
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, t, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer t.Rollback()

	if err := fn(txCtx); err != nil {
		return err
	}
	_, err = t.Commit()
	return err
}

// activeTx returns the pending transaction of this store carried by ctx
func (s *Store) activeTx(ctx context.Context) (*Tx, bool) {
	t, ok := ctx.Value(txKey{}).(*Tx)
	if !ok || t == nil || t.store != s || t.scope.Outcome() != coordinator.Pending {
		return nil, false
	}
	return t, true
}

// session picks the transaction carried by ctx, or the store itself
func (s *Store) session(ctx context.Context) (db.Session, *Tx) {
	if t, ok := s.activeTx(ctx); ok {
		return t.tx, t
	}
	return s.db, nil
}

// detach strips any transaction from ctx
func detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{}, (*Tx)(nil))
}
