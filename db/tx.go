package db

import (
	"database/sql"
	"errors"
	"sync/atomic"
)

// Tx is a database transaction exposing the same Session operations as Store
type Tx struct {
	ops
	tx   *sql.Tx
	done atomic.Bool
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	if !t.done.CompareAndSwap(false, true) {
		return sql.ErrTxDone
	}
	return t.tx.Commit()
}

// Rollback aborts the transaction. It is a no-op after Commit or a prior Rollback.
func (t *Tx) Rollback() error {
	if !t.done.CompareAndSwap(false, true) {
		return nil
	}
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// Done reports whether the transaction has been committed or rolled back
func (t *Tx) Done() bool {
	return t.done.Load()
}
