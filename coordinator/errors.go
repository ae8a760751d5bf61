package coordinator

import (
	"errors"
	"fmt"
)

// ErrNestedTransaction is returned by Begin when the context already
// carries a pending scope of the same coordinator
var ErrNestedTransaction = errors.New("transaction already in progress for this context")

// ErrScopeClosed is returned when recording into or committing a scope
// that has already completed
var ErrScopeClosed = errors.New("transaction scope already completed")

// TransactionError reports a failed commit or rollback of the underlying store.
// Buffered events of the scope have been discarded.
type TransactionError struct {
	Op      string // "commit" or "rollback"
	ScopeID string
	Err     error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s %s failed: %v", e.ScopeID, e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }
