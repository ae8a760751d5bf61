package livequery

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Register after the registry is closed
var ErrClosed = errors.New("live query registry closed")

// ExecutionError reports that running a live query failed. After a
// re-evaluation fails the query is unregistered.
type ExecutionError struct {
	QueryID string
	Type    string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("live query %s over %s failed: %v", e.QueryID, e.Type, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
