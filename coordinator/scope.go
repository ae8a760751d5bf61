package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/maxpert/livestore/notify"
)

// Outcome is the terminal state of a scope
type Outcome int

const (
	Pending Outcome = iota
	Committed
	RolledBack
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Scope buffers the mutation events of one transaction until it completes
type Scope struct {
	ID      string
	Started time.Time

	coord   *Coordinator
	mu      sync.Mutex
	events  []notify.Event
	outcome Outcome
}

// Record buffers an event for publication at commit
func (s *Scope) Record(ev notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != Pending {
		return ErrScopeClosed
	}
	s.events = append(s.events, ev)
	return nil
}

// Outcome returns the current state of the scope
func (s *Scope) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Buffered returns how many events are waiting for commit
func (s *Scope) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// complete moves a pending scope to outcome and hands back its buffer.
// ok is false if the scope had already completed.
func (s *Scope) complete(outcome Outcome) (events []notify.Event, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != Pending {
		return nil, false
	}
	s.outcome = outcome
	events, s.events = s.events, nil
	return events, true
}

type scopeKey struct{}

// FromContext returns the scope carried by ctx, if any
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok
}
