// Package pull streams the rows of a query to a consumer that asks for
// them in batches. Rows are read from a database cursor only as demand
// allows, so a slow consumer never forces the full result into memory.
// A stream reflects the data at the time rows are read; it does not
// re-run when the store changes.
package pull

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/notify"
	"github.com/maxpert/livestore/query"
)

// ErrInvalidDemand is delivered to OnError when Request is called with n <= 0
var ErrInvalidDemand = errors.New("pull demand must be positive")

// DefaultBatchSize caps the rows delivered per delivery round
const DefaultBatchSize = 64

// Cursor is a forward-only row source; *db.Cursor implements it
type Cursor interface {
	Next() bool
	Record() (*entity.Record, error)
	Err() error
	Close() error
}

// Opener opens a cursor over q. It is called once, on first demand.
type Opener func(ctx context.Context, q query.Query) (Cursor, error)

// Handler consumes a stream. Callbacks are never concurrent. Exactly one
// of OnComplete or OnError ends a stream that is not cancelled.
type Handler interface {
	OnNext(rec *entity.Record)
	OnError(err error)
	OnComplete()
}

// HandlerFuncs adapts functions to Handler; nil funcs are ignored
type HandlerFuncs struct {
	Next     func(*entity.Record)
	Error    func(error)
	Complete func()
}

func (h HandlerFuncs) OnNext(rec *entity.Record) {
	if h.Next != nil {
		h.Next(rec)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

func (h HandlerFuncs) OnComplete() {
	if h.Complete != nil {
		h.Complete()
	}
}

// State of a subscription
type State int

const (
	StateOpen State = iota
	StateCancelled
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Options tune a subscription
type Options struct {
	BatchSize int
	// OnDone runs once after the delivery loop exits and the cursor is closed
	OnDone func(*Subscription)
	// Reporter receives handler panics; defaults to notify.LogErrorSink
	Reporter notify.ErrorSink
}

// Subscription is one pull stream
type Subscription struct {
	ID    string
	Query query.Query

	handler Handler
	opener  Opener
	opts    Options

	mu     sync.Mutex
	demand int64
	state  State
	fatal  error // terminal error waiting to be delivered by the loop
	err    error

	signal    chan struct{}
	done      chan struct{}
	cancelCtx context.CancelFunc
	delivered atomic.Int64
}

// Open starts a subscription. No rows are read until Request is called.
// Cancelling ctx cancels the subscription.
func Open(ctx context.Context, opener Opener, q query.Query, handler Handler, opts Options) *Subscription {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Reporter == nil {
		opts.Reporter = notify.LogErrorSink
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		ID:        uuid.NewString(),
		Query:     q,
		handler:   handler,
		opener:    opener,
		opts:      opts,
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		cancelCtx: cancel,
	}

	go s.loop(ctx)
	return s
}

// Request adds n to the outstanding demand. Demand saturates at
// math.MaxInt64. n <= 0 ends the stream with ErrInvalidDemand. Safe to
// call from inside OnNext.
func (s *Subscription) Request(n int64) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	if n <= 0 {
		if s.fatal == nil {
			s.fatal = fmt.Errorf("%w: %d", ErrInvalidDemand, n)
		}
	} else if s.demand > math.MaxInt64-n {
		s.demand = math.MaxInt64
	} else {
		s.demand += n
	}
	s.mu.Unlock()

	s.wake()
}

// Cancel stops the stream. No callback starts after Cancel returns,
// except one already running. Idempotent.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.state == StateOpen {
		s.state = StateCancelled
	}
	s.mu.Unlock()

	s.wake()
	s.cancelCtx()
}

func (s *Subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Done is closed once the stream has ended and its cursor is closed
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the stream, nil on completion or cancel
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Delivered returns the number of rows handed to OnNext
func (s *Subscription) Delivered() int64 {
	return s.delivered.Load()
}

// State returns the current state
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Demand returns the outstanding demand
func (s *Subscription) Demand() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.demand
}

func (s *Subscription) open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOpen && s.fatal == nil
}
