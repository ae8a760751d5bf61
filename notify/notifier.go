package notify

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/livestore/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrHubClosed is returned by TryPublish after Close
var ErrHubClosed = errors.New("mutation hub closed")

// Listener receives committed mutation batches. OnMutation runs on the
// publishing goroutine inside the hub's serialized delivery path, so it
// must be quick and must not publish to the same hub.
type Listener interface {
	OnMutation(batch Batch) error
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(batch Batch) error

func (f ListenerFunc) OnMutation(batch Batch) error { return f(batch) }

// Filter restricts the entity types a listener sees; empty means all
type Filter struct {
	Types []string
}

func (f Filter) matches(entityType string) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == entityType {
			return true
		}
	}
	return false
}

// ListenerError captures a failed or panicking listener or handler
type ListenerError struct {
	Listener string
	Seq      uint64
	Err      error
	Panic    bool
}

func (e *ListenerError) Error() string {
	if e.Panic {
		return fmt.Sprintf("listener %s panicked at seq %d: %v", e.Listener, e.Seq, e.Err)
	}
	return fmt.Sprintf("listener %s failed at seq %d: %v", e.Listener, e.Seq, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// ErrorSink receives captured listener failures
type ErrorSink func(err *ListenerError)

// LogErrorSink is the default sink: it logs and counts
func LogErrorSink(err *ListenerError) {
	log.Error().
		Str("listener", err.Listener).
		Uint64("seq", err.Seq).
		Bool("panic", err.Panic).
		Err(err.Err).
		Msg("Mutation listener failed")
}

type subscription struct {
	id        uint64
	name      string
	filter    Filter
	listener  Listener
	cancelled atomic.Bool
}

// Hub is the mutation event bus. Publication is serialized: sequence
// numbers are assigned and every listener is invoked under one mutex, so
// all listeners observe batches in the same order.
type Hub struct {
	deliverMu sync.Mutex

	mu            sync.RWMutex
	subscriptions []*subscription
	errSink       ErrorSink

	nextID atomic.Uint64
	seq    atomic.Uint64
	closed atomic.Bool
}

// NewHub creates a new mutation hub
func NewHub() *Hub {
	return &Hub{errSink: LogErrorSink}
}

// SetErrorSink replaces the sink for captured listener failures
func (h *Hub) SetErrorSink(sink ErrorSink) {
	if sink == nil {
		sink = LogErrorSink
	}
	h.mu.Lock()
	h.errSink = sink
	h.mu.Unlock()
}

// ReportError forwards a failure captured outside the hub (e.g. a live
// query handler) to the configured sink
func (h *Hub) ReportError(err *ListenerError) {
	telemetry.ListenerFailuresTotal.With("handler").Inc()
	h.mu.RLock()
	sink := h.errSink
	h.mu.RUnlock()
	sink(err)
}

// Subscribe registers a listener. Listeners are invoked in subscription
// order. The returned cancel function is idempotent; a cancelled listener
// receives no batch whose delivery starts after cancel returns.
func (h *Hub) Subscribe(name string, listener Listener, filter Filter) func() {
	sub := &subscription{
		id:       h.nextID.Add(1),
		name:     name,
		filter:   filter,
		listener: listener,
	}

	h.mu.Lock()
	h.subscriptions = append(h.subscriptions, sub)
	h.mu.Unlock()

	return func() {
		h.unsubscribe(sub)
	}
}

func (h *Hub) unsubscribe(sub *subscription) {
	if !sub.cancelled.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subscriptions {
		if s.id == sub.id {
			h.subscriptions = append(h.subscriptions[:i:i], h.subscriptions[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered listeners
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Seq returns the last assigned sequence number
func (h *Hub) Seq() uint64 {
	return h.seq.Load()
}

// Publish delivers a batch and returns it with its assigned sequence.
// Publications after Close are dropped.
func (h *Hub) Publish(batch Batch) Batch {
	out, err := h.TryPublish(batch)
	if err != nil {
		log.Debug().Err(err).Int("events", len(batch.Events)).Msg("Dropped mutation batch")
	}
	return out
}

// TryPublish is Publish that reports ErrHubClosed. Empty batches are not
// assigned a sequence and are not delivered.
func (h *Hub) TryPublish(batch Batch) (Batch, error) {
	if len(batch.Events) == 0 {
		return batch, nil
	}

	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	if h.closed.Load() {
		return batch, ErrHubClosed
	}

	batch.Seq = h.seq.Add(1)
	if batch.CommittedAt.IsZero() {
		batch.CommittedAt = time.Now()
	}

	telemetry.BatchesPublishedTotal.Inc()
	telemetry.HubSequence.Set(float64(batch.Seq))
	for _, ev := range batch.Events {
		telemetry.MutationsPublishedTotal.With(ev.Op.Label()).Inc()
	}

	h.mu.RLock()
	subs := make([]*subscription, len(h.subscriptions))
	copy(subs, h.subscriptions)
	sink := h.errSink
	h.mu.RUnlock()

	for _, sub := range subs {
		if sub.cancelled.Load() {
			continue
		}
		filtered, ok := filterBatch(batch, sub.filter)
		if !ok {
			continue
		}
		if lerr := deliver(sub, filtered); lerr != nil {
			telemetry.ListenerFailuresTotal.With("listener").Inc()
			sink(lerr)
		}
	}

	return batch, nil
}

// filterBatch keeps only the events the filter accepts; false if none remain
func filterBatch(batch Batch, f Filter) (Batch, bool) {
	if len(f.Types) == 0 {
		return batch, true
	}

	events := make([]Event, 0, len(batch.Events))
	for _, ev := range batch.Events {
		if f.matches(ev.Type) {
			events = append(events, ev)
		}
	}
	if len(events) == 0 {
		return batch, false
	}
	batch.Events = events
	return batch, true
}

func deliver(sub *subscription, batch Batch) (lerr *ListenerError) {
	defer func() {
		if r := recover(); r != nil {
			lerr = &ListenerError{
				Listener: sub.name,
				Seq:      batch.Seq,
				Err:      fmt.Errorf("%v", r),
				Panic:    true,
			}
		}
	}()

	if err := sub.listener.OnMutation(batch); err != nil {
		return &ListenerError{Listener: sub.name, Seq: batch.Seq, Err: err}
	}
	return nil
}

// Close rejects further publications. In-flight delivery completes first.
func (h *Hub) Close() {
	h.deliverMu.Lock()
	h.closed.Store(true)
	h.deliverMu.Unlock()
}
