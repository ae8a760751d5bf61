package livequery

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/query"
)

// State of a live query in its re-evaluation cycle
type State int

const (
	Active State = iota
	ReEvaluating
	Cancelled
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case ReEvaluating:
		return "reevaluating"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Snapshot is one complete result of a live query. Seq is the mutation
// batch sequence that triggered the run, 0 for the initial snapshot.
type Snapshot struct {
	QueryID string
	Seq     uint64
	Records []*entity.Record
	At      time.Time
}

// Count returns the number of records in the snapshot
func (s Snapshot) Count() int {
	return len(s.Records)
}

// Handler receives the results of one live query. Calls for one query
// never overlap and arrive in execution order.
type Handler interface {
	OnResult(snap Snapshot)
	OnError(err error)
}

// HandlerFuncs adapts functions to Handler; nil funcs are ignored
type HandlerFuncs struct {
	Result func(Snapshot)
	Error  func(error)
}

func (h HandlerFuncs) OnResult(snap Snapshot) {
	if h.Result != nil {
		h.Result(snap)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// LiveQuery is a registered query whose result is pushed to its handler
// again after every relevant committed mutation
type LiveQuery struct {
	ID      string
	Query   query.Query
	Created time.Time

	registry *Registry
	handler  Handler

	// guarded by registry.mu
	state      State
	pending    bool
	pendingSeq uint64

	deliverMu  sync.Mutex
	cancelled  atomic.Bool
	deliveries atomic.Uint64
}

// Close unregisters the live query; same as Registry.Unregister
func (lq *LiveQuery) Close() {
	lq.registry.Unregister(lq)
}

// Cancelled reports whether the query has been unregistered
func (lq *LiveQuery) Cancelled() bool {
	return lq.cancelled.Load()
}

// Deliveries returns how many snapshots the handler has received
func (lq *LiveQuery) Deliveries() uint64 {
	return lq.deliveries.Load()
}

// Info describes a registered live query for admin endpoints
type Info struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Query       string    `json:"query"`
	Fingerprint uint64    `json:"fingerprint"`
	State       string    `json:"state"`
	Pending     bool      `json:"pending"`
	Deliveries  uint64    `json:"deliveries"`
	Created     time.Time `json:"created"`
}
