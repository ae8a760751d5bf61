// Package livequery keeps query results current. A registered live query
// is re-run after every committed mutation that could change its result,
// and each new result is pushed to the query's handler.
//
// Scheduling follows one rule per query: at most one run in flight, and
// any number of mutations that arrive during a run collapse into exactly
// one follow-up run.
package livequery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/notify"
	"github.com/maxpert/livestore/query"
	"github.com/maxpert/livestore/telemetry"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Executor runs a query against the store
type Executor interface {
	Select(ctx context.Context, q query.Query) ([]*entity.Record, error)
}

// Resolver maps a mutated entity type to every type whose queries it may affect
type Resolver interface {
	Affected(entityType string) []string
}

// Options tune the registry
type Options struct {
	// Workers bounds concurrent re-evaluations across all queries
	Workers int
	// Timeout bounds a single query execution; zero means none
	Timeout time.Duration
	// Reporter receives handler panics; defaults to notify.LogErrorSink
	Reporter notify.ErrorSink
}

// Registry indexes live queries by entity type and schedules their re-evaluation
type Registry struct {
	exec     Executor
	resolver Resolver
	opts     Options

	mu     sync.Mutex
	byType map[string]map[string]*LiveQuery
	all    map[string]*LiveQuery
	closed bool

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

var _ notify.Listener = (*Registry)(nil)

// NewRegistry creates a registry running queries through exec
func NewRegistry(exec Executor, resolver Resolver, opts Options) *Registry {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Reporter == nil {
		opts.Reporter = notify.LogErrorSink
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		exec:     exec,
		resolver: resolver,
		opts:     opts,
		byType:   make(map[string]map[string]*LiveQuery),
		all:      make(map[string]*LiveQuery),
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register adds a live query, runs it once and delivers the initial
// snapshot to handler before any re-evaluation result. The snapshot is
// also returned. A mutation committed while the initial run executes
// triggers one re-evaluation right after it.
func (r *Registry) Register(ctx context.Context, q query.Query, handler Handler) (*LiveQuery, Snapshot, error) {
	if q.EntityType() == "" {
		return nil, Snapshot{}, fmt.Errorf("live query has no entity type")
	}
	if handler == nil {
		return nil, Snapshot{}, fmt.Errorf("live query handler is required")
	}

	lq := &LiveQuery{
		ID:       uuid.NewString(),
		Query:    q,
		Created:  time.Now(),
		registry: r,
		handler:  handler,
		state:    ReEvaluating,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, Snapshot{}, ErrClosed
	}
	r.index(lq)
	r.mu.Unlock()

	recs, err := r.execute(ctx, lq)
	if err != nil {
		r.Unregister(lq)
		return nil, Snapshot{}, &ExecutionError{QueryID: lq.ID, Type: q.EntityType(), Err: err}
	}

	snap := Snapshot{QueryID: lq.ID, Records: recs, At: time.Now()}
	if lerr := r.deliverResult(lq, snap); lerr != nil {
		r.Unregister(lq)
		return nil, Snapshot{}, lerr
	}

	r.finishRun(lq)

	log.Debug().
		Str("id", lq.ID).
		Str("type", q.EntityType()).
		Int("rows", snap.Count()).
		Msg("Live query registered")

	return lq, snap, nil
}

func (r *Registry) index(lq *LiveQuery) {
	t := lq.Query.EntityType()
	if r.byType[t] == nil {
		r.byType[t] = make(map[string]*LiveQuery)
	}
	r.byType[t][lq.ID] = lq
	r.all[lq.ID] = lq
}

// Unregister removes a live query. When it returns, no further
// re-evaluation is scheduled for lq and no new delivery to its handler
// starts. Safe to call more than once and from inside the handler.
func (r *Registry) Unregister(lq *LiveQuery) {
	if lq == nil || lq.registry != r {
		return
	}

	r.mu.Lock()
	if lq.state == Cancelled {
		r.mu.Unlock()
		return
	}
	lq.state = Cancelled
	lq.pending = false
	lq.cancelled.Store(true)

	t := lq.Query.EntityType()
	delete(r.byType[t], lq.ID)
	if len(r.byType[t]) == 0 {
		delete(r.byType, t)
	}
	delete(r.all, lq.ID)
	r.mu.Unlock()

	log.Debug().Str("id", lq.ID).Msg("Live query unregistered")
}

// OnMutation schedules re-evaluation of every live query whose type is
// affected by an event in batch. It never runs queries itself, so it is
// cheap enough for the hub's serialized delivery path.
func (r *Registry) OnMutation(batch notify.Batch) error {
	affected := make(map[string]struct{})
	for _, ev := range batch.Events {
		for _, t := range r.resolver.Affected(ev.Type) {
			affected[t] = struct{}{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	for t := range affected {
		for _, lq := range r.byType[t] {
			r.schedule(lq, batch.Seq)
		}
	}
	return nil
}

// schedule moves lq through its state machine; must hold r.mu
func (r *Registry) schedule(lq *LiveQuery, seq uint64) {
	switch lq.state {
	case Active:
		lq.state = ReEvaluating
		r.dispatch(lq, seq)
	case ReEvaluating:
		if lq.pending {
			telemetry.ReEvaluationsCoalescedTotal.Inc()
		}
		lq.pending = true
		lq.pendingSeq = seq
	case Cancelled:
	}
}

// finishRun either starts the one pending follow-up run or returns lq to Active
func (r *Registry) finishRun(lq *LiveQuery) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lq.state == Cancelled {
		return
	}
	if lq.pending && !r.closed {
		lq.pending = false
		r.dispatch(lq, lq.pendingSeq)
		return
	}
	lq.state = Active
}

// Get describes a registered live query by ID
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lq, ok := r.all[id]
	if !ok {
		return Info{}, false
	}
	return lq.info(), true
}

// Len returns the number of registered live queries
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}

// List describes every registered live query, oldest first
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.all))
	for _, lq := range r.all {
		out = append(out, lq.info())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// info must be called with the registry lock held
func (lq *LiveQuery) info() Info {
	return Info{
		ID:          lq.ID,
		Type:        lq.Query.EntityType(),
		Query:       lq.Query.String(),
		Fingerprint: lq.Query.Fingerprint(),
		State:       lq.state.String(),
		Pending:     lq.pending,
		Deliveries:  lq.deliveries.Load(),
		Created:     lq.Created,
	}
}

// Close unregisters every live query and waits for in-flight runs to
// finish. It must not be called from a handler.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	queries := make([]*LiveQuery, 0, len(r.all))
	for _, lq := range r.all {
		queries = append(queries, lq)
	}
	r.mu.Unlock()

	for _, lq := range queries {
		r.Unregister(lq)
	}

	r.cancel()
	r.wg.Wait()

	log.Info().Int("unregistered", len(queries)).Msg("Live query registry closed")
}
