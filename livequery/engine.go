package livequery

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/notify"
	"github.com/maxpert/livestore/telemetry"
	"github.com/rs/zerolog/log"
)

// dispatch starts one re-evaluation of lq; must hold r.mu
func (r *Registry) dispatch(lq *LiveQuery, seq uint64) {
	r.wg.Add(1)
	go r.run(lq, seq)
}

func (r *Registry) run(lq *LiveQuery, seq uint64) {
	defer r.wg.Done()

	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		// Registry closing
		telemetry.ReEvaluationsTotal.With("discarded").Inc()
		return
	}

	if lq.cancelled.Load() {
		r.sem.Release(1)
		telemetry.ReEvaluationsTotal.With("discarded").Inc()
		return
	}

	recs, err := r.execute(r.ctx, lq)
	r.sem.Release(1)

	if lq.cancelled.Load() {
		telemetry.ReEvaluationsTotal.With("discarded").Inc()
		return
	}

	if err != nil {
		telemetry.ReEvaluationsTotal.With("failed").Inc()
		execErr := &ExecutionError{QueryID: lq.ID, Type: lq.Query.EntityType(), Err: err}
		log.Warn().Err(err).Str("id", lq.ID).Uint64("seq", seq).Msg("Live query re-evaluation failed")

		r.deliverError(lq, execErr)
		r.Unregister(lq)
		return
	}

	telemetry.ReEvaluationsTotal.With("success").Inc()
	snap := Snapshot{QueryID: lq.ID, Seq: seq, Records: recs, At: time.Now()}
	if lerr := r.deliverResult(lq, snap); lerr != nil {
		r.Unregister(lq)
		return
	}

	r.finishRun(lq)
}

func (r *Registry) execute(ctx context.Context, lq *LiveQuery) ([]*entity.Record, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	recs, err := r.exec.Select(ctx, lq.Query)
	telemetry.ReEvaluationDurationSeconds.Observe(time.Since(start).Seconds())
	return recs, err
}

// deliverResult hands snap to the handler unless lq was cancelled. A
// panicking handler is reported and returned as a ListenerError.
func (r *Registry) deliverResult(lq *LiveQuery, snap Snapshot) *notify.ListenerError {
	lq.deliverMu.Lock()
	defer lq.deliverMu.Unlock()

	if lq.cancelled.Load() {
		return nil
	}

	lerr := r.guard(lq, snap.Seq, func() { lq.handler.OnResult(snap) })
	if lerr == nil {
		lq.deliveries.Add(1)
		telemetry.SnapshotsDeliveredTotal.Inc()
	}
	return lerr
}

func (r *Registry) deliverError(lq *LiveQuery, err error) {
	lq.deliverMu.Lock()
	defer lq.deliverMu.Unlock()

	if lq.cancelled.Load() {
		return
	}
	r.guard(lq, 0, func() { lq.handler.OnError(err) })
}

func (r *Registry) guard(lq *LiveQuery, seq uint64, fn func()) (lerr *notify.ListenerError) {
	defer func() {
		if p := recover(); p != nil {
			lerr = &notify.ListenerError{
				Listener: "live_query:" + lq.ID,
				Seq:      seq,
				Err:      fmt.Errorf("%v", p),
				Panic:    true,
			}
			r.opts.Reporter(lerr)
		}
	}()
	fn()
	return nil
}
