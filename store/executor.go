package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/telemetry"
	"github.com/rs/zerolog/log"
)

type writeJob struct {
	ctx     context.Context
	rec     *entity.Record
	apply   func(ctx context.Context, rec *entity.Record) error
	promise *future.Promise[*entity.Record]
}

// writeExecutor applies asynchronous writes one at a time, in submission
// order, on a single goroutine
type writeExecutor struct {
	jobs    chan *writeJob
	queued  atomic.Int64
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func newWriteExecutor(size int) *writeExecutor {
	w := &writeExecutor{jobs: make(chan *writeJob, size)}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *writeExecutor) run() {
	defer w.wg.Done()
	for job := range w.jobs {
		w.queued.Add(-1)
		telemetry.AsyncWritesQueued.Set(float64(w.queued.Load()))

		err := job.apply(job.ctx, job.rec)
		if err != nil {
			log.Debug().Err(err).Str("type", job.rec.Type().Name).Msg("Async write failed")
			job.promise.Set(nil, err)
			continue
		}
		job.promise.Set(job.rec, nil)
	}
}

// submit queues a write, blocking while the queue is full
func (w *writeExecutor) submit(ctx context.Context, rec *entity.Record, apply func(context.Context, *entity.Record) error) *future.Future[*entity.Record] {
	p := future.NewPromise[*entity.Record]()
	if rec == nil {
		p.Set(nil, fmt.Errorf("nil record"))
		return p.Future()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		p.Set(nil, ErrClosed)
		return p.Future()
	}

	w.queued.Add(1)
	telemetry.AsyncWritesQueued.Set(float64(w.queued.Load()))
	select {
	case w.jobs <- &writeJob{ctx: ctx, rec: rec, apply: apply, promise: p}:
	case <-ctx.Done():
		w.queued.Add(-1)
		p.Set(nil, ctx.Err())
	}
	return p.Future()
}

// Queued returns the number of writes waiting to run
func (w *writeExecutor) Queued() int {
	return int(w.queued.Load())
}

// Close stops accepting writes and waits for queued ones to finish
func (w *writeExecutor) Close() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.jobs)
	w.mu.Unlock()

	w.wg.Wait()
}

// InsertAsync queues an insert. The future resolves to rec, with its
// generated key assigned, once the insert has committed and published.
func (s *Store) InsertAsync(ctx context.Context, rec *entity.Record) *future.Future[*entity.Record] {
	return s.writer.submit(detach(ctx), rec, s.insert)
}

// UpdateAsync queues an update
func (s *Store) UpdateAsync(ctx context.Context, rec *entity.Record) *future.Future[*entity.Record] {
	return s.writer.submit(detach(ctx), rec, s.update)
}

// DeleteAsync queues a delete
func (s *Store) DeleteAsync(ctx context.Context, rec *entity.Record) *future.Future[*entity.Record] {
	return s.writer.submit(detach(ctx), rec, s.delete)
}
