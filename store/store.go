// Package store is the reactive entity store: a SQLite-backed entity
// store whose committed mutations drive live queries, pull streams and
// external listeners.
//
//	s, _ := store.Open(ctx, model, store.DefaultOptions("app.db"))
//	snap, lq, _ := s.SubscribeResult(ctx, query.From("person"), handler)
//	_ = s.Insert(ctx, person) // handler receives a fresh snapshot
package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/maxpert/livestore/cache"
	"github.com/maxpert/livestore/coordinator"
	"github.com/maxpert/livestore/db"
	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/livequery"
	"github.com/maxpert/livestore/notify"
	"github.com/maxpert/livestore/pull"
	"github.com/maxpert/livestore/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by operations on a closed Store
var ErrClosed = errors.New("store closed")

// ErrNotFound is returned when a keyed read, update or delete matches nothing
var ErrNotFound = db.ErrNotFound

// Store ties the entity database, mutation hub, transaction coordinator,
// live query registry and identity cache into one instance
type Store struct {
	model *entity.Model
	opts  Options

	db       *db.Store
	hub      *notify.Hub
	coord    *coordinator.Coordinator
	registry *livequery.Registry
	cache    *cache.Cache
	pulls    *xsync.MapOf[string, *pull.Subscription]
	txs      *xsync.MapOf[string, *Tx]
	writer   *writeExecutor

	internal []func()
	closed   atomic.Bool
}

// Open opens the database at opts.Path, creates missing tables and starts
// the store's background workers
func Open(ctx context.Context, model *entity.Model, opts Options) (*Store, error) {
	defaults := DefaultOptions(opts.Path)
	if opts.Workers < 1 {
		opts.Workers = defaults.Workers
	}
	if opts.PullBatchSize < 1 {
		opts.PullBatchSize = defaults.PullBatchSize
	}
	if opts.WriteQueueSize < 1 {
		opts.WriteQueueSize = defaults.WriteQueueSize
	}
	if opts.CacheEnabled && opts.CacheSize < 1 {
		opts.CacheSize = defaults.CacheSize
	}

	database, err := db.Open(opts.Path, model, opts.DB)
	if err != nil {
		return nil, err
	}
	if err := database.CreateTables(ctx); err != nil {
		database.Close()
		return nil, err
	}

	s := &Store{
		model: model,
		opts:  opts,
		db:    database,
		hub:   notify.NewHub(),
		pulls: xsync.NewMapOf[string, *pull.Subscription](),
		txs:   xsync.NewMapOf[string, *Tx](),
	}
	s.hub.SetErrorSink(opts.ErrorSink)

	if opts.CacheEnabled {
		s.cache, err = cache.New(opts.CacheSize)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("create identity cache: %w", err)
		}
		// Subscribed first so the cache reflects a commit before any
		// live query re-runs because of it
		s.internal = append(s.internal,
			s.hub.Subscribe("identity-cache", notify.ListenerFunc(s.applyToCache), notify.Filter{}))
	}

	s.registry = livequery.NewRegistry(liveExecutor{s}, model, livequery.Options{
		Workers:  opts.Workers,
		Timeout:  opts.ReEvaluationTimeout,
		Reporter: s.hub.ReportError,
	})
	s.internal = append(s.internal, s.hub.Subscribe("live-queries", s.registry, notify.Filter{}))

	s.coord = coordinator.New(s.hub)
	s.writer = newWriteExecutor(opts.WriteQueueSize)

	log.Info().
		Str("path", opts.Path).
		Int("types", len(model.Types())).
		Bool("cache", opts.CacheEnabled).
		Int("workers", opts.Workers).
		Msg("Store opened")

	return s, nil
}

// Model returns the entity model
func (s *Store) Model() *entity.Model {
	return s.model
}

// Subscribe registers an external mutation listener, such as the CDC
// publisher. It runs inside the serialized publication path.
func (s *Store) Subscribe(name string, listener notify.Listener, filter notify.Filter) func() {
	return s.hub.Subscribe(name, listener, filter)
}

// LiveQueries describes the registered live queries
func (s *Store) LiveQueries() []livequery.Info {
	return s.registry.List()
}

// LiveQuery describes one registered live query
func (s *Store) LiveQuery(id string) (livequery.Info, bool) {
	return s.registry.Get(id)
}

// Stats reports the store's internal state
func (s *Store) Stats() telemetry.StoreStats {
	stats := telemetry.StoreStats{
		LiveQueries:        s.registry.Len(),
		PullStreams:        s.pulls.Size(),
		ActiveTransactions: s.coord.Len(),
		AsyncWritesQueued:  s.writer.Queued(),
		LastSeq:            s.hub.Seq(),
	}
	if s.cache != nil {
		stats.CachedRecords = s.cache.Len()
	}
	return stats
}

// Close stops every subscription and worker and closes the database.
// Pending transactions are rolled back.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.writer.Close()

	s.pulls.Range(func(_ string, sub *pull.Subscription) bool {
		sub.Cancel()
		<-sub.Done()
		return true
	})

	s.coord.Abandon(func(scope *coordinator.Scope) error {
		if t, ok := s.txs.LoadAndDelete(scope.ID); ok {
			return t.tx.Rollback()
		}
		return nil
	})

	s.registry.Close()
	for _, cancel := range s.internal {
		cancel()
	}
	s.hub.Close()

	if s.cache != nil {
		s.cache.Purge()
	}

	log.Info().Str("path", s.opts.Path).Msg("Store closed")
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *Store) entityType(name string) (*entity.Type, error) {
	t, ok := s.model.Type(name)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %s", name)
	}
	return t, nil
}
