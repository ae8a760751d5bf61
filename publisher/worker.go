package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/livestore/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBatchSize       = 100
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRetryInitial    = 100 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMultiplier = 2.0
	// DefaultMaxRetries bounds publish attempts for one event
	DefaultMaxRetries = 100
)

// WorkerConfig configures a publisher worker
type WorkerConfig struct {
	Name            string // Sink name, also the cursor name
	Log             *PublishLog
	Sink            Sink
	Transformer     Transformer
	Filter          Filter
	SchemaProvider  SchemaProvider
	TopicPrefix     string // e.g. "livestore.cdc"
	BatchSize       int
	PollInterval    time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxRetries      int
}

// Worker tails the publish log from its cursor and publishes to one sink
type Worker struct {
	config      WorkerConfig
	cursor      atomic.Uint64
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker validates config, applies defaults and loads the sink cursor
func NewWorker(config WorkerConfig) (*Worker, error) {
	switch {
	case config.Name == "":
		return nil, fmt.Errorf("worker name is required")
	case config.Log == nil:
		return nil, fmt.Errorf("publish log is required")
	case config.Sink == nil:
		return nil, fmt.Errorf("sink is required")
	case config.Transformer == nil:
		return nil, fmt.Errorf("transformer is required")
	case config.Filter == nil:
		return nil, fmt.Errorf("filter is required")
	case config.SchemaProvider == nil:
		return nil, fmt.Errorf("schema provider is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	cursor, err := config.Log.GetCursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}

	// A new sink starts at the oldest entry still in the log
	if cursor == 0 {
		events, err := config.Log.ReadFrom(0, 1)
		if err != nil {
			return nil, fmt.Errorf("find earliest entry: %w", err)
		}
		if len(events) > 0 {
			cursor = events[0].SeqNum - 1
		}
	}

	w := &Worker{
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	w.cursor.Store(cursor)
	return w, nil
}

// Name returns the sink name
func (w *Worker) Name() string {
	return w.config.Name
}

// Cursor returns the sequence of the last event handled
func (w *Worker) Cursor() uint64 {
	return w.cursor.Load()
}

// Start starts the poll loop
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}
	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().Str("worker", w.config.Name).Uint64("cursor", w.Cursor()).Msg("Starting CDC publisher worker")
	go w.pollLoop()
}

// Stop stops the poll loop and waits for it to exit
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)

	log.Info().Str("worker", w.config.Name).Msg("CDC publisher worker stopped")
}

func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		events, err := w.config.Log.ReadFrom(w.Cursor(), w.config.BatchSize)
		if err != nil {
			log.Error().Err(err).Str("worker", w.config.Name).Uint64("cursor", w.Cursor()).Msg("Failed to read publish log")
			w.sleep(w.config.PollInterval)
			continue
		}
		if len(events) == 0 {
			w.sleep(w.config.PollInterval)
			continue
		}

		for _, ev := range events {
			if err := w.processEvent(ev); err != nil {
				log.Error().Err(err).Str("worker", w.config.Name).Uint64("seq", ev.SeqNum).Msg("Failed to process event, worker halted")
				return
			}
			w.cursor.Store(ev.SeqNum)
		}
	}
}

// processEvent publishes one event, then advances the cursor. Filtered
// events only advance the cursor. Deletes are followed by a tombstone.
func (w *Worker) processEvent(ev Event) error {
	if !w.config.Filter.Match(ev.EntityType) {
		w.advance(ev.SeqNum)
		return nil
	}

	schema, err := w.config.SchemaProvider.GetSchema(ev.EntityType)
	if err != nil {
		return fmt.Errorf("get schema for %s: %w", ev.EntityType, err)
	}

	data, err := w.config.Transformer.Transform(ev, schema)
	if err != nil {
		return fmt.Errorf("transform event: %w", err)
	}

	topic := w.buildTopic(ev.EntityType)
	key := ev.EntityType + ":" + ev.Key
	if err := w.publishWithRetry(topic, key, data); err != nil {
		return err
	}

	if ev.IsDelete() && ev.Key != "" {
		if err := w.publishWithRetry(topic, key, w.config.Transformer.Tombstone(key)); err != nil {
			return err
		}
	}

	telemetry.PublisherEventsPublishedTotal.With(w.config.Name).Inc()
	w.advance(ev.SeqNum)
	return nil
}

// advance persists the cursor. A failure only risks redelivery after restart.
func (w *Worker) advance(seq uint64) {
	if err := w.config.Log.AdvanceCursor(w.config.Name, seq); err != nil {
		log.Warn().Err(err).Str("worker", w.config.Name).Uint64("seq", seq).Msg("Failed to advance cursor, event may be redelivered")
	}
}

func (w *Worker) buildTopic(entityType string) string {
	if w.config.TopicPrefix == "" {
		return entityType
	}
	return w.config.TopicPrefix + "." + entityType
}

// publishWithRetry publishes with exponential backoff until success, the
// retry limit, or Stop
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}

		attempts++
		telemetry.PublisherErrorsTotal.With(w.config.Name).Inc()
		if attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted %d retries for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish event, retrying")

		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}

		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// sleep returns false if the worker was stopped first
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
