package publisher

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/livestore/cfg"
	"github.com/maxpert/livestore/notify"
	"github.com/maxpert/livestore/telemetry"
	"github.com/rs/zerolog/log"
)

// RegistryConfig configures the publisher registry
type RegistryConfig struct {
	DataDir     string                  // Parent of the publish log directory
	InstanceID  string                  // Stamped on every event
	Schemas     SchemaProvider          // Column layouts for transformers
	SinkConfigs []cfg.SinkConfiguration // One worker per sink
}

// Registry appends committed batches to the publish log and manages the
// workers draining it
type Registry struct {
	log        *PublishLog
	workers    []*Worker
	schemas    SchemaProvider
	instanceID string
	running    atomic.Bool
	mu         sync.Mutex
}

var _ notify.Listener = (*Registry)(nil)

// NewRegistry opens the publish log under config.DataDir and creates a
// worker per sink
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if config.Schemas == nil {
		return nil, fmt.Errorf("schema provider is required")
	}

	pubLog, err := NewPublishLog(filepath.Join(config.DataDir, "publish_log"))
	if err != nil {
		return nil, err
	}

	r := &Registry{
		log:        pubLog,
		workers:    make([]*Worker, 0, len(config.SinkConfigs)),
		schemas:    config.Schemas,
		instanceID: config.InstanceID,
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := r.AddSink(sinkCfg); err != nil {
			for _, w := range r.workers {
				w.config.Sink.Close()
			}
			pubLog.Close()
			return nil, fmt.Errorf("add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().Int("workers", len(r.workers)).Uint64("last_seq", pubLog.LastSeq()).Msg("CDC publisher registry initialized")
	return r, nil
}

// AddSink creates a worker for a sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	snk, err := NewSink(config)
	if err != nil {
		return fmt.Errorf("create sink: %w", err)
	}
	return r.AddWorker(config, snk)
}

// AddWorker creates a worker publishing to an already constructed sink.
// If the registry is running the worker starts immediately.
func (r *Registry) AddWorker(config cfg.SinkConfiguration, snk Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	trans, err := createTransformer(config.Format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("create transformer: %w", err)
	}

	filter, err := NewGlobFilter(config.FilterEntities)
	if err != nil {
		snk.Close()
		return fmt.Errorf("create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		SchemaProvider:  r.schemas,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("create worker: %w", err)
	}

	r.workers = append(r.workers, worker)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", config.Format).
		Msg("Added CDC sink")
	return nil
}

// OnMutation appends a committed batch to the publish log. It runs in the
// hub's serialized publication path, so log order is commit order.
func (r *Registry) OnMutation(batch notify.Batch) error {
	events, err := ConvertBatch(batch, r.instanceID)
	if err != nil {
		return err
	}
	if err := r.log.Append(events); err != nil {
		return err
	}
	telemetry.PublisherEventsAppendedTotal.Add(float64(len(events)))
	return nil
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	for _, w := range r.workers {
		w.Start()
	}
	r.running.Store(true)

	log.Info().Int("workers", len(r.workers)).Msg("CDC publisher registry started")
	return nil
}

// Stop stops all workers, closes their sinks and closes the publish log.
// Unsubscribe the registry from the hub first.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) && r.log.closed.Load() {
		return
	}

	for _, w := range r.workers {
		w.Stop()
		if err := w.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", w.config.Name).Msg("Failed to close sink")
		}
	}

	if err := r.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publish log")
	}
	log.Info().Msg("CDC publisher registry stopped")
}

// Log returns the underlying publish log
func (r *Registry) Log() *PublishLog {
	return r.log
}

// SinkStatus reports how far one sink has drained the publish log
type SinkStatus struct {
	Name   string `json:"name"`
	Cursor uint64 `json:"cursor"`
	Lag    uint64 `json:"lag"`
}

// Sinks returns the status of every worker
func (r *Registry) Sinks() []SinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	last := r.log.LastSeq()
	out := make([]SinkStatus, 0, len(r.workers))
	for _, w := range r.workers {
		st := SinkStatus{Name: w.Name(), Cursor: w.Cursor()}
		if last > st.Cursor {
			st.Lag = last - st.Cursor
		}
		out = append(out, st)
	}
	return out
}

// SinkFactory creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

// NewSink creates a sink with the factory registered for config.Type
func NewSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, ok := sinkFactories[config.Type]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

func createTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, ok := transformerFactories[format]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return factory(), nil
}
