package telemetry

import (
	"sync"
	"time"
)

// StoreStats is a point-in-time view of a store's internal state
type StoreStats struct {
	LiveQueries        int    `json:"live_queries"`
	PullStreams        int    `json:"pull_streams"`
	ActiveTransactions int    `json:"active_transactions"`
	CachedRecords      int    `json:"cached_records"`
	AsyncWritesQueued  int    `json:"async_writes_queued"`
	LastSeq            uint64 `json:"last_seq"`
}

// StatsProvider interface for components that provide stats
type StatsProvider interface {
	Stats() StoreStats
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider StatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	s := mc.provider.Stats()
	LiveQueriesActive.Set(float64(s.LiveQueries))
	PullStreamsOpen.Set(float64(s.PullStreams))
	ActiveTransactions.Set(float64(s.ActiveTransactions))
	CachedRecords.Set(float64(s.CachedRecords))
	AsyncWritesQueued.Set(float64(s.AsyncWritesQueued))
	HubSequence.Set(float64(s.LastSeq))
}
