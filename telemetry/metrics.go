package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// QueryBuckets for live query re-evaluations against local SQLite
	QueryBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}

	// CommitBuckets for transaction commits including event publication
	CommitBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
)

// Mutation Event Bus Metrics
var (
	// MutationsPublishedTotal counts mutation events by op (insert, update, delete, bulk_delete, bulk_update, mixed)
	MutationsPublishedTotal CounterVec = noopCounterVec{}

	// BatchesPublishedTotal counts published mutation batches
	BatchesPublishedTotal Counter = NoopStat{}

	// ListenerFailuresTotal counts captured listener and handler failures by source
	ListenerFailuresTotal CounterVec = noopCounterVec{}

	// HubSequence tracks the last assigned batch sequence
	HubSequence Gauge = NoopStat{}
)

// Live Query Metrics
var (
	// LiveQueriesActive tracks registered live queries
	LiveQueriesActive Gauge = NoopStat{}

	// ReEvaluationsTotal counts re-evaluations by result (success, failed, discarded)
	ReEvaluationsTotal CounterVec = noopCounterVec{}

	// ReEvaluationsCoalescedTotal counts mutations absorbed into a pending re-evaluation
	ReEvaluationsCoalescedTotal Counter = NoopStat{}

	// ReEvaluationDurationSeconds measures query execution time per re-evaluation
	ReEvaluationDurationSeconds Histogram = NoopStat{}

	// SnapshotsDeliveredTotal counts result snapshots handed to handlers
	SnapshotsDeliveredTotal Counter = NoopStat{}
)

// Pull Metrics
var (
	// PullStreamsOpen tracks open pull subscriptions
	PullStreamsOpen Gauge = NoopStat{}

	// PullRowsDeliveredTotal counts rows delivered to pull consumers
	PullRowsDeliveredTotal Counter = NoopStat{}
)

// Transaction Metrics
var (
	// TransactionsTotal counts transactions by outcome (committed, rolled_back, failed)
	TransactionsTotal CounterVec = noopCounterVec{}

	// TransactionCommitSeconds measures commit latency
	TransactionCommitSeconds Histogram = NoopStat{}

	// ActiveTransactions tracks open transaction scopes
	ActiveTransactions Gauge = NoopStat{}

	// AsyncWritesQueued tracks writes waiting on the async write executor
	AsyncWritesQueued Gauge = NoopStat{}
)

// Identity Cache Metrics
var (
	// CacheHitsTotal counts reads canonicalized to an existing instance
	CacheHitsTotal Counter = NoopStat{}

	// CacheMissesTotal counts reads that populated the cache
	CacheMissesTotal Counter = NoopStat{}

	// CachedRecords tracks the identity map size
	CachedRecords Gauge = NoopStat{}
)

// CDC Publisher Metrics
var (
	// PublisherEventsAppendedTotal counts events written to the publish log
	PublisherEventsAppendedTotal Counter = NoopStat{}

	// PublisherEventsPublishedTotal counts events delivered per sink
	PublisherEventsPublishedTotal CounterVec = noopCounterVec{}

	// PublisherErrorsTotal counts failed publish attempts per sink
	PublisherErrorsTotal CounterVec = noopCounterVec{}
)

// InitMetrics registers all metrics. Call after InitializeTelemetry.
func InitMetrics() {
	MutationsPublishedTotal = NewCounterVec(
		"mutations_published_total",
		"Mutation events published by op",
		[]string{"op"},
	)
	BatchesPublishedTotal = NewCounter(
		"batches_published_total",
		"Mutation batches published",
	)
	ListenerFailuresTotal = NewCounterVec(
		"listener_failures_total",
		"Captured listener and handler failures by source",
		[]string{"source"},
	)
	HubSequence = NewGauge(
		"hub_sequence",
		"Last assigned mutation batch sequence",
	)

	LiveQueriesActive = NewGauge(
		"live_queries_active",
		"Registered live queries",
	)
	ReEvaluationsTotal = NewCounterVec(
		"reevaluations_total",
		"Live query re-evaluations by result",
		[]string{"result"},
	)
	ReEvaluationsCoalescedTotal = NewCounter(
		"reevaluations_coalesced_total",
		"Mutations absorbed into an already pending re-evaluation",
	)
	ReEvaluationDurationSeconds = NewHistogramWithBuckets(
		"reevaluation_duration_seconds",
		"Live query execution time in seconds",
		QueryBuckets,
	)
	SnapshotsDeliveredTotal = NewCounter(
		"snapshots_delivered_total",
		"Result snapshots delivered to handlers",
	)

	PullStreamsOpen = NewGauge(
		"pull_streams_open",
		"Open pull subscriptions",
	)
	PullRowsDeliveredTotal = NewCounter(
		"pull_rows_delivered_total",
		"Rows delivered to pull consumers",
	)

	TransactionsTotal = NewCounterVec(
		"transactions_total",
		"Transactions by outcome",
		[]string{"outcome"},
	)
	TransactionCommitSeconds = NewHistogramWithBuckets(
		"transaction_commit_seconds",
		"Transaction commit duration in seconds",
		CommitBuckets,
	)
	ActiveTransactions = NewGauge(
		"active_transactions",
		"Open transaction scopes",
	)
	AsyncWritesQueued = NewGauge(
		"async_writes_queued",
		"Writes waiting on the async write executor",
	)

	CacheHitsTotal = NewCounter(
		"cache_hits_total",
		"Reads canonicalized to a cached instance",
	)
	CacheMissesTotal = NewCounter(
		"cache_misses_total",
		"Reads that populated the identity cache",
	)
	CachedRecords = NewGauge(
		"cached_records",
		"Records held by the identity cache",
	)

	PublisherEventsAppendedTotal = NewCounter(
		"publisher_events_appended_total",
		"CDC events appended to the publish log",
	)
	PublisherEventsPublishedTotal = NewCounterVec(
		"publisher_events_published_total",
		"CDC events published by sink",
		[]string{"sink"},
	)
	PublisherErrorsTotal = NewCounterVec(
		"publisher_errors_total",
		"Failed CDC publish attempts by sink",
		[]string{"sink"},
	)
}
