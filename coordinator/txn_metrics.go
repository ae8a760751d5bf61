package coordinator

import (
	"time"

	"github.com/maxpert/livestore/telemetry"
)

// TxnMetrics records the outcome and commit latency of one transaction
type TxnMetrics struct {
	startTime time.Time
}

// NewTxnMetrics starts timing a commit or rollback
func NewTxnMetrics() *TxnMetrics {
	return &TxnMetrics{startTime: time.Now()}
}

// RecordFailure records a failed commit or rollback and returns err unchanged
func (m *TxnMetrics) RecordFailure(err error) error {
	telemetry.TransactionsTotal.With("failed").Inc()
	return err
}

// RecordCommitted records a successful commit including publication
func (m *TxnMetrics) RecordCommitted() {
	telemetry.TransactionsTotal.With("committed").Inc()
	telemetry.TransactionCommitSeconds.Observe(time.Since(m.startTime).Seconds())
}

// RecordRolledBack records an explicit rollback
func (m *TxnMetrics) RecordRolledBack() {
	telemetry.TransactionsTotal.With("rolled_back").Inc()
}
