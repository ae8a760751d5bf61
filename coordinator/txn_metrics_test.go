package coordinator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTxnMetrics(t *testing.T) {
	before := time.Now()
	m := NewTxnMetrics()
	after := time.Now()

	require.NotNil(t, m)
	assert.False(t, m.startTime.Before(before))
	assert.False(t, m.startTime.After(after))
}

func TestRecordFailureReturnsError(t *testing.T) {
	m := NewTxnMetrics()
	err := errors.New("boom")
	assert.Same(t, err, m.RecordFailure(err))
}

func TestRecordOutcomesWithNoopMetrics(t *testing.T) {
	m := NewTxnMetrics()
	assert.NotPanics(t, m.RecordCommitted)
	assert.NotPanics(t, m.RecordRolledBack)
}
