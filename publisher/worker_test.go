package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxpert/livestore/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mu        sync.Mutex
	calls     []mockPublishCall
	failCount atomic.Int32 // failures before succeeding
}

type mockPublishCall struct {
	topic string
	key   string
	value []byte
}

func (m *mockSink) Publish(topic, key string, value []byte) error {
	if m.failCount.Load() > 0 {
		m.failCount.Add(-1)
		return fmt.Errorf("mock publish failure")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockPublishCall{topic: topic, key: key, value: value})
	return nil
}

func (m *mockSink) Close() error { return nil }

func (m *mockSink) published() []mockPublishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublishCall(nil), m.calls...)
}

type mockTransformer struct{}

func (mockTransformer) Transform(ev Event, schema TableSchema) ([]byte, error) {
	return []byte(fmt.Sprintf("%s:%s:%d", ev.EntityType, ev.Op, ev.SeqNum)), nil
}

func (mockTransformer) Tombstone(key string) []byte {
	return []byte("tombstone:" + key)
}

type mockSchemas struct{}

func (mockSchemas) GetSchema(entityType string) (TableSchema, error) {
	return TableSchema{Columns: []ColumnInfo{{Name: "id", IsPK: true}}}, nil
}

func newTestWorker(t *testing.T, pl *PublishLog, sink Sink, patterns ...string) *Worker {
	t.Helper()
	filter, err := NewGlobFilter(patterns)
	require.NoError(t, err)

	w, err := NewWorker(WorkerConfig{
		Name:           "test",
		Log:            pl,
		Sink:           sink,
		Transformer:    mockTransformer{},
		Filter:         filter,
		SchemaProvider: mockSchemas{},
		TopicPrefix:    "livestore",
		PollInterval:   5 * time.Millisecond,
		RetryInitial:   time.Millisecond,
		RetryMax:       5 * time.Millisecond,
	})
	require.NoError(t, err)
	return w
}

func TestNewWorker_Validation(t *testing.T) {
	pl := &PublishLog{}
	tests := []struct {
		name   string
		config WorkerConfig
	}{
		{"missing name", WorkerConfig{}},
		{"missing log", WorkerConfig{Name: "w"}},
		{"missing sink", WorkerConfig{Name: "w", Log: pl}},
		{"missing transformer", WorkerConfig{Name: "w", Log: pl, Sink: &mockSink{}}},
		{"missing filter", WorkerConfig{Name: "w", Log: pl, Sink: &mockSink{}, Transformer: mockTransformer{}}},
		{"missing schemas", WorkerConfig{Name: "w", Log: pl, Sink: &mockSink{}, Transformer: mockTransformer{}, Filter: &GlobFilter{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWorker(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestWorker_PublishesInOrder(t *testing.T) {
	pl := createTestPublishLog(t)
	require.NoError(t, pl.Append([]Event{
		rowEvent("person", "1", notify.OpInsert),
		rowEvent("person", "1", notify.OpUpdate),
	}))

	sink := &mockSink{}
	w := newTestWorker(t, pl, sink)
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return len(sink.published()) == 2 }, 2*time.Second, 5*time.Millisecond)

	got := sink.published()
	assert.Equal(t, "livestore.person", got[0].topic)
	assert.Equal(t, "person:1", got[0].key)
	assert.Equal(t, "person:insert:1", string(got[0].value))
	assert.Equal(t, "person:update:2", string(got[1].value))

	require.Eventually(t, func() bool { return w.Cursor() == 2 }, time.Second, 5*time.Millisecond)
	cursor, err := pl.GetCursor("test")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cursor)
}

func TestWorker_DeleteSendsTombstone(t *testing.T) {
	pl := createTestPublishLog(t)
	del := rowEvent("person", "9", notify.OpDelete)
	del.After = nil
	require.NoError(t, pl.Append([]Event{del}))

	sink := &mockSink{}
	w := newTestWorker(t, pl, sink)
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return len(sink.published()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "tombstone:person:9", string(sink.published()[1].value))
}

func TestWorker_FilteredEventsAdvanceCursor(t *testing.T) {
	pl := createTestPublishLog(t)
	require.NoError(t, pl.Append([]Event{
		rowEvent("phone", "1", notify.OpInsert),
		rowEvent("person", "1", notify.OpInsert),
	}))

	sink := &mockSink{}
	w := newTestWorker(t, pl, sink, "person")
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return w.Cursor() == 2 }, 2*time.Second, 5*time.Millisecond)
	got := sink.published()
	require.Len(t, got, 1)
	assert.Equal(t, "livestore.person", got[0].topic)
}

func TestWorker_RetriesFailedPublish(t *testing.T) {
	pl := createTestPublishLog(t)
	require.NoError(t, pl.Append([]Event{rowEvent("person", "1", notify.OpInsert)}))

	sink := &mockSink{}
	sink.failCount.Store(3)
	w := newTestWorker(t, pl, sink)
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return len(sink.published()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, sink.failCount.Load())
}

func TestWorker_ResumesFromCursor(t *testing.T) {
	pl := createTestPublishLog(t)
	require.NoError(t, pl.Append([]Event{
		rowEvent("person", "1", notify.OpInsert),
		rowEvent("person", "2", notify.OpInsert),
	}))
	require.NoError(t, pl.AdvanceCursor("test", 1))

	sink := &mockSink{}
	w := newTestWorker(t, pl, sink)
	assert.Equal(t, uint64(1), w.Cursor())
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return len(sink.published()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "person:2", sink.published()[0].key)
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	pl := createTestPublishLog(t)
	w := newTestWorker(t, pl, &mockSink{})
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}
