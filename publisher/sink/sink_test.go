package sink

import (
	"sync"
	"testing"

	"github.com/maxpert/livestore/cfg"
	"github.com/maxpert/livestore/publisher"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ publisher.Sink = (*KafkaSink)(nil)
	_ publisher.Sink = (*NatsSink)(nil)
	_ publisher.Sink = (*MemorySink)(nil)
)

func TestNewKafkaSink(t *testing.T) {
	t.Run("configures the writer", func(t *testing.T) {
		s, err := NewKafkaSink([]string{"localhost:9092", "localhost:9093"}, 50)
		require.NoError(t, err)
		defer s.Close()

		assert.Equal(t, 50, s.writer.BatchSize)
		assert.Equal(t, int64(kafkaBatchBytes), s.writer.BatchBytes)
		assert.Equal(t, kafka.RequireAll, s.writer.RequiredAcks)
		assert.IsType(t, &kafka.Hash{}, s.writer.Balancer)
		assert.True(t, s.writer.AllowAutoTopicCreation)
	})

	t.Run("fills defaults", func(t *testing.T) {
		s, err := NewKafkaSink([]string{"localhost:9092"}, 0)
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, kafkaBatchSize, s.writer.BatchSize)
	})

	t.Run("requires brokers", func(t *testing.T) {
		_, err := NewKafkaSink(nil, 0)
		assert.Error(t, err)
	})
}

func TestRegisteredFactories(t *testing.T) {
	_, err := publisher.NewSink(cfg.SinkConfiguration{Type: "kafka"})
	assert.Error(t, err, "no brokers")

	_, err = publisher.NewSink(cfg.SinkConfiguration{Type: "nats"})
	assert.Error(t, err, "no url")

	s, err := publisher.NewSink(cfg.SinkConfiguration{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemorySink{}, s)
}

func TestSanitizeStreamName(t *testing.T) {
	assert.Equal(t, "livestore_cdc_person", sanitizeStreamName("livestore.cdc.person"))
	assert.Equal(t, "a_b_c", sanitizeStreamName("a*b>c"))
	assert.Equal(t, "person", sanitizeStreamName("person"))
}

func TestMemorySink(t *testing.T) {
	s := &MemorySink{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Publish("livestore.person", "person:1", []byte("{}")))
		}()
	}
	wg.Wait()

	require.NoError(t, s.Publish("livestore.person", "person:1", nil))
	msgs := s.Messages()
	require.Len(t, msgs, 11)
	assert.Nil(t, msgs[10].Value, "tombstone")

	require.NoError(t, s.Close())
	assert.Error(t, s.Publish("t", "k", nil))
}
