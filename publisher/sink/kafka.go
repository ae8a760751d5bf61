package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/livestore/cfg"
	"github.com/maxpert/livestore/publisher"
	"github.com/segmentio/kafka-go"
)

const (
	kafkaBatchSize    = 100
	kafkaBatchBytes   = 1 << 20
	kafkaWriteTimeout = 10 * time.Second
)

func init() {
	publisher.RegisterSink("kafka", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		return NewKafkaSink(config.Brokers, config.BatchSize)
	})
}

// KafkaSink writes each event synchronously to the topic named after its
// entity type. Keys hash to partitions, so one record stays ordered.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a sink for brokers. batchSize <= 0 uses the default.
func NewKafkaSink(brokers []string, batchSize int) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if batchSize <= 0 {
		batchSize = kafkaBatchSize
	}

	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              batchSize,
		BatchBytes:             kafkaBatchBytes,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           kafkaWriteTimeout,
	}}, nil
}

// Publish writes one message. A nil value is a tombstone for key.
func (k *KafkaSink) Publish(topic, key string, value []byte) error {
	err := k.writer.WriteMessages(context.Background(), kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write to %s: %w", topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
