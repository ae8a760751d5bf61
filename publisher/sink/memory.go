package sink

import (
	"errors"
	"sync"

	"github.com/maxpert/livestore/cfg"
	"github.com/maxpert/livestore/publisher"
)

func init() {
	publisher.RegisterSink("memory", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		return &MemorySink{}, nil
	})
}

var errSinkClosed = errors.New("sink closed")

// MemorySink keeps published messages in memory; for tests and local runs
type MemorySink struct {
	mu       sync.Mutex
	messages []Message
	closed   bool
}

// Message is one message held by a MemorySink
type Message struct {
	Topic string
	Key   string
	Value []byte
}

func (m *MemorySink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errSinkClosed
	}
	m.messages = append(m.messages, Message{Topic: topic, Key: key, Value: value})
	return nil
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Messages returns a copy of everything published so far
func (m *MemorySink) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}
