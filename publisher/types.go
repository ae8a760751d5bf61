package publisher

import (
	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/notify"
)

// Event is one exported mutation. Row events carry the written key and,
// except for deletes, the row values. Bulk events carry only the count.
type Event struct {
	SeqNum     uint64            `msgpack:"seq"`   // Publish log position
	BatchSeq   uint64            `msgpack:"bseq"`  // Hub sequence of the committing batch
	TxnID      string            `msgpack:"txn"`   // Transaction ID, empty for autocommit
	EntityType string            `msgpack:"type"`  // Entity type name
	Op         notify.Op         `msgpack:"op"`    // Single flag for rows, bulk flags for summaries
	Key        string            `msgpack:"key"`   // Row key, empty for bulk events
	After      map[string][]byte `msgpack:"after"` // msgpack encoded values, nil for deletes
	Affected   int64             `msgpack:"n"`     // Rows affected
	CommitTS   int64             `msgpack:"ts"`    // Commit timestamp (unix ms)
	InstanceID string            `msgpack:"inst"`  // Originating store instance
}

// IsDelete reports whether the event removed rows
func (e Event) IsDelete() bool {
	return e.Op.Has(notify.OpDelete) || e.Op.Has(notify.OpBulkDelete)
}

// Sink represents a destination for events (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends an event to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts events to sink-specific formats
type Transformer interface {
	// Transform converts an event to bytes for publishing
	Transform(event Event, schema TableSchema) ([]byte, error)
	// Tombstone creates a tombstone/delete marker for the given key
	Tombstone(key string) []byte
}

// Filter determines whether an event should be published
type Filter interface {
	Match(entityType string) bool
}

// SchemaProvider resolves the column layout of an entity type
type SchemaProvider interface {
	GetSchema(entityType string) (TableSchema, error)
}

// TableSchema holds column metadata for an entity type
type TableSchema struct {
	Columns []ColumnInfo
}

// ColumnInfo represents metadata for a single column
type ColumnInfo struct {
	Name     string
	Kind     entity.Kind
	Nullable bool
	IsPK     bool
}
