// Package transformer provides the publisher.Transformer formats: "json"
// (flat envelope) and "debezium" (Debezium JSON with schema).
package transformer

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/notify"
	"github.com/maxpert/livestore/publisher"
)

func init() {
	publisher.RegisterTransformer("debezium", func() publisher.Transformer {
		return NewDebeziumTransformer()
	})
}

// DebeziumTransformer renders events as Debezium JSON messages with an
// embedded schema, readable by Kafka Connect style consumers. Envelope
// schemas are built once per entity type.
type DebeziumTransformer struct {
	connectorName string
	schemaCache   sync.Map // entity type -> *debeziumEnvelopeSchema
}

func NewDebeziumTransformer() *DebeziumTransformer {
	return &DebeziumTransformer{connectorName: "livestore"}
}

type debeziumEnvelopeSchema struct {
	Type   string                `json:"type"`
	Name   string                `json:"name"`
	Fields []debeziumSchemaField `json:"fields"`
}

type debeziumSchemaField struct {
	Field    string                `json:"field"`
	Type     string                `json:"type"`
	Optional bool                  `json:"optional,omitempty"`
	Name     string                `json:"name,omitempty"`
	Fields   []debeziumSchemaField `json:"fields,omitempty"`
}

type debeziumMessage struct {
	Schema  *debeziumEnvelopeSchema `json:"schema"`
	Payload debeziumPayload         `json:"payload"`
}

type debeziumPayload struct {
	Before map[string]any `json:"before"`
	After  map[string]any `json:"after"`
	Op     string         `json:"op"`
	TsMs   int64          `json:"ts_ms"`
	Source debeziumSource `json:"source"`
}

type debeziumSource struct {
	Connector string `json:"connector"`
	Instance  string `json:"instance"`
	Table     string `json:"table"`
	TxID      string `json:"txId,omitempty"`
	LSN       uint64 `json:"lsn"`
	Rows      int64  `json:"rows"`
}

// Transform renders one event. Deletes carry the key in "before".
func (d *DebeziumTransformer) Transform(ev publisher.Event, schema publisher.TableSchema) ([]byte, error) {
	envelope := d.getOrBuildSchema(ev.EntityType, schema)

	after, err := publisher.DecodeValues(ev.After)
	if err != nil {
		return nil, err
	}
	normalizeTimes(after)

	var before map[string]any
	if ev.Op.Has(notify.OpDelete) {
		before = map[string]any{keyColumn(schema): ev.Key}
	}

	msg := debeziumMessage{
		Schema: envelope,
		Payload: debeziumPayload{
			Before: before,
			After:  after,
			Op:     mapOperation(ev.Op),
			TsMs:   ev.CommitTS,
			Source: debeziumSource{
				Connector: d.connectorName,
				Instance:  ev.InstanceID,
				Table:     ev.EntityType,
				TxID:      ev.TxnID,
				LSN:       ev.SeqNum,
				Rows:      ev.Affected,
			},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// Tombstone is a null value, the log compaction delete marker
func (d *DebeziumTransformer) Tombstone(key string) []byte {
	return nil
}

// mapOperation maps mutation flags to Debezium op codes. Bulk statements
// have no row images, so they map to the row op of the same kind.
func mapOperation(op notify.Op) string {
	switch {
	case op.Has(notify.OpInsert):
		return "c"
	case op.Has(notify.OpDelete), op.Has(notify.OpBulkDelete):
		return "d"
	default:
		return "u"
	}
}

func (d *DebeziumTransformer) getOrBuildSchema(entityType string, schema publisher.TableSchema) *debeziumEnvelopeSchema {
	if cached, ok := d.schemaCache.Load(entityType); ok {
		return cached.(*debeziumEnvelopeSchema)
	}
	built := buildEnvelopeSchema(entityType, schema)
	actual, _ := d.schemaCache.LoadOrStore(entityType, built)
	return actual.(*debeziumEnvelopeSchema)
}

func buildEnvelopeSchema(entityType string, schema publisher.TableSchema) *debeziumEnvelopeSchema {
	valueName := "livestore." + entityType + ".Value"

	columns := make([]debeziumSchemaField, len(schema.Columns))
	for i, col := range schema.Columns {
		typ, name := mapKind(col.Kind)
		columns[i] = debeziumSchemaField{
			Field:    col.Name,
			Type:     typ,
			Name:     name,
			Optional: col.Nullable,
		}
	}

	return &debeziumEnvelopeSchema{
		Type: "struct",
		Name: "livestore." + entityType + ".Envelope",
		Fields: []debeziumSchemaField{
			{Field: "before", Type: "struct", Optional: true, Name: valueName, Fields: columns},
			{Field: "after", Type: "struct", Optional: true, Name: valueName, Fields: columns},
			{Field: "op", Type: "string"},
			{Field: "ts_ms", Type: "int64"},
			{
				Field: "source",
				Type:  "struct",
				Name:  "io.livestore.Source",
				Fields: []debeziumSchemaField{
					{Field: "connector", Type: "string"},
					{Field: "instance", Type: "string"},
					{Field: "table", Type: "string"},
					{Field: "txId", Type: "string", Optional: true},
					{Field: "lsn", Type: "int64"},
					{Field: "rows", Type: "int64"},
				},
			},
		},
	}
}

// mapKind returns the Debezium type and, for times, the semantic type name
func mapKind(k entity.Kind) (string, string) {
	switch k {
	case entity.KindInteger:
		return "int64", ""
	case entity.KindReal:
		return "double", ""
	case entity.KindBlob:
		return "bytes", ""
	case entity.KindBool:
		return "boolean", ""
	case entity.KindTime:
		return "int64", "io.debezium.time.NanoTimestamp"
	default:
		return "string", ""
	}
}

func keyColumn(schema publisher.TableSchema) string {
	for _, c := range schema.Columns {
		if c.IsPK {
			return c.Name
		}
	}
	return "key"
}

// normalizeTimes renders time values as unix nanoseconds
func normalizeTimes(row map[string]any) {
	for k, v := range row {
		if t, ok := v.(time.Time); ok {
			row[k] = t.UnixNano()
		}
	}
}
