package publisher

import (
	"fmt"

	"github.com/maxpert/livestore/encoding"
	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/notify"
)

// ConvertBatch flattens a committed batch into events: one per row change
// and one summary for the rows changed by bulk statements
func ConvertBatch(batch notify.Batch, instanceID string) ([]Event, error) {
	commitTS := batch.CommittedAt.UnixMilli()
	events := make([]Event, 0, len(batch.Events))

	for _, ev := range batch.Events {
		for _, ch := range ev.Changes {
			after, err := encodeValues(ch.Values)
			if err != nil {
				return nil, fmt.Errorf("encode %s %s: %w", ev.Type, ch.Key, err)
			}
			events = append(events, Event{
				BatchSeq:   batch.Seq,
				TxnID:      batch.TxnID,
				EntityType: ev.Type,
				Op:         ch.Op,
				Key:        ch.Key.String(),
				After:      after,
				Affected:   1,
				CommitTS:   commitTS,
				InstanceID: instanceID,
			})
		}

		bulk := ev.Op & (notify.OpBulkDelete | notify.OpBulkUpdate)
		remaining := ev.Affected - int64(len(ev.Changes))
		if bulk == 0 || remaining <= 0 {
			continue
		}
		events = append(events, Event{
			BatchSeq:   batch.Seq,
			TxnID:      batch.TxnID,
			EntityType: ev.Type,
			Op:         bulk,
			Affected:   remaining,
			CommitTS:   commitTS,
			InstanceID: instanceID,
		})
	}

	return events, nil
}

func encodeValues(vals map[string]entity.Value) (map[string][]byte, error) {
	if vals == nil {
		return nil, nil
	}
	out := make(map[string][]byte, len(vals))
	for name, v := range vals {
		b, err := encoding.Marshal(v.Native())
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}

// DecodeValues decodes the msgpack encoded values of an event
func DecodeValues(data map[string][]byte) (map[string]any, error) {
	if data == nil {
		return nil, nil
	}
	out := make(map[string]any, len(data))
	for name, b := range data {
		var v any
		if err := encoding.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("decode column %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// ModelSchemas serves table schemas from an entity model
type ModelSchemas struct {
	Model *entity.Model
}

func (m ModelSchemas) GetSchema(entityType string) (TableSchema, error) {
	t, ok := m.Model.Type(entityType)
	if !ok {
		return TableSchema{}, fmt.Errorf("unknown entity type %s", entityType)
	}
	schema := TableSchema{Columns: make([]ColumnInfo, len(t.Fields))}
	for i, f := range t.Fields {
		schema.Columns[i] = ColumnInfo{
			Name:     f.Name,
			Kind:     f.Kind,
			Nullable: f.Nullable,
			IsPK:     f.Key,
		}
	}
	return schema, nil
}
