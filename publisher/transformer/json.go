package transformer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/maxpert/livestore/publisher"
)

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer {
		return JSONTransformer{}
	})
}

// JSONTransformer renders events as a flat JSON object
type JSONTransformer struct{}

type jsonEvent struct {
	Seq      uint64         `json:"seq"`
	BatchSeq uint64         `json:"batch_seq"`
	TxnID    string         `json:"txn_id,omitempty"`
	Type     string         `json:"type"`
	Op       string         `json:"op"`
	Key      string         `json:"key,omitempty"`
	Values   map[string]any `json:"values,omitempty"`
	Affected int64          `json:"affected"`
	Time     time.Time      `json:"committed_at"`
	Instance string         `json:"instance,omitempty"`
}

func (JSONTransformer) Transform(ev publisher.Event, _ publisher.TableSchema) ([]byte, error) {
	values, err := publisher.DecodeValues(ev.After)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(jsonEvent{
		Seq:      ev.SeqNum,
		BatchSeq: ev.BatchSeq,
		TxnID:    ev.TxnID,
		Type:     ev.EntityType,
		Op:       ev.Op.String(),
		Key:      ev.Key,
		Values:   values,
		Affected: ev.Affected,
		Time:     time.UnixMilli(ev.CommitTS).UTC(),
		Instance: ev.InstanceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

func (JSONTransformer) Tombstone(key string) []byte {
	return nil
}
