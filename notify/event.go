package notify

import (
	"strings"
	"time"

	"github.com/maxpert/livestore/entity"
)

// Op is a set of mutation kinds. A single statement produces exactly one
// flag; a collapsed transaction event carries every flag it merged.
type Op uint8

const (
	OpInsert Op = 1 << iota
	OpUpdate
	OpDelete
	OpBulkDelete
	OpBulkUpdate
)

var opNames = []struct {
	op   Op
	name string
}{
	{OpInsert, "insert"},
	{OpUpdate, "update"},
	{OpDelete, "delete"},
	{OpBulkDelete, "bulk_delete"},
	{OpBulkUpdate, "bulk_update"},
}

// Has reports whether every flag in f is set
func (o Op) Has(f Op) bool {
	return o&f == f
}

// String joins flag names with "|"
func (o Op) String() string {
	if o == 0 {
		return "none"
	}
	var parts []string
	for _, n := range opNames {
		if o.Has(n.op) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Label is a bounded metric label: the flag name, or "mixed" for unions
func (o Op) Label() string {
	for _, n := range opNames {
		if o == n.op {
			return n.name
		}
	}
	return "mixed"
}

// Change is one single-row write carried by an event. Values is nil for deletes.
type Change struct {
	Op     Op
	Key    entity.Value
	Values map[string]entity.Value
	Record *entity.Record
}

// Event reports that rows of one entity type changed
type Event struct {
	Type     string
	Op       Op
	Affected int64
	Changes  []Change
}

// Batch is the unit of publication: one autocommit statement or one
// committed transaction. Seq is assigned by the Hub.
type Batch struct {
	Seq         uint64
	TxnID       string
	Events      []Event
	CommittedAt time.Time
}

// Types returns the distinct entity types in the batch, in first-seen order
func (b Batch) Types() []string {
	seen := make(map[string]struct{}, len(b.Events))
	out := make([]string, 0, len(b.Events))
	for _, ev := range b.Events {
		if _, ok := seen[ev.Type]; ok {
			continue
		}
		seen[ev.Type] = struct{}{}
		out = append(out, ev.Type)
	}
	return out
}
