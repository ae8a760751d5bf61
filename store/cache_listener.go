package store

import (
	"github.com/maxpert/livestore/notify"
	"github.com/maxpert/livestore/telemetry"
)

// applyToCache keeps the identity map in step with committed batches. It
// runs before live queries see the batch.
func (s *Store) applyToCache(batch notify.Batch) error {
	for _, ev := range batch.Events {
		switch {
		case ev.Op.Has(notify.OpBulkDelete) || ev.Op.Has(notify.OpBulkUpdate):
			s.cache.InvalidateType(ev.Type, batch.Seq)
		default:
			for _, ch := range ev.Changes {
				if ch.Values == nil {
					s.cache.Evict(ev.Type, ch.Key, batch.Seq)
				} else if ch.Record != nil {
					s.cache.Put(ch.Record, batch.Seq)
				}
			}
		}

		// Cascades remove rows of related types without their own events
		if ev.Op.Has(notify.OpDelete) || ev.Op.Has(notify.OpBulkDelete) {
			for _, related := range s.model.Affected(ev.Type) {
				if related != ev.Type {
					s.cache.InvalidateType(related, batch.Seq)
				}
			}
		}
	}

	telemetry.CachedRecords.Set(float64(s.cache.Len()))
	return nil
}
