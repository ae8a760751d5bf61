package coordinator

import "github.com/maxpert/livestore/notify"

// Collapse merges buffered events into one event per entity type, in the
// order each type was first written. Op is the union of the merged flags,
// Affected the sum of their counts, and Changes are concatenated in order.
func Collapse(events []notify.Event) []notify.Event {
	if len(events) == 0 {
		return nil
	}

	index := make(map[string]int, len(events))
	out := make([]notify.Event, 0, len(events))

	for _, ev := range events {
		i, ok := index[ev.Type]
		if !ok {
			index[ev.Type] = len(out)
			merged := notify.Event{Type: ev.Type, Op: ev.Op, Affected: ev.Affected}
			if len(ev.Changes) > 0 {
				merged.Changes = append([]notify.Change(nil), ev.Changes...)
			}
			out = append(out, merged)
			continue
		}

		out[i].Op |= ev.Op
		out[i].Affected += ev.Affected
		out[i].Changes = append(out[i].Changes, ev.Changes...)
	}

	return out
}
