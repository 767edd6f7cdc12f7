package chat

import (
	"sort"
	"time"
)

// proximityWindow is the content+timestamp matching window used to collapse
// duplicate deliveries — typically an optimistic record meeting its
// server-assigned echo under a different id.
const proximityWindow = 5 * time.Second

// Merge combines confirmed and optimistic messages into one duplicate-free
// sequence sorted ascending by timestamp. An entry is dropped when an earlier
// entry (confirmed first, then optimistic, in input order) shares its id, or
// shares identical content with a timestamp within the proximity window.
//
// Merge is pure and stable: ties keep input order, inputs are never mutated.
// The scan is quadratic, which is fine for per-session message counts.
func Merge(confirmed, optimistic []Message) []Message {
	combined := make([]Message, 0, len(confirmed)+len(optimistic))
	combined = append(combined, confirmed...)
	combined = append(combined, optimistic...)

	seen := make(map[string]struct{}, len(combined))
	kept := make([]Message, 0, len(combined))
	for _, m := range combined {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		if hasNearDuplicate(kept, m) {
			continue
		}
		seen[m.ID] = struct{}{}
		kept = append(kept, m)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Timestamp.Before(kept[j].Timestamp)
	})
	return kept
}

func hasNearDuplicate(kept []Message, m Message) bool {
	for _, k := range kept {
		if k.Content == m.Content && withinWindow(k.Timestamp, m.Timestamp) {
			return true
		}
	}
	return false
}

func withinWindow(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= proximityWindow
}
