package model

import "math"

type EntryKind string

const (
	KindElement                EntryKind = "element"
	KindEvent                  EntryKind = "event"
	KindFirstInput             EntryKind = "first-input"
	KindLargestContentfulPaint EntryKind = "largest-contentful-paint"
	KindLayoutShift            EntryKind = "layout-shift"
	KindLongTask               EntryKind = "longtask"
	KindNavigation             EntryKind = "navigation"
	KindPaint                  EntryKind = "paint"
	KindResource               EntryKind = "resource"
)

var entryKinds = []EntryKind{
	KindElement,
	KindEvent,
	KindFirstInput,
	KindLargestContentfulPaint,
	KindLayoutShift,
	KindLongTask,
	KindNavigation,
	KindPaint,
	KindResource,
}

// EntryKinds returns every kind the agent knows how to observe, in registration order.
func EntryKinds() []EntryKind {
	return append([]EntryKind(nil), entryKinds...)
}

func (k EntryKind) Valid() bool {
	for _, known := range entryKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Entry is a single performance measurement reported by the host page.
// StartTime and Duration are milliseconds relative to the navigation origin.
type Entry struct {
	Kind      EntryKind `json:"entry_type"`
	StartTime float64   `json:"start_time"`
	Duration  float64   `json:"duration"`
}

// Second is the whole second of the navigation timeline the entry started in.
func (e Entry) Second() int64 {
	return int64(math.Floor(e.StartTime / 1000))
}
