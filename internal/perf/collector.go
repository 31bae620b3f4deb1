package perf

import "replay-guard-agent/internal/model"

// DefaultRetentionLimit is how many entries a Collector retains before they
// have to be handed off.
const DefaultRetentionLimit = 1000

// Collector is the incremental form of Merge for long-lived sessions. It
// retains at most limit entries between hand-offs and remembers the dedupe
// keys of the last 2*limit accepted entries, so memory and per-batch cost are
// bounded. An entry older than that is no longer recognised as a duplicate.
//
// A Collector is not safe for concurrent use.
type Collector struct {
	limit       int
	entries     []model.Entry
	seen        map[entryKey]struct{}
	navigations map[float64]struct{}
	recent      []model.Entry
	head        int
}

func NewCollector(limit int) *Collector {
	if limit <= 0 {
		limit = DefaultRetentionLimit
	}
	return &Collector{
		limit:       limit,
		seen:        make(map[entryKey]struct{}, 2*limit),
		navigations: make(map[float64]struct{}),
	}
}

// Add appends the entries of batch not seen before and returns them in
// arrival order.
func (c *Collector) Add(batch []model.Entry) []model.Entry {
	var added []model.Entry
	for _, e := range batch {
		if e.Kind == model.KindNavigation {
			if _, dup := c.navigations[e.StartTime]; dup {
				continue
			}
		}
		k := keyOf(e)
		if _, dup := c.seen[k]; dup {
			continue
		}
		c.remember(e, k)
		c.entries = append(c.entries, e)
		added = append(added, e)
	}
	return added
}

func (c *Collector) remember(e model.Entry, k entryKey) {
	c.seen[k] = struct{}{}
	if e.Kind == model.KindNavigation {
		c.navigations[e.StartTime] = struct{}{}
	}
	c.recent = append(c.recent, e)
	for len(c.recent)-c.head > 2*c.limit {
		old := c.recent[c.head]
		delete(c.seen, keyOf(old))
		if old.Kind == model.KindNavigation {
			delete(c.navigations, old.StartTime)
		}
		c.head++
	}
	if c.head > 0 && c.head >= len(c.recent)/2 {
		c.recent = append(c.recent[:0], c.recent[c.head:]...)
		c.head = 0
	}
}

// Full reports whether the retained entries reached the limit.
func (c *Collector) Full() bool {
	return len(c.entries) >= c.limit
}

func (c *Collector) Len() int {
	return len(c.entries)
}

// Entries returns a copy of the retained entries.
func (c *Collector) Entries() []model.Entry {
	return append([]model.Entry(nil), c.entries...)
}

// Take hands the retained entries to the caller. Dedupe keys are kept.
func (c *Collector) Take() []model.Entry {
	out := c.entries
	c.entries = nil
	return out
}

func keyOf(e model.Entry) entryKey {
	return entryKey{kind: e.Kind, startTime: e.StartTime, duration: e.Duration}
}
