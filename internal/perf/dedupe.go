package perf

import "replay-guard-agent/internal/model"

type entryKey struct {
	kind      model.EntryKind
	startTime float64
	duration  float64
}

// Dedupe merges incoming entries into existing, keeping first-seen order and
// dropping duplicates. Neither input is modified.
//
// Two entries are duplicates when kind, start time and duration are all equal.
// Navigation entries are re-emitted by some hosts with slightly different
// durations, so only the first navigation entry per start time is kept.
func Dedupe(existing, incoming []model.Entry) []model.Entry {
	merged, _ := Merge(existing, incoming)
	return merged
}

// Merge is Dedupe that also returns the incoming entries that were not
// already present, in arrival order.
func Merge(existing, incoming []model.Entry) (merged, added []model.Entry) {
	if len(incoming) == 0 {
		return existing, nil
	}

	seen := make(map[entryKey]struct{}, len(existing)+len(incoming))
	navigations := make(map[float64]struct{})
	merged = make([]model.Entry, 0, len(existing)+len(incoming))

	keep := func(e model.Entry) bool {
		if e.Kind == model.KindNavigation {
			if _, dup := navigations[e.StartTime]; dup {
				return false
			}
			navigations[e.StartTime] = struct{}{}
		}
		k := keyOf(e)
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
		merged = append(merged, e)
		return true
	}

	for _, e := range existing {
		keep(e)
	}
	for _, e := range incoming {
		if keep(e) {
			added = append(added, e)
		}
	}
	return merged, added
}
