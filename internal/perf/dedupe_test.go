package perf

import (
	"reflect"
	"testing"

	"replay-guard-agent/internal/model"
)

func entry(kind model.EntryKind, start, duration float64) model.Entry {
	return model.Entry{Kind: kind, StartTime: start, Duration: duration}
}

func TestDedupeKeepsFirstSeenOrder(t *testing.T) {
	existing := []model.Entry{
		entry(model.KindResource, 10, 5),
		entry(model.KindPaint, 20, 1),
	}
	incoming := []model.Entry{
		entry(model.KindLongTask, 5, 60),
		entry(model.KindPaint, 20, 1),
		entry(model.KindResource, 30, 2),
		entry(model.KindLongTask, 5, 60),
	}

	got := Dedupe(existing, incoming)
	want := []model.Entry{
		entry(model.KindResource, 10, 5),
		entry(model.KindPaint, 20, 1),
		entry(model.KindLongTask, 5, 60),
		entry(model.KindResource, 30, 2),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected merge result\n got: %+v\nwant: %+v", got, want)
	}
}

func TestDedupeDoesNotMutateInputs(t *testing.T) {
	existing := []model.Entry{entry(model.KindResource, 10, 5)}
	incoming := []model.Entry{entry(model.KindResource, 10, 5), entry(model.KindPaint, 11, 3)}
	existingCopy := append([]model.Entry(nil), existing...)
	incomingCopy := append([]model.Entry(nil), incoming...)

	_ = Dedupe(existing, incoming)

	if !reflect.DeepEqual(existing, existingCopy) {
		t.Fatalf("existing sequence was modified: %+v", existing)
	}
	if !reflect.DeepEqual(incoming, incomingCopy) {
		t.Fatalf("incoming batch was modified: %+v", incoming)
	}
}

func TestDedupeEmptyBatchIsNoop(t *testing.T) {
	existing := []model.Entry{
		entry(model.KindPaint, 1, 1),
		entry(model.KindEvent, 2, 2),
	}
	for _, batch := range [][]model.Entry{nil, {}} {
		got := Dedupe(existing, batch)
		if !reflect.DeepEqual(got, existing) {
			t.Fatalf("expected unchanged sequence, got %+v", got)
		}
	}
	if got := Dedupe(nil, nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %+v", got)
	}
}

func TestDedupeSubsetIsIdempotent(t *testing.T) {
	seq := Dedupe(nil, []model.Entry{
		entry(model.KindResource, 1, 10),
		entry(model.KindLongTask, 2, 1200),
		entry(model.KindPaint, 3, 4),
		entry(model.KindEvent, 4, 16),
	})

	subsets := [][]model.Entry{
		seq[:1],
		seq[1:3],
		{seq[3], seq[0]},
		seq,
	}
	for i, subset := range subsets {
		got := Dedupe(seq, subset)
		if !reflect.DeepEqual(got, seq) {
			t.Fatalf("subset %d: sequence changed\n got: %+v\nwant: %+v", i, got, seq)
		}
	}
}

func TestDedupeExactEquality(t *testing.T) {
	existing := []model.Entry{entry(model.KindResource, 100, 20)}
	incoming := []model.Entry{
		entry(model.KindResource, 100, 20.0001),
		entry(model.KindResource, 100.0001, 20),
		entry(model.KindPaint, 100, 20),
	}

	got := Dedupe(existing, incoming)
	if len(got) != 4 {
		t.Fatalf("expected near-equal entries to be kept, got %d entries: %+v", len(got), got)
	}
}

func TestDedupeNavigationKeepsOnePerStartTime(t *testing.T) {
	existing := []model.Entry{entry(model.KindNavigation, 0, 512.5)}
	incoming := []model.Entry{
		entry(model.KindNavigation, 0, 514),
		entry(model.KindNavigation, 0, 512.5),
		entry(model.KindNavigation, 2500, 300),
		entry(model.KindNavigation, 2500, 301),
	}

	got := Dedupe(existing, incoming)
	want := []model.Entry{
		entry(model.KindNavigation, 0, 512.5),
		entry(model.KindNavigation, 2500, 300),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected navigation merge\n got: %+v\nwant: %+v", got, want)
	}
}

func TestMergeReportsOnlyNewEntries(t *testing.T) {
	existing := []model.Entry{entry(model.KindLongTask, 0, 1500)}
	incoming := []model.Entry{
		entry(model.KindLongTask, 0, 1500),
		entry(model.KindLongTask, 1000, 1500),
		entry(model.KindLongTask, 1000, 1500),
	}

	merged, added := Merge(existing, incoming)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged entries, got %d", len(merged))
	}
	if len(added) != 1 || added[0] != entry(model.KindLongTask, 1000, 1500) {
		t.Fatalf("unexpected added entries: %+v", added)
	}
}
