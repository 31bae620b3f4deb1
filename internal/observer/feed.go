package observer

import (
	"fmt"
	"sync"

	"replay-guard-agent/internal/model"
)

// DefaultHistoryLimit bounds how many entries per kind a Feed keeps for
// buffered subscriptions.
const DefaultHistoryLimit = 150

// Feed is an in-process Source. The host pushes entries into it and the Feed
// routes them to the subscriber registered for their kind.
type Feed struct {
	mu           sync.Mutex
	supported    map[model.EntryKind]bool
	historyLimit int
	history      map[model.EntryKind][]model.Entry
	subs         map[model.EntryKind]*feedSubscription
	closed       bool
}

type feedSubscription struct {
	feed *Feed
	kind model.EntryKind
	fn   BatchFunc
}

// NewFeed returns a Feed for a host that can report the given kinds. An empty
// list means every known kind is supported.
func NewFeed(supported []model.EntryKind, historyLimit int) *Feed {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if len(supported) == 0 {
		supported = model.EntryKinds()
	}
	set := make(map[model.EntryKind]bool, len(supported))
	for _, kind := range supported {
		if kind.Valid() {
			set[kind] = true
		}
	}
	return &Feed{
		supported:    set,
		historyLimit: historyLimit,
		history:      make(map[model.EntryKind][]model.Entry),
		subs:         make(map[model.EntryKind]*feedSubscription),
	}
}

func (f *Feed) Subscribe(kind model.EntryKind, buffered bool, fn BatchFunc) (Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe %s: nil batch func", kind)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrSourceClosed
	}
	if !f.supported[kind] {
		f.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", kind, ErrUnsupportedKind)
	}
	if _, exists := f.subs[kind]; exists {
		f.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", kind, ErrAlreadySubscribed)
	}
	sub := &feedSubscription{feed: f, kind: kind, fn: fn}
	f.subs[kind] = sub
	var replay []model.Entry
	if buffered {
		replay = append(replay, f.history[kind]...)
	}
	f.mu.Unlock()

	if len(replay) > 0 {
		fn(replay)
	}
	return sub, nil
}

// Push records a batch from the host and delivers it to the current
// subscribers in push order: each run of consecutive entries of one kind goes
// to that kind's subscriber as one batch. Unknown and unsupported kinds are
// dropped.
func (f *Feed) Push(batch []model.Entry) {
	if len(batch) == 0 {
		return
	}

	type delivery struct {
		fn      BatchFunc
		entries []model.Entry
	}
	var deliveries []delivery

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	var last *feedSubscription
	for _, e := range batch {
		if !f.supported[e.Kind] {
			continue
		}
		f.remember(e)
		sub, ok := f.subs[e.Kind]
		if !ok {
			continue
		}
		if sub == last {
			d := &deliveries[len(deliveries)-1]
			d.entries = append(d.entries, e)
			continue
		}
		deliveries = append(deliveries, delivery{fn: sub.fn, entries: []model.Entry{e}})
		last = sub
	}
	f.mu.Unlock()

	for _, d := range deliveries {
		d.fn(d.entries)
	}
}

// remember appends to the per-kind history, dropping the oldest entry once
// the limit is reached. Caller holds f.mu.
func (f *Feed) remember(e model.Entry) {
	h := f.history[e.Kind]
	if len(h) >= f.historyLimit {
		h = append(h[:0:0], h[len(h)-f.historyLimit+1:]...)
	}
	f.history[e.Kind] = append(h, e)
}

// Close drops every subscription; nothing is delivered afterwards.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.subs = make(map[model.EntryKind]*feedSubscription)
	f.history = make(map[model.EntryKind][]model.Entry)
}

func (s *feedSubscription) Unsubscribe() {
	f := s.feed
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.subs[s.kind]; ok && cur == s {
		delete(f.subs, s.kind)
	}
}
