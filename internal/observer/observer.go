package observer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"replay-guard-agent/internal/metrics"
	"replay-guard-agent/internal/model"
	"replay-guard-agent/internal/perf"
)

const defaultInboxSize = 64

type Options struct {
	// Kinds to subscribe to; defaults to every known kind.
	Kinds []model.EntryKind

	// Buffered asks the source to replay entries recorded before subscribing.
	Buffered bool

	InboxSize int

	// RetentionLimit bounds the retained sequence. Reaching it hands the
	// sequence to Handoff, which runs on the dispatch goroutine. Without a
	// Handoff the sequence is dropped.
	RetentionLimit int
	Handoff        func([]model.Entry)

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Observer subscribes to a Source on behalf of one recording session. Batches
// are processed one at a time, in arrival order, by a single dispatch
// goroutine: each batch is deduplicated against the entries already seen and
// the fresh slow entries are fed to the session's Detector.
type Observer struct {
	source   Source
	detector *perf.Detector
	metrics  *metrics.Metrics
	logger   *slog.Logger
	kinds    []model.EntryKind
	buffered bool
	handoff  func([]model.Entry)

	inbox       chan command
	quit        chan struct{}
	done        chan struct{}
	started     atomic.Bool
	startOnce   sync.Once
	disposeOnce sync.Once

	subsMu sync.Mutex
	subs   []Subscription

	// owned by the dispatch goroutine
	collector *perf.Collector
	halted    bool
}

type command struct {
	batch []model.Entry
	reply chan []model.Entry
	take  bool
}

func New(source Source, detector *perf.Detector, opts Options) *Observer {
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}
	if len(opts.Kinds) == 0 {
		opts.Kinds = model.EntryKinds()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Observer{
		source:   source,
		detector: detector,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		kinds:    append([]model.EntryKind(nil), opts.Kinds...),
		buffered: opts.Buffered,
		handoff:  opts.Handoff,
		inbox:    make(chan command, opts.InboxSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),

		collector: perf.NewCollector(opts.RetentionLimit),
	}
}

// Start launches the dispatch loop and subscribes to every kind separately.
// A kind the source rejects is logged and reported in its Registration; the
// other kinds are unaffected.
func (o *Observer) Start() []Registration {
	regs := make([]Registration, 0, len(o.kinds))
	select {
	case <-o.quit:
		for _, kind := range o.kinds {
			regs = append(regs, Registration{Kind: kind, Err: ErrObserverClosed})
		}
		return regs
	default:
	}

	o.startOnce.Do(func() {
		o.started.Store(true)
		go o.loop()
	})

	for _, kind := range o.kinds {
		sub, err := o.source.Subscribe(kind, o.buffered, o.enqueue)
		if err != nil {
			o.logger.Debug("entry kind not observed", "kind", kind, "error", err)
			regs = append(regs, Registration{Kind: kind, Err: err})
			continue
		}
		if !o.track(sub) {
			regs = append(regs, Registration{Kind: kind, Err: ErrObserverClosed})
			continue
		}
		regs = append(regs, Registration{Kind: kind})
	}
	return regs
}

// track keeps sub for Dispose. If Dispose already ran, sub is released at
// once and track reports false.
func (o *Observer) track(sub Subscription) bool {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	select {
	case <-o.quit:
		sub.Unsubscribe()
		return false
	default:
	}
	o.subs = append(o.subs, sub)
	return true
}

func (o *Observer) enqueue(batch []model.Entry) {
	if len(batch) == 0 {
		return
	}
	select {
	case <-o.quit:
		return
	default:
	}
	select {
	case o.inbox <- command{batch: batch}:
	case <-o.quit:
	}
}

func (o *Observer) loop() {
	defer close(o.done)
	for {
		select {
		case <-o.quit:
			return
		case cmd := <-o.inbox:
			if cmd.reply != nil {
				cmd.reply <- o.snapshot(cmd.take)
				continue
			}
			o.process(cmd.batch)
		}
	}
}

func (o *Observer) process(batch []model.Entry) {
	for _, e := range batch {
		o.metrics.EntryObserved(string(e.Kind))
	}
	added := o.collector.Add(batch)
	o.metrics.DuplicatesDropped(len(batch) - len(added))
	if o.collector.Full() {
		o.handOff(o.collector.Take())
	}

	if o.halted || o.detector == nil {
		return
	}
	for _, e := range added {
		if !perf.IsCandidate(e) {
			continue
		}
		o.metrics.BadEntry(string(e.Kind))
		decision := o.detector.Observe(e)
		if decision.Terminate() {
			o.metrics.GuardStop(string(decision.Policy))
			o.logger.Info("performance guard stopping session", "policy", decision.Policy, "reason", decision.Reason)
			o.halted = true
			return
		}
	}
}

func (o *Observer) handOff(entries []model.Entry) {
	if o.handoff == nil {
		o.logger.Debug("retained entries dropped at retention limit", "count", len(entries))
		return
	}
	o.handoff(entries)
}

// snapshot runs on the dispatch goroutine.
func (o *Observer) snapshot(take bool) []model.Entry {
	if take {
		return o.collector.Take()
	}
	return o.collector.Entries()
}

// Entries returns a copy of the deduplicated sequence, including every batch
// delivered before the call.
func (o *Observer) Entries(ctx context.Context) ([]model.Entry, error) {
	return o.request(ctx, false)
}

// Flush hands the deduplicated sequence to the caller and starts a new one.
func (o *Observer) Flush(ctx context.Context) ([]model.Entry, error) {
	return o.request(ctx, true)
}

func (o *Observer) request(ctx context.Context, take bool) ([]model.Entry, error) {
	reply := make(chan []model.Entry, 1)
	select {
	case o.inbox <- command{reply: reply, take: take}:
	case <-o.quit:
		return nil, ErrObserverClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case entries := <-reply:
		return entries, nil
	case <-o.done:
		select {
		case entries := <-reply:
			return entries, nil
		default:
			return nil, ErrObserverClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dispose unsubscribes from the source and stops the dispatch loop. Once it
// returns no batch is processed any more. It must not be called from a
// BatchFunc or from the dispatch goroutine.
func (o *Observer) Dispose() {
	o.disposeOnce.Do(func() {
		o.subsMu.Lock()
		subs := o.subs
		o.subs = nil
		close(o.quit)
		o.subsMu.Unlock()
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		if o.started.Load() {
			<-o.done
		}
	})
}
