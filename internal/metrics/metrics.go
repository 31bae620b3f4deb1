package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the guard's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	entriesObserved *prometheus.CounterVec
	duplicates      prometheus.Counter
	badEntries      *prometheus.CounterVec
	guardStops      *prometheus.CounterVec
	sessionStops    *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		entriesObserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay_guard",
			Name:      "entries_observed_total",
			Help:      "Performance entries received from hosts",
		}, []string{"kind"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay_guard",
			Name:      "entries_duplicate_total",
			Help:      "Performance entries dropped as duplicates",
		}),
		badEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay_guard",
			Name:      "bad_entries_total",
			Help:      "Entries slow enough to be evaluated by the degradation detector",
		}, []string{"kind"}),
		guardStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay_guard",
			Name:      "guard_stops_total",
			Help:      "Sessions stopped by the degradation detector, by policy",
		}, []string{"policy"}),
		sessionStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay_guard",
			Name:      "session_stops_total",
			Help:      "Recording sessions stopped, by cause",
		}, []string{"cause"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "replay_guard",
			Name:      "sessions_active",
			Help:      "Recording sessions currently active",
		}),
	}
	if reg == nil {
		return m
	}

	collectors := []prometheus.Collector{m.entriesObserved, m.duplicates, m.badEntries, m.guardStops, m.sessionStops, m.activeSessions}
	for i, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				m.adopt(i, already.ExistingCollector)
			}
		}
	}
	return m
}

// adopt reuses a collector that was registered by an earlier New call on the same registry.
func (m *Metrics) adopt(index int, existing prometheus.Collector) {
	switch index {
	case 0:
		if c, ok := existing.(*prometheus.CounterVec); ok {
			m.entriesObserved = c
		}
	case 1:
		if c, ok := existing.(prometheus.Counter); ok {
			m.duplicates = c
		}
	case 2:
		if c, ok := existing.(*prometheus.CounterVec); ok {
			m.badEntries = c
		}
	case 3:
		if c, ok := existing.(*prometheus.CounterVec); ok {
			m.guardStops = c
		}
	case 4:
		if c, ok := existing.(*prometheus.CounterVec); ok {
			m.sessionStops = c
		}
	case 5:
		if g, ok := existing.(prometheus.Gauge); ok {
			m.activeSessions = g
		}
	}
}

func (m *Metrics) EntryObserved(kind string) {
	if m == nil {
		return
	}
	m.entriesObserved.WithLabelValues(kind).Inc()
}

func (m *Metrics) DuplicatesDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicates.Add(float64(n))
}

func (m *Metrics) BadEntry(kind string) {
	if m == nil {
		return
	}
	m.badEntries.WithLabelValues(kind).Inc()
}

func (m *Metrics) GuardStop(policy string) {
	if m == nil {
		return
	}
	m.guardStops.WithLabelValues(policy).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionStopped(cause string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionStops.WithLabelValues(cause).Inc()
}
