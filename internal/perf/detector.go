package perf

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"replay-guard-agent/internal/model"
)

const (
	// MinBadDuration is the duration an entry must exceed to count as slow.
	MinBadDuration = 1000.0
	// MaxBadDuration is the duration above which a single entry stops the session.
	MaxBadDuration = 3000.0
	// WindowSeconds is how far back slow seconds are remembered.
	WindowSeconds = 30
	// MaxSlowSeconds is the number of distinct slow seconds tolerated in the window.
	MaxSlowSeconds = 10
	// MaxSlowSum is the tolerated sum of per-second maxima in the window.
	MaxSlowSum = MaxBadDuration * 5
)

const (
	ReasonUpperLimit = "bad performance: upper limit"
)

type Policy string

const (
	PolicyNone        Policy = "none"
	PolicyUpperLimit  Policy = "upper_limit"
	PolicySlowSeconds Policy = "slow_seconds"
	PolicySlowSum     Policy = "slow_sum"
)

// Decision is the outcome of evaluating one candidate entry.
type Decision struct {
	Policy Policy
	Reason string
}

func (d Decision) Terminate() bool {
	return d.Policy != PolicyNone
}

// Stopper is the recording session the detector guards.
type Stopper interface {
	Stop(reason string)
}

// IsCandidate reports whether an entry is slow enough, and of a kind that
// blocks the page, to be fed to a Detector.
func IsCandidate(e model.Entry) bool {
	if e.Duration <= MinBadDuration {
		return false
	}
	switch e.Kind {
	case model.KindLongTask, model.KindPaint, model.KindEvent:
		return true
	default:
		return false
	}
}

// Detector keeps the longest slow entry per second over a trailing window and
// stops the session once the page has been slow for too long.
//
// A Detector belongs to exactly one session and is not safe for concurrent use;
// callers serialize Observe calls.
type Detector struct {
	stopper Stopper
	logger  *slog.Logger
	verbose bool
	seconds map[int64]float64
}

func NewDetector(stopper Stopper, logger *slog.Logger, verbose bool) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		stopper: stopper,
		logger:  logger,
		verbose: verbose,
		seconds: make(map[int64]float64),
	}
}

// Observe folds a candidate entry into the window and applies the stop
// policies in order. Entries that are not candidates are ignored.
func (d *Detector) Observe(e model.Entry) Decision {
	if !IsCandidate(e) {
		return Decision{Policy: PolicyNone}
	}

	current := e.Second()
	for sec := range d.seconds {
		if sec < current-WindowSeconds {
			delete(d.seconds, sec)
		}
	}

	if prev := d.seconds[current]; e.Duration > prev {
		d.seconds[current] = e.Duration
		if d.verbose {
			d.logger.Warn(fmt.Sprintf("Bad performance detected: %s at second %d took %sms", e.Kind, current, formatMillis(e.Duration)),
				"kind", e.Kind, "second", current, "duration_ms", e.Duration)
		}
	}

	decision := d.evaluate(e)
	if decision.Terminate() && d.stopper != nil {
		d.stopper.Stop(decision.Reason)
	}
	return decision
}

func (d *Detector) evaluate(e model.Entry) Decision {
	if e.Duration > MaxBadDuration {
		return Decision{Policy: PolicyUpperLimit, Reason: ReasonUpperLimit}
	}

	if n := len(d.seconds); n > MaxSlowSeconds {
		return Decision{Policy: PolicySlowSeconds, Reason: fmt.Sprintf("bad performance: %d slow seconds", n)}
	}

	var total float64
	for _, sec := range d.Window() {
		total += d.seconds[sec]
	}
	if total > MaxSlowSum {
		return Decision{Policy: PolicySlowSum, Reason: "bad performance: sum of slow seconds is " + formatMillis(total)}
	}

	return Decision{Policy: PolicyNone}
}

// Window returns the tracked seconds in ascending order.
func (d *Detector) Window() []int64 {
	out := make([]int64, 0, len(d.seconds))
	for sec := range d.seconds {
		out = append(out, sec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SlowestIn returns the longest duration tracked for a second.
func (d *Detector) SlowestIn(second int64) (float64, bool) {
	v, ok := d.seconds[second]
	return v, ok
}

func formatMillis(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
