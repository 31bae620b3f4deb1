package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"replay-guard-agent/internal/model"
)

type State int32

const (
	StateActive State = iota
	StateTerminating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopFunc is a teardown hook run once when the session stops.
type StopFunc func(cause model.StopCause, reason string)

// Session is one recording session. It moves from active to terminating on
// the first stop request and to stopped once its teardown hooks have run.
// Later stop requests are ignored, so the first reason is the one recorded.
type Session struct {
	id        string
	startedAt time.Time
	logger    *slog.Logger

	state        atomic.Int32
	lastActivity atomic.Int64

	mu        sync.Mutex
	cause     model.StopCause
	reason    string
	stoppedAt time.Time
	hooks     []StopFunc
	now       func() time.Time

	done chan struct{}
}

func New(id string, now func() time.Time, logger *slog.Logger) *Session {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	started := now().UTC()
	s := &Session{
		id:        id,
		startedAt: started,
		logger:    logger.With("session_id", id),
		now:       now,
		done:      make(chan struct{}),
	}
	s.lastActivity.Store(started.UnixNano())
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session is stopped and all hooks have returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Touch marks activity on the session.
func (s *Session) Touch(at time.Time) {
	s.lastActivity.Store(at.UnixNano())
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load()).UTC()
}

// OnStop registers a teardown hook. Hooks run in reverse registration order.
// A hook registered after the session started stopping is not run.
func (s *Session) OnStop(fn StopFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateActive {
		return
	}
	s.hooks = append(s.hooks, fn)
}

// Stop is how the performance guard ends the session.
func (s *Session) Stop(reason string) {
	s.Terminate(model.StopCauseGuard, reason)
}

// Terminate requests the session stop. It returns immediately; teardown
// hooks run on their own goroutine. Only the first call has any effect.
func (s *Session) Terminate(cause model.StopCause, reason string) bool {
	s.mu.Lock()
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateTerminating)) {
		s.mu.Unlock()
		return false
	}
	s.cause = cause
	s.reason = reason
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	s.logger.Info("stopping recording session", "cause", cause, "reason", reason)
	go s.teardown(cause, reason, hooks)
	return true
}

func (s *Session) teardown(cause model.StopCause, reason string, hooks []StopFunc) {
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i](cause, reason)
	}
	s.mu.Lock()
	s.stoppedAt = s.now().UTC()
	s.state.Store(int32(StateStopped))
	s.mu.Unlock()
	close(s.done)
}

// Reason returns the recorded stop cause and reason, if the session is stopping.
func (s *Session) Reason() (model.StopCause, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StateActive {
		return "", "", false
	}
	return s.cause, s.reason, true
}

// Notice describes the stop for outbound sinks.
func (s *Session) Notice(agentID string) model.StopNotice {
	s.mu.Lock()
	defer s.mu.Unlock()
	stoppedAt := s.stoppedAt
	if stoppedAt.IsZero() {
		stoppedAt = s.now().UTC()
	}
	return model.StopNotice{
		SessionID: s.id,
		AgentID:   agentID,
		Cause:     s.cause,
		Reason:    s.reason,
		StartedAt: s.startedAt,
		StoppedAt: stoppedAt,
	}
}

type Snapshot struct {
	ID           string          `json:"id"`
	State        string          `json:"state"`
	Cause        model.StopCause `json:"cause,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	LastActivity time.Time       `json:"last_activity"`
	StoppedAt    *time.Time      `json:"stopped_at,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{
		ID:           s.id,
		State:        s.State().String(),
		Cause:        s.cause,
		Reason:       s.reason,
		StartedAt:    s.startedAt,
		LastActivity: s.LastActivity(),
	}
	if !s.stoppedAt.IsZero() {
		at := s.stoppedAt
		out.StoppedAt = &at
	}
	return out
}
