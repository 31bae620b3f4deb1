package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"replay-guard-agent/internal/metrics"
	"replay-guard-agent/internal/model"
)

var ErrSessionNotFound = errors.New("session not found")

// Manager tracks the active recording sessions of the agent.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	logger      *slog.Logger
	metrics     *metrics.Metrics
	idleTimeout time.Duration
	now         func() time.Time
}

func NewManager(idleTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		logger:      logger,
		metrics:     m,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// Open starts a new session and tracks it until it stops.
func (m *Manager) Open() *Session {
	s := New(uuid.NewString(), m.now, m.logger)
	s.OnStop(func(cause model.StopCause, _ string) {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.metrics.SessionStopped(string(cause))
	})

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	m.metrics.SessionOpened()
	m.logger.Info("recording session opened", "session_id", s.ID())
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (m *Manager) list() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Sweep terminates sessions with no activity for longer than the idle timeout
// and returns how many it stopped.
func (m *Manager) Sweep(now time.Time) int {
	if m.idleTimeout <= 0 {
		return 0
	}
	stopped := 0
	for _, s := range m.list() {
		if now.Sub(s.LastActivity()) <= m.idleTimeout {
			continue
		}
		if s.Terminate(model.StopCauseIdle, "session idle") {
			stopped++
		}
	}
	return stopped
}

// StopAll terminates every session and waits for their teardown, or for ctx.
func (m *Manager) StopAll(ctx context.Context, reason string) {
	sessions := m.list()
	for _, s := range sessions {
		s.Terminate(model.StopCauseShutdown, reason)
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			m.logger.Warn("session teardown did not finish before shutdown deadline", "pending_session", s.ID())
			return
		}
	}
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Sweep(m.now()); n > 0 {
				m.logger.Info("idle sessions stopped", "count", n)
			}
		}
	}
}
