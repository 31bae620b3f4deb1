package agent

import (
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	streamConnected atomic.Bool
	lastNoticeAt    atomic.Int64
	noticeFailures  atomic.Int64
	startedAt       time.Time
}

func NewHealthStatus() *HealthStatus {
	h := &HealthStatus{startedAt: time.Now().UTC()}
	h.streamConnected.Store(true)
	return h
}

func (h *HealthStatus) SetStreamConnected(ok bool) {
	h.streamConnected.Store(ok)
}

func (h *HealthStatus) MarkNotice(ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	h.lastNoticeAt.Store(ts.UnixNano())
}

func (h *HealthStatus) MarkNoticeFailure() {
	h.noticeFailures.Add(1)
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"stream_connected": h.streamConnected.Load(),
		"notice_failures":  h.noticeFailures.Load(),
		"started_at":       h.startedAt,
	}
	if v := h.lastNoticeAt.Load(); v > 0 {
		out["last_notice_at"] = time.Unix(0, v).UTC()
	}
	return out
}
