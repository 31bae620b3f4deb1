package stream

import (
	"context"
	"log/slog"

	"replay-guard-agent/internal/model"
)

// LogSink writes stop notices to the agent log. Used when no backend is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) SendStopNotice(_ context.Context, n model.StopNotice) error {
	s.logger.Info("session stop notice",
		"session_id", n.SessionID,
		"cause", n.Cause,
		"reason", n.Reason,
		"duration", n.StoppedAt.Sub(n.StartedAt).String(),
	)
	return nil
}

func (s *LogSink) Close(context.Context) error {
	return nil
}
