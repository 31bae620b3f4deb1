package stream

import (
	"context"
	"encoding/json"

	"replay-guard-agent/internal/model"
)

// Sink publishes session stop notices to the backend.
type Sink interface {
	SendStopNotice(ctx context.Context, n model.StopNotice) error
	Close(ctx context.Context) error
}

// StopNoticeFrame is the grpc wire frame for a stop notice.
type StopNoticeFrame struct {
	AgentID       string           `json:"agent_id"`
	TimestampUnix int64            `json:"timestamp_unix"`
	Notice        model.StopNotice `json:"notice"`
}

func EncodeEnvelope(e model.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func NewStopNoticeFrame(n model.StopNotice) StopNoticeFrame {
	return StopNoticeFrame{AgentID: n.AgentID, TimestampUnix: n.StoppedAt.UTC().Unix(), Notice: n}
}
