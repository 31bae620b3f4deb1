package model

type MessageType string

const (
	MessageTypeStopNotice MessageType = "session_stop_notice"
)

// Envelope is transport-agnostic framing for backend payloads.
type Envelope struct {
	Type          MessageType `json:"type"`
	AgentID       string      `json:"agent_id"`
	TimestampUnix int64       `json:"timestamp_unix"`
	Payload       any         `json:"payload"`
}

func NewStopNoticeEnvelope(n StopNotice) Envelope {
	return Envelope{
		Type:          MessageTypeStopNotice,
		AgentID:       n.AgentID,
		TimestampUnix: n.StoppedAt.UTC().Unix(),
		Payload:       n,
	}
}
