package ingest

import (
	"replay-guard-agent/internal/model"
	"replay-guard-agent/internal/observer"
)

type MessageType string

const (
	MessageHello   MessageType = "hello"
	MessageEntries MessageType = "entries"
	MessageFlush   MessageType = "flush"
	MessageStop    MessageType = "stop"
	MessageSession MessageType = "session"
	MessageError   MessageType = "error"
)

// ClientMessage is a frame sent by the recording host.
type ClientMessage struct {
	Type           MessageType       `json:"type"`
	SupportedKinds []model.EntryKind `json:"supported_kinds,omitempty"`
	Entries        []model.Entry     `json:"entries,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

// ServerMessage is a frame sent by the agent.
type ServerMessage struct {
	Type          MessageType        `json:"type"`
	SessionID     string             `json:"session_id,omitempty"`
	Registrations []RegistrationView `json:"registrations,omitempty"`
	Entries       []model.Entry      `json:"entries,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Error         string             `json:"error,omitempty"`
}

type RegistrationView struct {
	Kind       model.EntryKind `json:"kind"`
	Subscribed bool            `json:"subscribed"`
	Error      string          `json:"error,omitempty"`
}

func registrationViews(regs []observer.Registration) []RegistrationView {
	out := make([]RegistrationView, 0, len(regs))
	for _, r := range regs {
		v := RegistrationView{Kind: r.Kind, Subscribed: r.Subscribed()}
		if r.Err != nil {
			v.Error = r.Err.Error()
		}
		out = append(out, v)
	}
	return out
}
