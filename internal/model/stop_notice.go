package model

import "time"

type StopCause string

const (
	StopCauseGuard    StopCause = "guard"
	StopCauseClient   StopCause = "client"
	StopCauseIdle     StopCause = "idle"
	StopCauseShutdown StopCause = "shutdown"
)

// StopNotice describes why a recording session ended.
type StopNotice struct {
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	Cause     StopCause `json:"cause"`
	Reason    string    `json:"reason"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
}
