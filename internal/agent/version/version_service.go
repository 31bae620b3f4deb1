package version

import (
	"time"

	"replay-guard-agent/internal/config"
)

func Get(cfg config.Config) *GetVersionResponse {
	return &GetVersionResponse{
		AgentID:         cfg.AgentID,
		AgentVersion:    cfg.AgentVersion,
		StreamMode:      string(cfg.StreamMode),
		ListenAddr:      cfg.ListenAddr,
		ProbeListenAddr: cfg.ProbeListenAddr,
		CheckedAtUnix:   time.Now().UTC().Unix(),
	}
}
