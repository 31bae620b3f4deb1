package version

type GetVersionResponse struct {
	AgentID         string `json:"agent_id" yaml:"agent_id"`
	AgentVersion    string `json:"agent_version" yaml:"agent_version"`
	StreamMode      string `json:"stream_mode" yaml:"stream_mode"`
	ListenAddr      string `json:"listen_addr" yaml:"listen_addr"`
	ProbeListenAddr string `json:"probe_listen_addr" yaml:"probe_listen_addr"`
	CheckedAtUnix   int64  `json:"checked_at_unix" yaml:"checked_at_unix"`
}
