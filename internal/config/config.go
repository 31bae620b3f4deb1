package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type StreamMode string

const (
	StreamModeNone      StreamMode = "none"
	StreamModeGRPC      StreamMode = "grpc"
	StreamModeWebSocket StreamMode = "websocket"
	HardcodedVersion    string     = "V0.1"

	envPrefix = "REPLAY_GUARD"
)

type Config struct {
	AgentID               string
	ListenAddr            string
	ProbeListenAddr       string
	SessionIdleTimeout    time.Duration
	SweepInterval         time.Duration
	HealthInterval        time.Duration
	ShutdownTimeout       time.Duration
	HelloTimeout          time.Duration
	EntryHistoryLimit     int
	EntryRetentionLimit   int
	InboxSize             int
	DebugWarnings         bool
	StreamMode            StreamMode
	BackendGRPCAddr       string
	BackendWSURL          string
	BackendToken          string
	IngestJWTSecret       string
	GRPCStopMethod        string
	AgentVersion          string
	TLSEnabled            bool
	TLSSkipVerify         bool
	TLSCAPath             string
	TLSCertPath           string
	TLSKeyPath            string
	LogJSON               bool
	LogLevel              string
	WebSocketWriteTimeout time.Duration
	WebSocketPingInterval time.Duration
	NoticeTimeout         time.Duration
}

func setDefaults(v *viper.Viper) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	v.SetDefault("agent_id", hostname)
	v.SetDefault("listen_addr", "0.0.0.0:8787")
	v.SetDefault("probe_addr", "0.0.0.0:7443")
	v.SetDefault("session_idle_timeout", 15*time.Minute)
	v.SetDefault("sweep_interval", 30*time.Second)
	v.SetDefault("health_interval", 10*time.Second)
	v.SetDefault("shutdown_timeout", 20*time.Second)
	v.SetDefault("hello_timeout", 10*time.Second)
	v.SetDefault("entry_history_limit", 150)
	v.SetDefault("entry_retention_limit", 1000)
	v.SetDefault("inbox_size", 64)
	v.SetDefault("debug_warnings", false)
	v.SetDefault("stream_mode", string(StreamModeNone))
	v.SetDefault("backend_grpc_addr", "127.0.0.1:3001")
	v.SetDefault("backend_ws_url", "ws://127.0.0.1:3001/ws/sessions")
	v.SetDefault("backend_token", "")
	v.SetDefault("ingest_jwt_secret", "")
	v.SetDefault("grpc_stop_method", "/replayguard.v1.GuardService/StreamStopNotices")
	v.SetDefault("tls_enabled", false)
	v.SetDefault("tls_skip_verify", false)
	v.SetDefault("tls_ca_path", "")
	v.SetDefault("tls_cert_path", "")
	v.SetDefault("tls_key_path", "")
	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("ws_write_timeout", 5*time.Second)
	v.SetDefault("ws_ping_interval", 10*time.Second)
	v.SetDefault("notice_timeout", 5*time.Second)
}

// Load reads configuration from REPLAY_GUARD_* environment variables and,
// when path is set, from a config file. Environment variables win.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		AgentID:               strings.TrimSpace(v.GetString("agent_id")),
		ListenAddr:            strings.TrimSpace(v.GetString("listen_addr")),
		ProbeListenAddr:       strings.TrimSpace(v.GetString("probe_addr")),
		SessionIdleTimeout:    v.GetDuration("session_idle_timeout"),
		SweepInterval:         v.GetDuration("sweep_interval"),
		HealthInterval:        v.GetDuration("health_interval"),
		ShutdownTimeout:       v.GetDuration("shutdown_timeout"),
		HelloTimeout:          v.GetDuration("hello_timeout"),
		EntryHistoryLimit:     v.GetInt("entry_history_limit"),
		EntryRetentionLimit:   v.GetInt("entry_retention_limit"),
		InboxSize:             v.GetInt("inbox_size"),
		DebugWarnings:         v.GetBool("debug_warnings"),
		StreamMode:            StreamMode(strings.ToLower(strings.TrimSpace(v.GetString("stream_mode")))),
		BackendGRPCAddr:       strings.TrimSpace(v.GetString("backend_grpc_addr")),
		BackendWSURL:          strings.TrimSpace(v.GetString("backend_ws_url")),
		BackendToken:          strings.TrimSpace(v.GetString("backend_token")),
		IngestJWTSecret:       v.GetString("ingest_jwt_secret"),
		GRPCStopMethod:        strings.TrimSpace(v.GetString("grpc_stop_method")),
		AgentVersion:          HardcodedVersion,
		TLSEnabled:            v.GetBool("tls_enabled"),
		TLSSkipVerify:         v.GetBool("tls_skip_verify"),
		TLSCAPath:             v.GetString("tls_ca_path"),
		TLSCertPath:           v.GetString("tls_cert_path"),
		TLSKeyPath:            v.GetString("tls_key_path"),
		LogJSON:               v.GetBool("log_json"),
		LogLevel:              strings.ToLower(v.GetString("log_level")),
		WebSocketWriteTimeout: v.GetDuration("ws_write_timeout"),
		WebSocketPingInterval: v.GetDuration("ws_ping_interval"),
		NoticeTimeout:         v.GetDuration("notice_timeout"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.AgentID == "" {
		return errors.New("REPLAY_GUARD_AGENT_ID is required")
	}
	if strings.TrimSpace(c.AgentVersion) == "" {
		return errors.New("agent version must not be empty")
	}
	if c.ListenAddr == "" {
		return errors.New("REPLAY_GUARD_LISTEN_ADDR is required")
	}
	if c.ProbeListenAddr == "" {
		return errors.New("REPLAY_GUARD_PROBE_ADDR is required")
	}
	if c.SessionIdleTimeout < 0 {
		return errors.New("REPLAY_GUARD_SESSION_IDLE_TIMEOUT must be >= 0")
	}
	if c.SweepInterval <= 0 || c.HealthInterval <= 0 {
		return errors.New("sweep and health intervals must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("REPLAY_GUARD_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.HelloTimeout <= 0 {
		return errors.New("REPLAY_GUARD_HELLO_TIMEOUT must be > 0")
	}
	if c.EntryHistoryLimit <= 0 {
		return errors.New("REPLAY_GUARD_ENTRY_HISTORY_LIMIT must be > 0")
	}
	if c.EntryRetentionLimit <= 0 {
		return errors.New("REPLAY_GUARD_ENTRY_RETENTION_LIMIT must be > 0")
	}
	if c.InboxSize <= 0 {
		return errors.New("REPLAY_GUARD_INBOX_SIZE must be > 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	switch c.StreamMode {
	case StreamModeNone, StreamModeGRPC, StreamModeWebSocket:
	default:
		return fmt.Errorf("unsupported stream mode %q", c.StreamMode)
	}
	if c.StreamMode == StreamModeGRPC {
		if c.BackendGRPCAddr == "" {
			return errors.New("REPLAY_GUARD_BACKEND_GRPC_ADDR is required for grpc mode")
		}
		if c.GRPCStopMethod == "" {
			return errors.New("REPLAY_GUARD_GRPC_STOP_METHOD is required for grpc mode")
		}
	}
	if c.StreamMode == StreamModeWebSocket && c.BackendWSURL == "" {
		return errors.New("REPLAY_GUARD_BACKEND_WS_URL is required for websocket mode")
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}
