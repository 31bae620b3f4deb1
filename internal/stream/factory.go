package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"replay-guard-agent/internal/config"
)

func NewSinkFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (Sink, error) {
	switch cfg.StreamMode {
	case config.StreamModeNone, "":
		return NewLogSink(logger), nil
	case config.StreamModeGRPC:
		return NewGRPCClient(cfg.BackendGRPCAddr, tlsCfg, cfg.BackendToken, cfg.GRPCStopMethod, logger), nil
	case config.StreamModeWebSocket:
		return NewWebSocketClient(cfg.BackendWSURL, cfg.BackendToken, tlsCfg, cfg.WebSocketWriteTimeout, cfg.WebSocketPingInterval, logger), nil
	default:
		return nil, fmt.Errorf("unsupported stream mode %q", cfg.StreamMode)
	}
}
