package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"replay-guard-agent/internal/config"
	"replay-guard-agent/internal/ingest"
	"replay-guard-agent/internal/metrics"
	"replay-guard-agent/internal/model"
	"replay-guard-agent/internal/session"
	"replay-guard-agent/internal/stream"
)

type Agent struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	manager  *session.Manager
	ingest   *ingest.Handler
	sink     stream.Sink
	health   *HealthStatus
	server   *http.Server
}

func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	sink, err := stream.NewSinkFromConfig(cfg, tlsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("stream sink: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	health := NewHealthStatus()
	wrappedSink := &healthSink{sink: sink, health: health}
	manager := session.NewManager(cfg.SessionIdleTimeout, m, logger)
	handler := ingest.NewHandler(manager, wrappedSink, m, logger, ingest.Options{
		AgentID:        cfg.AgentID,
		HelloTimeout:   cfg.HelloTimeout,
		WriteTimeout:   cfg.WebSocketWriteTimeout,
		NoticeTimeout:  cfg.NoticeTimeout,
		HistoryLimit:   cfg.EntryHistoryLimit,
		InboxSize:      cfg.InboxSize,
		DebugWarnings:  cfg.DebugWarnings,
		RetentionLimit: cfg.EntryRetentionLimit,
		JWTSecret:      cfg.IngestJWTSecret,
	})

	a := &Agent{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		manager:  manager,
		ingest:   handler,
		sink:     wrappedSink,
		health:   health,
	}
	a.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting replay-guard-agent", "agent_id", a.cfg.AgentID, "listen_addr", a.cfg.ListenAddr, "stream_mode", a.cfg.StreamMode)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
		// A server, the session sweeper or the health loop failed, or ctx is done.
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("replay-guard-agent stopped")
	return nil
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}

// healthSink records backend delivery state on the way through.
type healthSink struct {
	sink   stream.Sink
	health *HealthStatus
}

func (s *healthSink) SendStopNotice(ctx context.Context, n model.StopNotice) error {
	err := s.sink.SendStopNotice(ctx, n)
	if err != nil {
		s.health.SetStreamConnected(false)
		s.health.MarkNoticeFailure()
		return err
	}
	s.health.SetStreamConnected(true)
	s.health.MarkNotice(n.StoppedAt)
	return nil
}

func (s *healthSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
