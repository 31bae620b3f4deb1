package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

func (a *Agent) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runHTTPServer(gctx)
	})
	g.Go(func() error {
		return a.manager.Run(gctx, a.cfg.SweepInterval)
	})
	g.Go(func() error {
		return a.runHealthLoop(gctx)
	})
	g.Go(func() error {
		return a.runProbeListener(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runHTTPServer serves until ctx is done, then stops every session before
// the listener is shut down so hosts receive their stop message.
func (a *Agent) runHTTPServer(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http endpoint listening", "addr", a.cfg.ListenAddr)
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http %s: %w", a.cfg.ListenAddr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	a.manager.StopAll(shutdownCtx, "agent shutdown")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", "error", err)
	}
	return nil
}

func (a *Agent) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			status := "ok"
			if !a.health.streamConnected.Load() {
				status = "degraded"
			}
			a.logHealth(status)
		}
	}
}

func (a *Agent) logHealth(status string) {
	a.logger.Log(context.Background(), slog.LevelDebug, "agent health", "status", status, "active_sessions", a.manager.Active(), "snapshot", a.health.Snapshot())
}

func (a *Agent) shutdown(ctx context.Context) {
	if err := a.sink.Close(ctx); err != nil {
		a.logger.Warn("stream sink close failed", "error", err)
	}
	a.health.SetStreamConnected(false)
}
