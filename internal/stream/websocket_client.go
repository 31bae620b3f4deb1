package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"replay-guard-agent/internal/model"
)

// WebSocketClient sends stop notices as JSON envelopes over a websocket.
type WebSocketClient struct {
	mu sync.Mutex

	logger       *slog.Logger
	url          string
	token        string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	pingInterval time.Duration
	conn         *websocket.Conn
	pingCancel   context.CancelFunc
}

func NewWebSocketClient(url, token string, tlsCfg *tls.Config, writeTimeout, pingInterval time.Duration, logger *slog.Logger) *WebSocketClient {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketClient{
		logger: logger,
		url:    url,
		token:  token,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 8 * time.Second,
			TLSClientConfig:  tlsCfg,
		},
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
}

func (c *WebSocketClient) SendStopNotice(ctx context.Context, n model.StopNotice) error {
	return c.sendEnvelope(ctx, model.NewStopNoticeEnvelope(n))
}

func (c *WebSocketClient) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingCancel != nil {
		c.pingCancel()
		c.pingCancel = nil
	}
	if c.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *WebSocketClient) sendEnvelope(ctx context.Context, envelope model.Envelope) error {
	payload, err := EncodeEnvelope(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}
	if err := c.writeLocked(payload); err != nil {
		c.logger.Warn("websocket write failed, reconnecting", "error", err)
		c.dropConnLocked()
		if err2 := c.ensureConnLocked(ctx); err2 != nil {
			return err2
		}
		if err2 := c.writeLocked(payload); err2 != nil {
			return fmt.Errorf("write envelope retry: %w", err2)
		}
	}
	return nil
}

func (c *WebSocketClient) writeLocked(payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *WebSocketClient) dropConnLocked() {
	if c.pingCancel != nil {
		c.pingCancel()
		c.pingCancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *WebSocketClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, h)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(1 << 20)
	c.conn = conn
	c.startPingLoopLocked()
	c.logger.Info("websocket stream connected", "url", c.url)
	return nil
}

// startPingLoopLocked keeps the connection alive and drains inbound frames so
// control messages from the backend are processed.
func (c *WebSocketClient) startPingLoopLocked() {
	if c.pingCancel != nil {
		c.pingCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pingCancel = cancel

	go func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}(c.conn)

	go func(conn *websocket.Conn, interval time.Duration) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(3*time.Second))
			}
		}
	}(c.conn, c.pingInterval)
}
