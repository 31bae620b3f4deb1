package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"replay-guard-agent/internal/metrics"
	"replay-guard-agent/internal/model"
	"replay-guard-agent/internal/observer"
	"replay-guard-agent/internal/perf"
	"replay-guard-agent/internal/session"
	"replay-guard-agent/internal/stream"
)

const (
	maxMessageBytes   = 1 << 20
	flushTimeout      = 5 * time.Second
	disconnectReason  = "client disconnected"
	clientStopDefault = "client requested stop"
)

type Options struct {
	AgentID       string
	HelloTimeout  time.Duration
	WriteTimeout  time.Duration
	NoticeTimeout time.Duration
	HistoryLimit  int
	InboxSize     int
	DebugWarnings bool

	// RetentionLimit bounds the entries a session retains between flushes.
	// Reaching it sends the retained entries to the client unrequested.
	RetentionLimit int

	// JWTSecret enables HS256 bearer authentication when set.
	JWTSecret string
}

// Handler serves the recording session websocket. Each connection is one
// session: the host reports performance entries and the agent tells it when
// to stop recording.
type Handler struct {
	manager  *session.Manager
	sink     stream.Sink
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options
	verifier *tokenVerifier
	upgrader websocket.Upgrader
}

func NewHandler(manager *session.Manager, sink stream.Sink, m *metrics.Metrics, logger *slog.Logger, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HelloTimeout <= 0 {
		opts.HelloTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.NoticeTimeout <= 0 {
		opts.NoticeTimeout = 5 * time.Second
	}
	return &Handler{
		manager:  manager,
		sink:     sink,
		metrics:  m,
		logger:   logger,
		opts:     opts,
		verifier: newTokenVerifier(opts.JWTSecret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger
	if h.verifier != nil {
		claims, err := h.verifier.verify(r)
		if err != nil {
			h.logger.Warn("session token rejected", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}
		logger = logger.With("subject", claims.Subject, "site", claims.Site)
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(maxMessageBytes)
	c := &conn{ws: ws, writeTimeout: h.opts.WriteTimeout}

	hello, err := h.readHello(c)
	if err != nil {
		logger.Debug("session handshake failed", "remote", r.RemoteAddr, "error", err)
		_ = c.send(ServerMessage{Type: MessageError, Error: err.Error()})
		c.close(websocket.ClosePolicyViolation, "handshake failed")
		return
	}

	sess := h.manager.Open()
	logger = logger.With("session_id", sess.ID())
	feed := observer.NewFeed(hello.SupportedKinds, h.opts.HistoryLimit)
	detector := perf.NewDetector(sess, logger, h.opts.DebugWarnings)
	obs := observer.New(feed, detector, observer.Options{
		Buffered:       true,
		InboxSize:      h.opts.InboxSize,
		RetentionLimit: h.opts.RetentionLimit,
		Handoff: func(entries []model.Entry) {
			_ = c.send(ServerMessage{Type: MessageEntries, SessionID: sess.ID(), Entries: entries})
		},
		Metrics: h.metrics,
		Logger:  logger,
	})

	// Hooks run in reverse: observer first, then the client, then the backend.
	sess.OnStop(func(model.StopCause, string) {
		h.publish(sess, logger)
	})
	sess.OnStop(func(_ model.StopCause, reason string) {
		_ = c.send(ServerMessage{Type: MessageStop, SessionID: sess.ID(), Reason: reason})
		c.close(websocket.CloseNormalClosure, "session stopped")
	})
	sess.OnStop(func(model.StopCause, string) {
		obs.Dispose()
		feed.Close()
	})

	regs := obs.Start()
	if err := c.send(ServerMessage{Type: MessageSession, SessionID: sess.ID(), Registrations: registrationViews(regs)}); err != nil {
		sess.Terminate(model.StopCauseClient, disconnectReason)
		return
	}
	// Entries recorded before the handshake go through the same path as
	// later ones, after the client has its session id.
	if len(hello.Entries) > 0 {
		sess.Touch(time.Now())
		feed.Push(hello.Entries)
	}

	h.readLoop(r.Context(), c, sess, feed, obs, logger)
}

func (h *Handler) readHello(c *conn) (ClientMessage, error) {
	if err := c.ws.SetReadDeadline(time.Now().Add(h.opts.HelloTimeout)); err != nil {
		return ClientMessage{}, err
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return ClientMessage{}, fmt.Errorf("read hello: %w", err)
	}
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("decode hello: %w", err)
	}
	if msg.Type != MessageHello {
		return ClientMessage{}, fmt.Errorf("expected %q message, got %q", MessageHello, msg.Type)
	}
	if err := c.ws.SetReadDeadline(time.Time{}); err != nil {
		return ClientMessage{}, err
	}
	return msg, nil
}

func (h *Handler) readLoop(ctx context.Context, c *conn, sess *session.Session, feed *observer.Feed, obs *observer.Observer, logger *slog.Logger) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if sess.Terminate(model.StopCauseClient, disconnectReason) {
				logger.Debug("session connection closed", "error", err)
			}
			return
		}
		if sess.State() != session.StateActive {
			continue
		}
		sess.Touch(time.Now())

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.send(ServerMessage{Type: MessageError, Error: "malformed message: " + err.Error()})
			continue
		}
		switch msg.Type {
		case MessageEntries:
			feed.Push(msg.Entries)
		case MessageFlush:
			fctx, cancel := context.WithTimeout(ctx, flushTimeout)
			entries, err := obs.Flush(fctx)
			cancel()
			if err != nil {
				_ = c.send(ServerMessage{Type: MessageError, Error: "flush: " + err.Error()})
				continue
			}
			_ = c.send(ServerMessage{Type: MessageEntries, SessionID: sess.ID(), Entries: entries})
		case MessageStop:
			reason := msg.Reason
			if reason == "" {
				reason = clientStopDefault
			}
			sess.Terminate(model.StopCauseClient, reason)
		default:
			_ = c.send(ServerMessage{Type: MessageError, Error: fmt.Sprintf("unsupported message type %q", msg.Type)})
		}
	}
}

// publish hands the stop notice to the backend sink. Failures are logged only.
func (h *Handler) publish(sess *session.Session, logger *slog.Logger) {
	if h.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.NoticeTimeout)
	defer cancel()
	if err := h.sink.SendStopNotice(ctx, sess.Notice(h.opts.AgentID)); err != nil {
		logger.Warn("stop notice not delivered", "error", err)
	}
}

type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (c *conn) send(msg ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(msg)
}

func (c *conn) close(code int, text string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(c.writeTimeout))
	_ = c.ws.Close()
}
