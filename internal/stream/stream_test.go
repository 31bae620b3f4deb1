package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"replay-guard-agent/internal/config"
	"replay-guard-agent/internal/model"
)

func testNotice() model.StopNotice {
	start := time.Date(2026, time.October, 18, 10, 0, 0, 0, time.UTC)
	return model.StopNotice{
		SessionID: "sess-1",
		AgentID:   "agent-a",
		Cause:     model.StopCauseGuard,
		Reason:    "bad performance: upper limit",
		StartedAt: start,
		StoppedAt: start.Add(42 * time.Second),
	}
}

func TestLogSinkWritesNotice(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	if err := sink.SendStopNotice(context.Background(), testNotice()); err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"session stop notice", "session_id=sess-1", "cause=guard", "duration=42s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %q missing %q", out, want)
		}
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewSinkFromConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := []struct {
		mode config.StreamMode
		want string
	}{
		{config.StreamModeNone, "*stream.LogSink"},
		{config.StreamModeGRPC, "*stream.GRPCClient"},
		{config.StreamModeWebSocket, "*stream.WebSocketClient"},
	}
	for _, tc := range cases {
		sink, err := NewSinkFromConfig(config.Config{StreamMode: tc.mode, GRPCStopMethod: "/x.Y/Z"}, nil, logger)
		if err != nil {
			t.Fatalf("%s: %v", tc.mode, err)
		}
		switch sink.(type) {
		case *LogSink:
			if tc.want != "*stream.LogSink" {
				t.Fatalf("%s: unexpected sink %T", tc.mode, sink)
			}
		case *GRPCClient:
			if tc.want != "*stream.GRPCClient" {
				t.Fatalf("%s: unexpected sink %T", tc.mode, sink)
			}
		case *WebSocketClient:
			if tc.want != "*stream.WebSocketClient" {
				t.Fatalf("%s: unexpected sink %T", tc.mode, sink)
			}
		}
	}
	if _, err := NewSinkFromConfig(config.Config{StreamMode: "kafka"}, nil, logger); err == nil {
		t.Fatalf("expected error for unknown stream mode")
	}
}

func TestWebSocketClientSendsEnvelope(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 1)
	auth := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- data
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewWebSocketClient(url, "secret", nil, time.Second, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer client.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.SendStopNotice(ctx, testNotice()); err != nil {
		t.Fatalf("send: %v", err)
	}

	if got := <-auth; got != "Bearer secret" {
		t.Fatalf("unexpected authorization header %q", got)
	}
	select {
	case data := <-received:
		var env struct {
			Type          string           `json:"type"`
			AgentID       string           `json:"agent_id"`
			TimestampUnix int64            `json:"timestamp_unix"`
			Payload       model.StopNotice `json:"payload"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if env.Type != string(model.MessageTypeStopNotice) || env.AgentID != "agent-a" {
			t.Fatalf("unexpected envelope %+v", env)
		}
		if env.Payload.Reason != "bad performance: upper limit" || env.TimestampUnix != testNotice().StoppedAt.Unix() {
			t.Fatalf("unexpected payload %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backend did not receive the notice")
	}
}

func TestWebSocketClientDialFailure(t *testing.T) {
	client := NewWebSocketClient("ws://127.0.0.1:1/unreachable", "", nil, time.Second, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.SendStopNotice(ctx, testNotice()); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestGRPCClientStreamsNotices(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	frames := make(chan StopNoticeFrame, 2)
	tokens := make(chan string, 1)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, ss grpc.ServerStream) error {
		if md, ok := metadata.FromIncomingContext(ss.Context()); ok && len(md.Get("authorization")) > 0 {
			tokens <- md.Get("authorization")[0]
		}
		for {
			var frame StopNoticeFrame
			if err := ss.RecvMsg(&frame); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			frames <- frame
		}
	}))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	client := NewGRPCClient(lis.Addr().String(), nil, "secret", "/replayguard.v1.GuardService/StreamStopNotices", slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer client.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	n := testNotice()
	if err := client.SendStopNotice(ctx, n); err != nil {
		t.Fatalf("send: %v", err)
	}
	n.SessionID = "sess-2"
	if err := client.SendStopNotice(ctx, n); err != nil {
		t.Fatalf("second send: %v", err)
	}

	for _, want := range []string{"sess-1", "sess-2"} {
		select {
		case frame := <-frames:
			if frame.Notice.SessionID != want || frame.AgentID != "agent-a" {
				t.Fatalf("unexpected frame %+v, want session %s", frame, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("backend did not receive notice for %s", want)
		}
	}
	select {
	case tok := <-tokens:
		if tok != "Bearer secret" {
			t.Fatalf("unexpected token %q", tok)
		}
	default:
		t.Fatalf("expected bearer token metadata")
	}
}
