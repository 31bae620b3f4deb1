package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"replay-guard-agent/internal/model"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// GRPCClient sends stop notices over a long-lived client stream.
type GRPCClient struct {
	mu sync.Mutex

	logger     *slog.Logger
	addr       string
	tlsConfig  *tls.Config
	token      string
	stopMethod string
	conn       *grpc.ClientConn
	stopStream grpc.ClientStream
	cancel     context.CancelFunc
}

func NewGRPCClient(addr string, tlsCfg *tls.Config, token, stopMethod string, logger *slog.Logger) *GRPCClient {
	if logger == nil {
		logger = slog.Default()
	}
	encoding.RegisterCodec(jsonCodec{})
	return &GRPCClient{
		logger:     logger,
		addr:       addr,
		tlsConfig:  tlsCfg,
		token:      token,
		stopMethod: stopMethod,
	}
}

func (c *GRPCClient) SendStopNotice(ctx context.Context, n model.StopNotice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.ensureConnLocked(); err != nil {
		return err
	}
	if c.stopStream == nil {
		if err := c.openStopStreamLocked(); err != nil {
			return err
		}
	}
	frame := NewStopNoticeFrame(n)
	if err := c.stopStream.SendMsg(frame); err != nil {
		c.logger.Warn("grpc stop notice send failed, reopening stream", "error", err)
		c.resetStreamLocked()
		if err2 := c.openStopStreamLocked(); err2 != nil {
			return fmt.Errorf("reopen stop stream: %w", err2)
		}
		if err2 := c.stopStream.SendMsg(frame); err2 != nil {
			return fmt.Errorf("send stop notice: %w", err2)
		}
	}
	return nil
}

func (c *GRPCClient) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetStreamLocked()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *GRPCClient) ensureConnLocked() error {
	if c.conn != nil {
		return nil
	}

	var creds credentials.TransportCredentials
	if c.tlsConfig != nil {
		creds = credentials.NewTLS(c.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(
		c.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return fmt.Errorf("grpc client %s: %w", c.addr, err)
	}
	c.conn = conn
	c.logger.Info("grpc stream connected", "addr", c.addr)
	return nil
}

// openStopStreamLocked opens the stream on a context that outlives any single
// send; it is cancelled on reset or Close.
func (c *GRPCClient) openStopStreamLocked() error {
	if c.conn == nil {
		return errors.New("grpc conn is nil")
	}
	streamCtx, cancel := context.WithCancel(c.decorateContext(context.Background()))
	s, err := c.conn.NewStream(streamCtx, &grpc.StreamDesc{ClientStreams: true}, c.stopMethod)
	if err != nil {
		cancel()
		return fmt.Errorf("open stop stream: %w", err)
	}
	c.stopStream = s
	c.cancel = cancel
	return nil
}

func (c *GRPCClient) resetStreamLocked() {
	if c.stopStream != nil {
		_ = c.stopStream.CloseSend()
		c.stopStream = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *GRPCClient) decorateContext(ctx context.Context) context.Context {
	if c.token != "" {
		return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	return ctx
}
