package websocket

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"etlpulse/internal/config"
	"etlpulse/internal/infrastructure"
)

// ClientConfig holds the per-connection timing limits
type ClientConfig struct {
	// WriteWait bounds a single frame write
	WriteWait time.Duration
	// PongWait is how long a connection may stay silent
	PongWait time.Duration
	// PingPeriod must be less than PongWait
	PingPeriod time.Duration
	// MaxMessageSize limits frames read from the peer
	MaxMessageSize int64
	// SendBuffer is the number of frames queued per client
	SendBuffer int
}

// DefaultClientConfig returns the limits used when none are configured
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 512,
		SendBuffer:     256,
	}
}

// ClientConfigFrom builds client limits from the server configuration
func ClientConfigFrom(cfg config.WebSocketConfig) ClientConfig {
	cc := DefaultClientConfig()
	if cfg.PongWait > 0 {
		cc.PongWait = cfg.PongWait
		cc.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.PingPeriod > 0 && cfg.PingPeriod < cc.PongWait {
		cc.PingPeriod = cfg.PingPeriod
	}
	return cc
}

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client connects one websocket peer to the hub. A client with a run ID
// only receives messages about that run.
type Client struct {
	hub  *Hub
	conn Connection
	send chan []byte
	cfg  ClientConfig

	id          string
	runID       string
	traceID     string
	remoteAddr  string
	connectedAt time.Time

	logger *slog.Logger
}

// NewClient creates a client for conn. runID may be empty to follow every run.
func NewClient(hub *Hub, conn Connection, runID, traceID string, cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultClientConfig().SendBuffer
	}
	id := uuid.New().String()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBuffer),
		cfg:         cfg,
		id:          id,
		runID:       runID,
		traceID:     traceID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger: logger.With(
			slog.String("component", "websocket.client"),
			slog.String("client_id", id)),
	}
}

// ID returns the client identifier
func (c *Client) ID() string { return c.id }

func (c *Client) wants(runID string) bool {
	return c.runID == "" || runID == "" || c.runID == runID
}

func (c *Client) context() context.Context {
	ctx := context.Background()
	if c.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, c.traceID)
	}
	return ctx
}

// ReadPump drains frames from the peer until the connection fails, then
// unregisters the client. Peers only send heartbeats; anything else is
// ignored.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WarnContext(c.context(), "unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		message = bytes.TrimSpace(bytes.ReplaceAll(message, newline, space))
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		c.logger.Debug("client frame", slog.Int("size", len(message)))
	}
}

// WritePump sends queued frames and periodic pings until the send channel
// closes or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.WarnContext(c.context(), "write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(c.context(), "ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
