package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"etlpulse/internal/flow"
	"etlpulse/internal/infrastructure"
)

// Message types pushed to clients
const (
	TypeConnection = "connection"
	TypeTransition = "flow:transition"
)

const broadcastBuffer = 256

// Message is the envelope of every frame the hub sends
type Message struct {
	Type      string      `json:"type"`
	RunID     string      `json:"run_id,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type outbound struct {
	msgType string
	runID   string
	data    []byte
}

// HubStats is a snapshot of hub counters
type HubStats struct {
	Clients          int   `json:"clients"`
	TotalConnections int64 `json:"total_connections"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesDropped  int64 `json:"messages_dropped"`
}

// Hub keeps the set of connected clients and fans flow transitions out to
// them. All client set changes happen on the run loop.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	running bool

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	totalConnections atomic.Int64
	messagesSent     atomic.Int64
	messagesDropped  atomic.Int64

	metrics *Metrics
	logger  *slog.Logger
}

// NewHub creates a hub. metrics may be nil.
func NewHub(metrics *Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan outbound, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "websocket.hub")),
	}
}

// Start launches the run loop. Calling it twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop ends the run loop and closes every client's send channel
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })

	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if running {
		<-h.done
	}
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.closeAll()
			h.logger.Info("hub stopped")
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c, "closed")
		case m := <-h.broadcast:
			h.fanOut(m)
		}
	}
}

// Register hands a client to the run loop
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Publish queues msg for every interested client. It never blocks: when the
// broadcast queue is full the message is dropped.
func (h *Hub) Publish(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- outbound{msgType: msg.Type, runID: msg.RunID, data: data}:
	case <-h.quit:
	default:
		h.messagesDropped.Add(1)
		h.metrics.recordDropped(context.Background(), "queue_full")
		h.logger.Warn("broadcast queue full, dropping message",
			slog.String("type", msg.Type),
			slog.String("run_id", msg.RunID))
	}
}

// BroadcastTransition publishes a flow node status change. It has the
// signature expected by pipeline.Runner.OnTransition.
func (h *Hub) BroadcastTransition(tr flow.Transition) {
	h.Publish(Message{
		Type:      TypeTransition,
		RunID:     tr.RunID,
		Data:      tr,
		Timestamp: tr.At,
	})
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns the hub counters
func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients:          h.ClientCount(),
		TotalConnections: h.totalConnections.Load(),
		MessagesSent:     h.messagesSent.Load(),
		MessagesDropped:  h.messagesDropped.Load(),
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.totalConnections.Add(1)

	ctx := c.context()
	h.metrics.recordConnect(ctx)
	h.logger.InfoContext(ctx, "client registered",
		slog.String("client_id", c.id),
		slog.String("remote_addr", c.remoteAddr),
		slog.String("run_id", c.runID),
		slog.Int("total_clients", count))

	hello, err := json.Marshal(Message{
		Type:  TypeConnection,
		RunID: c.runID,
		Data: map[string]string{
			"status":    "connected",
			"client_id": c.id,
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- hello:
	default:
		h.logger.WarnContext(ctx, "client buffer full on connect", slog.String("client_id", c.id))
	}
}

func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	ctx := c.context()
	lifetime := time.Since(c.connectedAt)
	h.metrics.recordDisconnect(ctx, lifetime, reason)
	h.logger.InfoContext(ctx, "client unregistered",
		slog.String("client_id", c.id),
		slog.String("reason", reason),
		slog.Duration("connection_duration", lifetime),
		slog.Int("total_clients", count))
}

func (h *Hub) fanOut(m outbound) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(m.runID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	ctx := context.Background()
	for _, c := range targets {
		select {
		case c.send <- m.data:
			h.messagesSent.Add(1)
			h.metrics.recordSent(ctx, m.msgType, len(m.data))
		default:
			h.messagesDropped.Add(1)
			h.metrics.recordDropped(ctx, "slow_client")
			h.remove(c, "slow")
		}
	}

	h.logger.Debug("broadcast",
		slog.String("type", m.msgType),
		slog.String("run_id", m.runID),
		slog.Int("clients", len(targets)),
		slog.Int("size", len(m.data)))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
