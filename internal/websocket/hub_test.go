package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etlpulse/internal/flow"
	"etlpulse/internal/pipeline"
	"etlpulse/internal/shared/testutil"
)

// fakeConn is an in-memory Connection
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	reads   chan []byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 8)}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-f.reads
	if !ok {
		return 0, nil, errors.New("closed")
	}
	return 1, msg, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.reads)
	}
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetReadLimit(int64)               {}
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) RemoteAddr() string               { return "127.0.0.1:5000" }

func newStartedHub(t *testing.T) (*Hub, *testutil.LogCapture) {
	t.Helper()
	logger, logs := testutil.NewTestLogger(t)
	hub := NewHub(nil, logger)
	hub.Start()
	t.Cleanup(hub.Stop)
	return hub, logs
}

func newTestClient(t *testing.T, hub *Hub, runID string, buffer int) *Client {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.SendBuffer = buffer
	c := NewClient(hub, newFakeConn(), runID, "trace-1", cfg, nil)
	hub.Register(c)
	// the connection message proves registration finished
	msg := receive(t, c)
	require.Equal(t, TypeConnection, msg.Type)
	return c
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var m Message
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub, logs := newStartedHub(t)

	c := newTestClient(t, hub, "", 4)
	assert.Equal(t, 1, hub.ClientCount())
	assert.True(t, logs.HasAttr("client_id", c.ID()))

	hub.Unregister(c)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)

	_, ok := <-c.send
	assert.False(t, ok, "send channel should be closed")
	assert.Equal(t, int64(1), hub.Stats().TotalConnections)
}

func TestHub_BroadcastTransitionFiltersByRun(t *testing.T) {
	hub, _ := newStartedHub(t)

	all := newTestClient(t, hub, "", 8)
	onlyA := newTestClient(t, hub, "run-a", 8)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	hub.BroadcastTransition(flow.Transition{RunID: "run-b", Node: flow.NodeExtract, From: flow.StatusPending, To: flow.StatusCompleted, At: at})
	hub.BroadcastTransition(flow.Transition{RunID: "run-a", Node: flow.NodeClean, From: flow.StatusPending, To: flow.StatusError, Message: "boom", At: at})

	first := receive(t, all)
	assert.Equal(t, TypeTransition, first.Type)
	assert.Equal(t, "run-b", first.RunID)
	assert.True(t, at.Equal(first.Timestamp))
	assert.Equal(t, "run-a", receive(t, all).RunID)

	got := receive(t, onlyA)
	assert.Equal(t, "run-a", got.RunID)
	data, ok := got.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "clean", data["node"])
	assert.Equal(t, "error", data["to"])
	assert.Equal(t, "boom", data["message"])
	assertSilent(t, onlyA)

	assert.Equal(t, int64(3), hub.Stats().MessagesSent)
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	hub, logs := newStartedHub(t)

	// one slot, already taken by the connection message
	cfg := DefaultClientConfig()
	cfg.SendBuffer = 1
	slow := NewClient(hub, newFakeConn(), "", "", cfg, nil)
	hub.Register(slow)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(Message{Type: TypeTransition, RunID: "r"})
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), hub.Stats().MessagesDropped)
	assert.True(t, logs.HasAttr("reason", "slow"))
}

func TestHub_StopClosesClients(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(nil, logger)
	hub.Start()
	hub.Start()

	c := newTestClient(t, hub, "", 4)
	hub.Stop()
	hub.Stop()

	_, ok := <-c.send
	assert.False(t, ok)
	assert.Equal(t, 0, hub.ClientCount())

	// calls after Stop return instead of blocking
	hub.Register(c)
	hub.Unregister(c)
	hub.Publish(Message{Type: TypeTransition})
}

func TestHub_PumpsDeliverFrames(t *testing.T) {
	hub, _ := newStartedHub(t)
	conn := newFakeConn()
	c := NewClient(hub, conn, "", "", DefaultClientConfig(), nil)
	hub.Register(c)
	go c.WritePump()
	go c.ReadPump()

	conn.reads <- []byte(`{"type":"heartbeat"}`)
	hub.Publish(Message{Type: TypeTransition, RunID: "r1"})

	assert.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.written) >= 2
	}, time.Second, 10*time.Millisecond)

	// closing the peer unregisters the client
	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_FollowsRunnerTransitions(t *testing.T) {
	hub, _ := newStartedHub(t)
	c := newTestClient(t, hub, "", 64)

	logger, _ := testutil.NewTestLogger(t)
	runner := pipeline.NewRunner(pipeline.Options{}, nil, nil, logger)
	runner.OnTransition(hub.BroadcastTransition)

	res, err := runner.Run(context.Background(), pipeline.Request{Source: []byte(testutil.MonthlySalesCSV)})
	require.NoError(t, err)

	first := receive(t, c)
	assert.Equal(t, TypeTransition, first.Type)
	assert.Equal(t, res.RunID, first.RunID)
	data, ok := first.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(flow.NodeExtract), data["node"])
	assert.Equal(t, string(flow.StatusCompleted), data["to"])
}

func TestClientConfigFrom(t *testing.T) {
	tests := []struct {
		name     string
		pingIn   time.Duration
		pongIn   time.Duration
		wantPing time.Duration
		wantPong time.Duration
	}{
		{name: "defaults", wantPing: 54 * time.Second, wantPong: 60 * time.Second},
		{name: "explicit", pingIn: 5 * time.Second, pongIn: 10 * time.Second, wantPing: 5 * time.Second, wantPong: 10 * time.Second},
		{name: "ping not below pong", pingIn: 20 * time.Second, pongIn: 10 * time.Second, wantPing: 9 * time.Second, wantPong: 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc := ClientConfigFrom(configFor(tt.pingIn, tt.pongIn))
			assert.Equal(t, tt.wantPing, cc.PingPeriod)
			assert.Equal(t, tt.wantPong, cc.PongWait)
		})
	}
}
