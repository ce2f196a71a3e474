package flow

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// NodeStatus is the state of one pipeline stage
type NodeStatus string

const (
	StatusPending   NodeStatus = "pending"
	StatusCompleted NodeStatus = "completed"
	StatusError     NodeStatus = "error"
)

// NodeID names a pipeline stage
type NodeID string

const (
	NodeExtract   NodeID = "extract"
	NodeClean     NodeID = "clean"
	NodeFilter    NodeID = "filter"
	NodeTransform NodeID = "transform"
	NodeLoad      NodeID = "load"
	NodeChart     NodeID = "chart"
	NodeExport    NodeID = "export"
)

// RunState summarises a whole run
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

var (
	// ErrInvalidTransition is returned when a node is not pending
	ErrInvalidTransition = errors.New("invalid flow transition")
	// ErrUnknownNode is returned for node IDs outside the topology
	ErrUnknownNode = errors.New("unknown flow node")
)

// Node is one stage in the flow graph
type Node struct {
	ID         NodeID     `json:"id"`
	Label      string     `json:"label"`
	Status     NodeStatus `json:"status"`
	Message    string     `json:"message,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Edge connects two nodes
type Edge struct {
	From  NodeID `json:"from"`
	To    NodeID `json:"to"`
	Label string `json:"label,omitempty"`
}

// Status is a point-in-time copy of a run's flow graph
type Status struct {
	RunID     string    `json:"run_id"`
	State     RunState  `json:"state"`
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Node returns the node with the given ID
func (s Status) Node(id NodeID) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Transition describes a single node status change
type Transition struct {
	RunID   string     `json:"run_id"`
	Node    NodeID     `json:"node"`
	From    NodeStatus `json:"from"`
	To      NodeStatus `json:"to"`
	Message string     `json:"message,omitempty"`
	At      time.Time  `json:"at"`
}

var topology = []struct {
	id    NodeID
	label string
}{
	{NodeExtract, "Extract"},
	{NodeClean, "Clean"},
	{NodeFilter, "Filter"},
	{NodeTransform, "Transform"},
	{NodeLoad, "Load"},
	{NodeChart, "Visualize"},
	{NodeExport, "Export"},
}

var edges = []Edge{
	{From: NodeExtract, To: NodeClean, Label: "raw table"},
	{From: NodeClean, To: NodeFilter, Label: "clean table"},
	{From: NodeFilter, To: NodeTransform, Label: "filtered rows"},
	{From: NodeTransform, To: NodeLoad, Label: "processed table"},
	{From: NodeTransform, To: NodeChart, Label: "processed table"},
	{From: NodeTransform, To: NodeExport, Label: "processed table"},
}

// Nodes returns the node IDs in topological order
func Nodes() []NodeID {
	ids := make([]NodeID, len(topology))
	for i, n := range topology {
		ids[i] = n.id
	}
	return ids
}

// Edges returns the fixed edge list
func Edges() []Edge {
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}

// Tracker records stage statuses for one run. It is safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	runID     string
	nodes     []Node
	index     map[NodeID]int
	updatedAt time.Time
	observers []func(Transition)
	now       func() time.Time
}

// NewTracker creates a tracker with every node pending
func NewTracker(runID string) *Tracker {
	t := &Tracker{
		runID: runID,
		nodes: make([]Node, len(topology)),
		index: make(map[NodeID]int, len(topology)),
		now:   time.Now,
	}
	for i, n := range topology {
		t.nodes[i] = Node{ID: n.id, Label: n.label, Status: StatusPending}
		t.index[n.id] = i
	}
	t.updatedAt = t.now().UTC()
	return t
}

// RunID returns the run this tracker belongs to
func (t *Tracker) RunID() string { return t.runID }

// OnTransition registers an observer called after every status change
func (t *Tracker) OnTransition(fn func(Transition)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// Start records the start time of a pending node. Its status is unchanged.
func (t *Tracker) Start(id NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	n := &t.nodes[i]
	if n.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, n.Status)
	}
	now := t.now().UTC()
	n.StartedAt = &now
	t.updatedAt = now
	return nil
}

// Complete moves a pending node to completed
func (t *Tracker) Complete(id NodeID) error {
	return t.transition(id, StatusCompleted, "")
}

// Fail moves a pending node to error, keeping err's message
func (t *Tracker) Fail(id NodeID, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return t.transition(id, StatusError, msg)
}

func (t *Tracker) transition(id NodeID, to NodeStatus, msg string) error {
	t.mu.Lock()
	i, ok := t.index[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	n := &t.nodes[i]
	if n.Status != StatusPending {
		from := n.Status
		t.mu.Unlock()
		return fmt.Errorf("%w: %s is %s, cannot become %s", ErrInvalidTransition, id, from, to)
	}

	now := t.now().UTC()
	if n.StartedAt == nil {
		n.StartedAt = &now
	}
	n.Status = to
	n.Message = msg
	n.FinishedAt = &now
	t.updatedAt = now

	tr := Transition{RunID: t.runID, Node: id, From: StatusPending, To: to, Message: msg, At: now}
	observers := make([]func(Transition), len(t.observers))
	copy(observers, t.observers)
	t.mu.Unlock()

	for _, fn := range observers {
		fn(tr)
	}
	return nil
}

// Snapshot returns a copy of the current graph
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	nodes := make([]Node, len(t.nodes))
	copy(nodes, t.nodes)
	return Status{
		RunID:     t.runID,
		State:     runState(nodes),
		Nodes:     nodes,
		Edges:     Edges(),
		UpdatedAt: t.updatedAt,
	}
}

func runState(nodes []Node) RunState {
	completed := 0
	for _, n := range nodes {
		switch n.Status {
		case StatusError:
			return RunFailed
		case StatusCompleted:
			completed++
		case StatusPending:
			if n.StartedAt != nil {
				return RunRunning
			}
		}
	}
	switch {
	case completed == len(nodes):
		return RunCompleted
	case completed > 0:
		return RunRunning
	default:
		return RunPending
	}
}
