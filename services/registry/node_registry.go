// Package registry holds the live per-node state fed by the ingestion
// dispatcher.
//
// NodeRegistry is not safe for concurrent use. It has a single writer (the
// dispatcher, under the session lock); readers receive copies from
// Snapshot and History.
package registry

import (
	"sort"

	"telemetry-logger/models"
)

// NodeState is the live state of one node.
type NodeState struct {
	NodeID  string
	Status  models.NodeStatus
	Latest  *models.SensorFrame
	History *Ring[models.SensorFrame]
}

func (n *NodeState) snapshot() models.NodeSnapshot {
	s := models.NodeSnapshot{
		NodeID:  n.NodeID,
		Status:  n.Status,
		Samples: n.History.Len(),
	}
	if n.Latest != nil {
		latest := *n.Latest
		s.Latest = &latest
	}
	return s
}

// NodeRegistry maps node ids to their state.
type NodeRegistry struct {
	capacity int
	nodes    map[string]*NodeState
}

// New creates a registry whose per-node history holds capacity frames.
func New(capacity int) *NodeRegistry {
	if capacity <= 0 {
		capacity = 1
	}
	return &NodeRegistry{
		capacity: capacity,
		nodes:    make(map[string]*NodeState),
	}
}

func (r *NodeRegistry) ensure(nodeID string) (*NodeState, bool) {
	if n, ok := r.nodes[nodeID]; ok {
		return n, false
	}
	n := &NodeState{
		NodeID:  nodeID,
		Status:  models.StatusHandshaking,
		History: NewRing[models.SensorFrame](r.capacity),
	}
	r.nodes[nodeID] = n
	return n, true
}

// UpsertHandshake registers nodeID if unseen and marks it Handshaking.
// Latest and history are kept. created reports a new entry.
func (r *NodeRegistry) UpsertHandshake(ev models.HandshakeEvent) (*NodeState, bool) {
	n, created := r.ensure(ev.NodeID)
	n.Status = models.StatusHandshaking
	return n, created
}

// UpsertFrame registers the frame's node if unseen, marks it Active,
// replaces its latest frame and appends to its history.
func (r *NodeRegistry) UpsertFrame(f models.SensorFrame) (*NodeState, bool) {
	n, created := r.ensure(f.NodeID)
	n.Status = models.StatusActive
	latest := f
	n.Latest = &latest
	n.History.Push(f)
	return n, created
}

// Snapshot copies every node, ordered by id.
func (r *NodeRegistry) Snapshot() []models.NodeSnapshot {
	out := make([]models.NodeSnapshot, 0, len(r.nodes))
	for _, id := range r.IDs() {
		out = append(out, r.nodes[id].snapshot())
	}
	return out
}

// Get copies a single node.
func (r *NodeRegistry) Get(nodeID string) (models.NodeSnapshot, bool) {
	n, ok := r.nodes[nodeID]
	if !ok {
		return models.NodeSnapshot{}, false
	}
	return n.snapshot(), true
}

// History copies a node's buffered frames, oldest first.
func (r *NodeRegistry) History(nodeID string) []models.SensorFrame {
	n, ok := r.nodes[nodeID]
	if !ok {
		return nil
	}
	return n.History.Items()
}

// IDs returns the registered ids in lexicographic order.
func (r *NodeRegistry) IDs() []string {
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *NodeRegistry) Has(nodeID string) bool {
	_, ok := r.nodes[nodeID]
	return ok
}

func (r *NodeRegistry) Len() int { return len(r.nodes) }

// Clear removes every node; called on disconnect.
func (r *NodeRegistry) Clear() {
	clear(r.nodes)
}
