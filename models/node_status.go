package models

// NodeStatus is the liveness state of a registered node.
type NodeStatus int

const (
	StatusHandshaking NodeStatus = iota
	StatusActive
)

var statusNames = map[NodeStatus]string{
	StatusHandshaking: "Handshaking",
	StatusActive:      "Active",
}

func (s NodeStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "Unknown"
}

// NodeSnapshot is an immutable copy of one registry entry, handed to the
// presentation layer.
type NodeSnapshot struct {
	NodeID  string
	Status  NodeStatus
	Latest  *SensorFrame // nil until the first frame arrives
	Samples int          // frames currently held in the history buffer
}

// Frame returns the latest frame, or a zero frame carrying only the node id
// when the node has only handshaken.
func (n NodeSnapshot) Frame() SensorFrame {
	if n.Latest != nil {
		return *n.Latest
	}
	return SensorFrame{NodeID: n.NodeID}
}

// CSVRow serialises the snapshot's latest state for a point-in-time export.
func (n NodeSnapshot) CSVRow() []string {
	return n.Frame().CSVRowWithStatus(n.Status)
}
