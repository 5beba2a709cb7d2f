package models

// HandshakeEvent marks a node announcing itself without a sensor payload.
type HandshakeEvent struct {
	NodeID string
}

// RelayStatus carries housekeeping reported by the serial-attached relay.
// Only the field matching the parsed line is set.
type RelayStatus struct {
	UptimeSeconds    *int64
	ConnectedClients *int
}

// Merge overlays the non-nil fields of next onto s.
func (s RelayStatus) Merge(next RelayStatus) RelayStatus {
	if next.UptimeSeconds != nil {
		v := *next.UptimeSeconds
		s.UptimeSeconds = &v
	}
	if next.ConnectedClients != nil {
		v := *next.ConnectedClients
		s.ConnectedClients = &v
	}
	return s
}
