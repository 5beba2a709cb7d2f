package controller

import (
	"sync/atomic"
	"time"

	"telemetry-logger/models"
	"telemetry-logger/services/metrics"
	"telemetry-logger/utils"
)

// EventKind identifies a presentation notification.
type EventKind int

const (
	EventNodeUpdated EventKind = iota
	EventSummary
	EventRelayStatus
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventNodeUpdated:
		return "node_updated"
	case EventSummary:
		return "summary"
	case EventRelayStatus:
		return "relay_status"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a low-priority notification for the presentation layer. It
// carries only identifiers and counts; callers pull data through the
// session's snapshot methods.
type Event struct {
	Kind   EventKind
	At     time.Time
	NodeID string            // node_updated
	Status models.NodeStatus // node_updated
	Nodes  int               // summary
	Relay  models.RelayStatus
	Err    error // disconnected; nil for a user-initiated disconnect
}

// EventBus delivers events on a bounded channel. Publish never blocks:
// when the consumer falls behind the event is dropped and counted.
type EventBus struct {
	ch      chan Event
	dropped uint64
	metrics *metrics.Metrics
}

func NewEventBus(buffer int, m *metrics.Metrics) *EventBus {
	if buffer <= 0 {
		buffer = 256
	}
	if m == nil {
		m = metrics.NewIsolated()
	}
	return &EventBus{ch: make(chan Event, buffer), metrics: m}
}

// Publish reports whether ev was queued.
func (b *EventBus) Publish(ev Event) bool {
	select {
	case b.ch <- ev:
		return true
	default:
		n := atomic.AddUint64(&b.dropped, 1)
		b.metrics.EventsDropped.Inc()
		if n == 1 || n%1000 == 0 {
			utils.L().Warn("event channel full, %d events dropped so far", n)
		}
		return false
	}
}

// Events is the receive side for the presentation layer.
func (b *EventBus) Events() <-chan Event { return b.ch }

func (b *EventBus) Dropped() uint64 { return atomic.LoadUint64(&b.dropped) }
