package controller

import (
	"time"

	"telemetry-logger/models"
	"telemetry-logger/services/metrics"
	"telemetry-logger/services/parse"
	"telemetry-logger/services/registry"
	"telemetry-logger/utils"
)

// RecordSink receives frames while a recording session is active.
type RecordSink interface {
	Recording() bool
	Enqueue(f models.SensorFrame) bool
}

// DispatchStats counts what the dispatcher has seen since the last Reset.
type DispatchStats struct {
	Lines        uint64
	Frames       uint64
	Handshakes   uint64
	RelayStatus  uint64
	Unrecognized uint64
	Recorded     uint64
}

// Dispatcher classifies lines and applies them to the registry. It is not
// safe for concurrent use: the session drives it from a single goroutine
// and guards it together with the registry.
type Dispatcher struct {
	registry *registry.NodeRegistry
	sink     RecordSink
	events   *EventBus
	metrics  *metrics.Metrics
	clock    utils.Clock

	summaryEvery time.Duration
	lastSummary  time.Time
	relay        models.RelayStatus
	stats        DispatchStats
}

func NewDispatcher(reg *registry.NodeRegistry, sink RecordSink, events *EventBus,
	m *metrics.Metrics, clock utils.Clock, summaryEvery time.Duration) *Dispatcher {
	if clock == nil {
		clock = utils.RealClock()
	}
	if m == nil {
		m = metrics.NewIsolated()
	}
	return &Dispatcher{
		registry:     reg,
		sink:         sink,
		events:       events,
		metrics:      m,
		clock:        clock,
		summaryEvery: summaryEvery,
		lastSummary:  clock.Now(),
	}
}

// OnLine handles one raw line and returns how it was classified.
// Unrecognized lines are logged at debug level and otherwise ignored.
func (d *Dispatcher) OnLine(line string) parse.Result {
	d.stats.Lines++
	res := parse.Parse(line)
	d.metrics.LinesParsed.WithLabelValues(res.Kind.String()).Inc()

	switch res.Kind {
	case parse.KindFrame:
		d.stats.Frames++
		st, _ := d.registry.UpsertFrame(res.Frame)
		if d.sink != nil && d.sink.Recording() && d.sink.Enqueue(res.Frame) {
			d.stats.Recorded++
		}
		d.publish(Event{Kind: EventNodeUpdated, NodeID: st.NodeID, Status: st.Status})

	case parse.KindHandshake:
		d.stats.Handshakes++
		st, created := d.registry.UpsertHandshake(res.Handshake)
		if created {
			utils.L().Info("node %s announced itself", st.NodeID)
		}
		d.publish(Event{Kind: EventNodeUpdated, NodeID: st.NodeID, Status: st.Status})

	case parse.KindRelayStatus:
		d.stats.RelayStatus++
		d.relay = d.relay.Merge(res.Status)
		d.publish(Event{Kind: EventRelayStatus, Relay: d.relay})

	default:
		d.stats.Unrecognized++
		d.metrics.Unrecognized.WithLabelValues(string(res.Reason)).Inc()
		utils.L().Debug("dropped line (%s): %q", res.Reason, line)
	}

	d.metrics.NodesRegistered.Set(float64(d.registry.Len()))
	d.Heartbeat()
	return res
}

// Heartbeat emits a summary event when the interval has elapsed and at
// least one node is registered. Returns whether a summary was emitted.
func (d *Dispatcher) Heartbeat() bool {
	now := d.clock.Now()
	if now.Sub(d.lastSummary) < d.summaryEvery {
		return false
	}
	d.lastSummary = now
	n := d.registry.Len()
	if n == 0 {
		return false
	}
	d.publish(Event{Kind: EventSummary, Nodes: n, Relay: d.relay})
	return true
}

// OnFault reports the end of the line sequence. err is nil when the
// connection was closed by the user.
func (d *Dispatcher) OnFault(err error) {
	if err != nil {
		utils.L().Error("connection lost: %v", err)
	}
	d.publish(Event{Kind: EventDisconnected, Err: err})
}

// Reset clears the registry, relay status and counters for a new connection.
func (d *Dispatcher) Reset() {
	d.registry.Clear()
	d.relay = models.RelayStatus{}
	d.stats = DispatchStats{}
	d.lastSummary = d.clock.Now()
	d.metrics.NodesRegistered.Set(0)
}

func (d *Dispatcher) RelayStatus() models.RelayStatus { return d.relay }
func (d *Dispatcher) Stats() DispatchStats            { return d.stats }

func (d *Dispatcher) publish(ev Event) {
	if d.events == nil {
		return
	}
	ev.At = d.clock.Now()
	d.events.Publish(ev)
}
