package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-logger/models"
	"telemetry-logger/services/parse"
	"telemetry-logger/services/registry"
	"telemetry-logger/utils"
)

const sensor1Line = `{"id":"Sensor_1","ax":1.23,"ay":-4.5,"az":9.81,"gx":0.1,"gy":0.2,"gz":0.3,"ts":1000}`

type fakeSink struct {
	recording bool
	frames    []models.SensorFrame
}

func (s *fakeSink) Recording() bool { return s.recording }
func (s *fakeSink) Enqueue(f models.SensorFrame) bool {
	s.frames = append(s.frames, f)
	return true
}

func newTestDispatcher(sink RecordSink, buffer int) (*Dispatcher, *registry.NodeRegistry, *EventBus, *utils.FakeClock) {
	clock := utils.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	reg := registry.New(utils.DefaultHistoryCapacity)
	bus := NewEventBus(buffer, nil)
	return NewDispatcher(reg, sink, bus, nil, clock, 5*time.Second), reg, bus, clock
}

func drainEvents(bus *EventBus) []Event {
	var out []Event
	for {
		select {
		case ev := <-bus.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestDispatchFrameUpdatesRegistryAndSink(t *testing.T) {
	sink := &fakeSink{recording: true}
	d, reg, bus, _ := newTestDispatcher(sink, 16)

	res := d.OnLine(sensor1Line)
	require.Equal(t, parse.KindFrame, res.Kind)

	snap, ok := reg.Get("Sensor_1")
	require.True(t, ok)
	assert.Equal(t, models.StatusActive, snap.Status)
	require.Len(t, sink.frames, 1)
	assert.Equal(t, uint64(1_000_000), sink.frames[0].TimestampUs)

	events := drainEvents(bus)
	require.Len(t, events, 1)
	assert.Equal(t, EventNodeUpdated, events[0].Kind)
	assert.Equal(t, "Sensor_1", events[0].NodeID)
	assert.Equal(t, uint64(1), d.Stats().Recorded)
}

func TestDispatchSkipsSinkWhenNotRecording(t *testing.T) {
	sink := &fakeSink{}
	d, reg, _, _ := newTestDispatcher(sink, 16)

	d.OnLine("DATA:Sensor_2:x:500:1.0:2.0:3.0:4.0:5.0:6.0")
	assert.True(t, reg.Has("Sensor_2"))
	assert.Empty(t, sink.frames)
	assert.Equal(t, uint64(0), d.Stats().Recorded)
}

func TestDispatchGarbageLeavesStateUnchanged(t *testing.T) {
	sink := &fakeSink{recording: true}
	d, reg, bus, _ := newTestDispatcher(sink, 16)

	res := d.OnLine("garbage not json or data")
	assert.Equal(t, parse.KindUnrecognized, res.Kind)
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, sink.frames)
	assert.Empty(t, drainEvents(bus))
	assert.Equal(t, uint64(1), d.Stats().Unrecognized)
}

func TestDispatchHandshakeThenFrame(t *testing.T) {
	d, reg, _, _ := newTestDispatcher(nil, 16)

	d.OnLine("Received HELLO from Node ID: Sensor_1")
	snap, ok := reg.Get("Sensor_1")
	require.True(t, ok)
	assert.Equal(t, models.StatusHandshaking, snap.Status)
	assert.Nil(t, snap.Latest)

	d.OnLine(sensor1Line)
	snap, _ = reg.Get("Sensor_1")
	assert.Equal(t, models.StatusActive, snap.Status)
	assert.Equal(t, 1, reg.Len())
}

func TestDispatchRelayStatusMerges(t *testing.T) {
	d, _, bus, _ := newTestDispatcher(nil, 16)

	d.OnLine("Server Uptime: 12 seconds")
	d.OnLine("DEBUG: WiFi SoftAP Connected Clients (WiFi layer): --- 2 clients")

	st := d.RelayStatus()
	require.NotNil(t, st.UptimeSeconds)
	require.NotNil(t, st.ConnectedClients)
	assert.Equal(t, int64(12), *st.UptimeSeconds)
	assert.Equal(t, 2, *st.ConnectedClients)

	events := drainEvents(bus)
	require.Len(t, events, 2)
	assert.Equal(t, EventRelayStatus, events[1].Kind)
}

func TestHeartbeatNeedsNodesAndInterval(t *testing.T) {
	d, _, bus, clock := newTestDispatcher(nil, 16)

	clock.Advance(6 * time.Second)
	assert.False(t, d.Heartbeat(), "no nodes registered")

	d.OnLine("WELCOME:Node_A:4210")
	drainEvents(bus)
	assert.False(t, d.Heartbeat(), "interval restarted by the empty check")

	clock.Advance(5 * time.Second)
	assert.True(t, d.Heartbeat())
	events := drainEvents(bus)
	require.Len(t, events, 1)
	assert.Equal(t, EventSummary, events[0].Kind)
	assert.Equal(t, 1, events[0].Nodes)

	clock.Advance(time.Second)
	assert.False(t, d.Heartbeat())
}

func TestEventOverflowNeverBlocks(t *testing.T) {
	d, reg, bus, _ := newTestDispatcher(nil, 1)

	for range 5 {
		d.OnLine(sensor1Line)
	}
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, uint64(4), bus.Dropped())
	assert.Len(t, drainEvents(bus), 1)
}

func TestDispatcherReset(t *testing.T) {
	d, reg, _, _ := newTestDispatcher(nil, 16)
	d.OnLine(sensor1Line)
	d.OnLine("Server Uptime: 3 seconds")

	d.Reset()
	assert.Equal(t, 0, reg.Len())
	assert.Nil(t, d.RelayStatus().UptimeSeconds)
	assert.Equal(t, DispatchStats{}, d.Stats())
}
