package parse

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-logger/models"
)

func TestParseJSONFrame(t *testing.T) {
	res := Parse(`{"id":"Sensor_1","ax":1.23,"ay":-4.5,"az":9.81,"gx":0.1,"gy":0.2,"gz":0.3,"ts":1000}`)

	require.Equal(t, KindFrame, res.Kind)
	assert.Equal(t, models.SensorFrame{
		NodeID:      "Sensor_1",
		AX:          1.23,
		AY:          -4.5,
		AZ:          9.81,
		GX:          0.1,
		GY:          0.2,
		GZ:          0.3,
		TimestampUs: 1_000_000,
	}, res.Frame)
}

func TestParseJSONWithRelayMarkers(t *testing.T) {
	payload := `{"id":"N7","ax":0,"ay":0,"az":1,"gx":0,"gy":0,"gz":0,"ts":42}`
	lines := []string{
		"Processed UDP from Queue: " + payload,
		"[relay] Processed UDP from Queue:" + payload + "   ",
		"Received UDP from 192.168.4.2:4210 -> " + payload,
	}
	for _, line := range lines {
		res := Parse(line)
		require.Equal(t, KindFrame, res.Kind, line)
		assert.Equal(t, "N7", res.Frame.NodeID)
		assert.Equal(t, uint64(42_000), res.Frame.TimestampUs)
	}
}

func TestParseJSONCoercions(t *testing.T) {
	tests := []struct {
		name string
		line string
		id   string
		ax   float64
		tsUs uint64
	}{
		{"numeric strings", `{"id":"A","ax":"1.5","ay":0,"az":0,"gx":0,"gy":0,"gz":0,"ts":"7"}`, "A", 1.5, 7000},
		{"fractional ts truncated", `{"id":"A","ax":2,"ay":0,"az":0,"gx":0,"gy":0,"gz":0,"ts":12.9}`, "A", 2, 12000},
		{"numeric id", `{"id":3,"ax":0,"ay":0,"az":0,"gx":0,"gy":0,"gz":0,"ts":1}`, "3", 0, 1000},
		{"extra keys ignored", `{"id":"B","ax":0,"ay":0,"az":0,"gx":0,"gy":0,"gz":0,"ts":0,"rssi":-60}`, "B", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse(tt.line)
			require.Equal(t, KindFrame, res.Kind)
			assert.Equal(t, tt.id, res.Frame.NodeID)
			assert.Equal(t, tt.ax, res.Frame.AX)
			assert.Equal(t, tt.tsUs, res.Frame.TimestampUs)
		})
	}
}

func TestParseJSONTimestampScaling(t *testing.T) {
	for _, ts := range []uint64{0, 1, 999, 123456, 4_000_000_000} {
		line := fmt.Sprintf(`{"id":"S","ax":1,"ay":2,"az":3,"gx":4,"gy":5,"gz":6,"ts":%d}`, ts)
		res := Parse(line)
		require.Equal(t, KindFrame, res.Kind)
		assert.Equal(t, ts*1000, res.Frame.TimestampUs)
	}
}

func TestParseDataFrame(t *testing.T) {
	res := Parse("DATA:Sensor_2:x:500:1.0:2.0:3.0:4.0:5.0:6.0")

	require.Equal(t, KindFrame, res.Kind)
	assert.Equal(t, models.SensorFrame{
		NodeID:      "Sensor_2",
		AX:          1,
		AY:          2,
		AZ:          3,
		GX:          4,
		GY:          5,
		GZ:          6,
		TimestampUs: 500_000,
	}, res.Frame)
}

func TestParseDataTimestampScaling(t *testing.T) {
	for _, ts := range []uint64{0, 7, 86_400_000} {
		res := Parse(fmt.Sprintf("DATA:N:0:%d:0:0:0:0:0:0:extra", ts))
		require.Equal(t, KindFrame, res.Kind)
		assert.Equal(t, ts*1000, res.Frame.TimestampUs)
	}
}

func TestParseMalformed(t *testing.T) {
	lines := []string{
		"garbage not json or data",
		`{"id":"S","ax":1,"ay":2,"az":3,"gx":4,"gy":5,"gz":6}`,
		`{"id":"S","ax":"abc","ay":2,"az":3,"gx":4,"gy":5,"gz":6,"ts":1}`,
		`{"id":"S","ax":1,"ay":2,"az":3,"gx":4,"gy":5,"gz":6,"ts":-5}`,
		`{"id":"","ax":1,"ay":2,"az":3,"gx":4,"gy":5,"gz":6,"ts":1}`,
		`{"id":"S","ax":true,"ay":2,"az":3,"gx":4,"gy":5,"gz":6,"ts":1}`,
		`{"id":"S","ax":1,"ay":2,"az":3,`,
		"Processed UDP from Queue: {broken",
		"DATA:Sensor_2:x:500:1.0:2.0:3.0",
		"DATA:Sensor_2:x:abc:1.0:2.0:3.0:4.0:5.0:6.0",
		"DATA:Sensor_2:x:500:1.0:2.0:nan:4.0:5.0:6.0",
		"DATA::x:500:1.0:2.0:3.0:4.0:5.0:6.0",
		"DATA:Sensor_2:x:-1:1.0:2.0:3.0:4.0:5.0:6.0",
		"\x00\x01\x02",
		"",
		"   ",
	}
	for _, line := range lines {
		var res Result
		require.NotPanics(t, func() { res = Parse(line) }, line)
		assert.Equal(t, KindUnrecognized, res.Kind, line)
		assert.NotEqual(t, ReasonNone, res.Reason, line)
	}
}

func TestParseUnrecognizedReasons(t *testing.T) {
	assert.Equal(t, ReasonSeparator, Parse("--------------------------------------------------").Reason)
	assert.Equal(t, ReasonSeparator, Parse("  -------------------------------------------------  ").Reason)
	assert.Equal(t, ReasonEmpty, Parse("\r\n").Reason)
	assert.Equal(t, ReasonMalformed, Parse("DATA:short").Reason)
	assert.Equal(t, ReasonUnsupported, Parse("boot: esp32 relay v2").Reason)
	assert.Equal(t, ReasonUnsupported, Parse("---").Reason)
}

func TestParseHandshake(t *testing.T) {
	tests := []struct {
		line string
		id   string
	}{
		{"Received HELLO from Node ID: Sensor_1", "Sensor_1"},
		{"Received HELLO from Node ID:Sensor_9 (192.168.4.3)", "Sensor_9"},
		{"Sent WELCOME to IP:192.168.4.2 -> WELCOME:Sensor_1:4210", "Sensor_1"},
		{"WELCOME: Node_A ", "Node_A"},
	}
	for _, tt := range tests {
		res := Parse(tt.line)
		require.Equal(t, KindHandshake, res.Kind, tt.line)
		assert.Equal(t, tt.id, res.Handshake.NodeID)
	}

	res := Parse("Received HELLO from Node ID:   ")
	assert.Equal(t, KindUnrecognized, res.Kind)
	assert.Equal(t, ReasonMalformed, res.Reason)
}

func TestParseRelayStatus(t *testing.T) {
	res := Parse("Server Uptime: 3600 seconds")
	require.Equal(t, KindRelayStatus, res.Kind)
	require.NotNil(t, res.Status.UptimeSeconds)
	assert.Equal(t, int64(3600), *res.Status.UptimeSeconds)
	assert.Nil(t, res.Status.ConnectedClients)

	res = Parse("DEBUG: WiFi SoftAP Connected Clients (WiFi layer): --- 3 clients")
	require.Equal(t, KindRelayStatus, res.Kind)
	require.NotNil(t, res.Status.ConnectedClients)
	assert.Equal(t, 3, *res.Status.ConnectedClients)

	assert.Equal(t, KindUnrecognized, Parse("Server Uptime: soon").Kind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "frame", KindFrame.String())
	assert.Equal(t, "handshake", KindHandshake.String())
	assert.Equal(t, "relay_status", KindRelayStatus.String())
	assert.Equal(t, "unrecognized", KindUnrecognized.String())
}
