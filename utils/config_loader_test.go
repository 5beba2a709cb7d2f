package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 10*time.Millisecond, cfg.Serial.PollInterval())
	assert.Equal(t, time.Second, cfg.Serial.CloseTimeout())
	assert.Equal(t, 200, cfg.Registry.HistoryCapacity)
	assert.Equal(t, 5*time.Second, cfg.Dispatcher.SummaryInterval())
	assert.Equal(t, 5*time.Millisecond, cfg.Recording.IdlePoll())
	assert.Equal(t, 5*time.Second, cfg.Recording.StopTimeout())
	assert.Equal(t, DefaultStateFile, cfg.Recording.StateFile)
	assert.Equal(t, []string{"Sensor_1", "Sensor_2"}, cfg.Simulation.Nodes)
	assert.True(t, cfg.Simulation.NoiseEnabled())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.yaml")
	yaml := `
serial:
  port: /dev/ttyUSB1
  baud_rate: 57600
registry:
  history_capacity: 50
recording:
  output_dir: /tmp/rec
  base_name: flight
simulation:
  enabled: true
  nodes: [N1]
  noise: false
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 57600, cfg.Serial.BaudRate)
	assert.Equal(t, 50, cfg.Registry.HistoryCapacity)
	assert.Equal(t, "flight", cfg.Recording.BaseName)
	assert.Equal(t, []string{"N1"}, cfg.Simulation.Nodes)
	assert.False(t, cfg.Simulation.NoiseEnabled())
	assert.Equal(t, 20, cfg.Simulation.RateHz)
	assert.Equal(t, 64*1024, cfg.Serial.MaxLineBytes)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, IsConfig(err))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("serial: [unterminated"), 0644))
	_, err = LoadConfig(bad)
	assert.True(t, IsConfig(err))

	tooSmall := filepath.Join(t.TempDir(), "small.yaml")
	require.NoError(t, os.WriteFile(tooSmall, []byte("serial:\n  max_line_bytes: 8\n"), 0644))
	_, err = LoadConfig(tooSmall)
	assert.ErrorContains(t, err, "max_line_bytes")
}

func TestLoadConfigEmptyPathIsDefault(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x", "y"), ExpandPath("~/x/y"))
	assert.Equal(t, "/abs", ExpandPath("/abs"))
	assert.Equal(t, "rel~", ExpandPath("rel~"))
}
