package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ─── Section configs ────────────────────────────────────────────────────

type SerialConfig struct {
	Port           string `yaml:"port"`
	BaudRate       int    `yaml:"baud_rate"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	CloseTimeoutMs int    `yaml:"close_timeout_ms"`
	MaxLineBytes   int    `yaml:"max_line_bytes"`
}

type RegistryConfig struct {
	HistoryCapacity int `yaml:"history_capacity"`
}

type DispatcherConfig struct {
	SummaryIntervalMs int `yaml:"summary_interval_ms"`
	PumpIntervalMs    int `yaml:"pump_interval_ms"`
	EventBuffer       int `yaml:"event_buffer"`
}

type RecordingConfig struct {
	OutputDir     string `yaml:"output_dir"`
	BaseName      string `yaml:"base_name"`
	IdlePollMs    int    `yaml:"idle_poll_ms"`
	StopTimeoutMs int    `yaml:"stop_timeout_ms"`
	StateFile     string `yaml:"state_file"` // remembers the last output directory
}

type SimulationConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Nodes           []string `yaml:"nodes"`
	RateHz          int      `yaml:"rate_hz"`
	DurationSeconds int      `yaml:"duration_seconds"`
	Noise           *bool    `yaml:"noise"` // garbage/separator/status lines between frames
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// TelemetryConfig is the top-level structure for telemetry.yaml.
type TelemetryConfig struct {
	Serial     SerialConfig     `yaml:"serial"`
	Registry   RegistryConfig   `yaml:"registry"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Recording  RecordingConfig  `yaml:"recording"`
	Simulation SimulationConfig `yaml:"simulation"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// ─── Defaults ───────────────────────────────────────────────────────────

const (
	DefaultBaudRate        = 115200
	DefaultHistoryCapacity = 200
	DefaultStateFile       = "~/.telemetry-logger/last_dir.txt"
)

// DefaultConfig returns a config with every field at its default.
func DefaultConfig() *TelemetryConfig {
	cfg := &TelemetryConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every zero-valued field.
func (c *TelemetryConfig) ApplyDefaults() {
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}

	setInt(&c.Serial.BaudRate, DefaultBaudRate)
	setInt(&c.Serial.PollIntervalMs, 10)
	setInt(&c.Serial.ReadTimeoutMs, 100)
	setInt(&c.Serial.CloseTimeoutMs, 1000)
	setInt(&c.Serial.MaxLineBytes, 64*1024)

	setInt(&c.Registry.HistoryCapacity, DefaultHistoryCapacity)

	setInt(&c.Dispatcher.SummaryIntervalMs, 5000)
	setInt(&c.Dispatcher.PumpIntervalMs, 50)
	setInt(&c.Dispatcher.EventBuffer, 256)

	setInt(&c.Recording.IdlePollMs, 5)
	setInt(&c.Recording.StopTimeoutMs, 5000)
	if c.Recording.StateFile == "" {
		c.Recording.StateFile = DefaultStateFile
	}

	if len(c.Simulation.Nodes) == 0 {
		c.Simulation.Nodes = []string{"Sensor_1", "Sensor_2"}
	}
	setInt(&c.Simulation.RateHz, 20)
	if c.Simulation.Noise == nil {
		noise := true
		c.Simulation.Noise = &noise
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects values the pipeline cannot run with.
func (c *TelemetryConfig) Validate() error {
	if c.Serial.MaxLineBytes < 64 {
		return WrapConfig("validate", fmt.Errorf("serial.max_line_bytes too small: %d", c.Serial.MaxLineBytes))
	}
	if c.Simulation.Enabled && c.Simulation.RateHz > 1000 {
		return WrapConfig("validate", fmt.Errorf("simulation.rate_hz too high: %d", c.Simulation.RateHz))
	}
	return nil
}

// ─── Duration accessors ─────────────────────────────────────────────────

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c SerialConfig) PollInterval() time.Duration        { return ms(c.PollIntervalMs) }
func (c SerialConfig) ReadTimeout() time.Duration         { return ms(c.ReadTimeoutMs) }
func (c SerialConfig) CloseTimeout() time.Duration        { return ms(c.CloseTimeoutMs) }
func (c DispatcherConfig) SummaryInterval() time.Duration { return ms(c.SummaryIntervalMs) }
func (c DispatcherConfig) PumpInterval() time.Duration    { return ms(c.PumpIntervalMs) }
func (c RecordingConfig) IdlePoll() time.Duration         { return ms(c.IdlePollMs) }
func (c RecordingConfig) StopTimeout() time.Duration      { return ms(c.StopTimeoutMs) }
func (c SimulationConfig) Duration() time.Duration        { return time.Duration(c.DurationSeconds) * time.Second }
func (c SimulationConfig) NoiseEnabled() bool             { return c.Noise == nil || *c.Noise }

// ─── Loaders ────────────────────────────────────────────────────────────

// LoadConfig reads and parses telemetry.yaml. An empty path yields the
// defaults.
func LoadConfig(path string) (*TelemetryConfig, error) {
	var cfg TelemetryConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, WrapConfig("load config", fmt.Errorf("read %s: %w", path, err))
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, WrapConfig("load config", fmt.Errorf("parse %s: %w", path, err))
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
