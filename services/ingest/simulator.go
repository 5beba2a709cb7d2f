package ingest

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	"telemetry-logger/utils"
)

// SimPortName is what the simulated relay reports as its port.
const SimPortName = "sim://relay"

// SimulatedRelay is a Port that produces the relay's serial output
// without hardware: handshakes, frames in both wire formats and the
// usual separators, status lines and line noise.
type SimulatedRelay struct {
	cfg   utils.SimulationConfig
	clock utils.Clock
	rng   *rand.Rand

	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	started  time.Time
	next     time.Time
	interval time.Duration
	tick     uint64
}

func NewSimulatedRelay(cfg utils.SimulationConfig, clock utils.Clock, seed int64) *SimulatedRelay {
	if clock == nil {
		clock = utils.RealClock()
	}
	rate := cfg.RateHz
	if rate <= 0 {
		rate = 20
	}
	return &SimulatedRelay{
		cfg:      cfg,
		clock:    clock,
		rng:      rand.New(rand.NewSource(seed)),
		interval: time.Second / time.Duration(rate),
	}
}

// SimulatedOpener returns an Opener that ignores the port name and baud.
func SimulatedOpener(cfg utils.SimulationConfig, clock utils.Clock) Opener {
	return func(string, int, time.Duration) (Port, error) {
		return NewSimulatedRelay(cfg, clock, time.Now().UnixNano()), nil
	}
}

func (s *SimulatedRelay) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, os.ErrClosed
	}

	now := s.clock.Now()
	if s.started.IsZero() {
		s.started = now
		s.next = now
		s.greet()
	}
	if s.buf.Len() == 0 {
		if d := s.cfg.Duration(); d > 0 && now.Sub(s.started) >= d {
			return 0, io.EOF
		}
		for !now.Before(s.next) && s.buf.Len() < len(p) {
			s.emitTick(s.next.Sub(s.started))
			s.next = s.next.Add(s.interval)
		}
	}
	if s.buf.Len() == 0 {
		return 0, nil
	}
	return s.buf.Read(p)
}

func (s *SimulatedRelay) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *SimulatedRelay) line(format string, args ...any) {
	fmt.Fprintf(&s.buf, format+"\r\n", args...)
}

func (s *SimulatedRelay) greet() {
	s.line("ESP32 relay booting")
	s.line("--------------------------------------------------")
	for i, id := range s.cfg.Nodes {
		s.line("Received HELLO from Node ID: %s", id)
		s.line("Sent WELCOME to IP:192.168.4.%d -> WELCOME:%s:4210", i+2, id)
	}
}

// emitTick writes one frame per node at node-local time elapsed.
// Even ticks use the relayed JSON form, odd ticks the DATA: form.
func (s *SimulatedRelay) emitTick(elapsed time.Duration) {
	s.tick++
	step := float64(s.tick) * 0.05
	tsMs := uint64(elapsed / time.Millisecond)

	for i, id := range s.cfg.Nodes {
		phase := step + float64(i)
		ax := 0.2*math.Sin(phase) + s.rng.Float64()*0.05
		ay := 0.1*math.Cos(phase) + s.rng.Float64()*0.05
		az := 9.81 + s.rng.Float64()*0.02
		gx := 0.5*math.Sin(phase*2) + s.rng.Float64()*0.01
		gy := 0.5*math.Cos(phase*2) + s.rng.Float64()*0.01
		gz := 0.05 + s.rng.Float64()*0.002
		nodeTs := tsMs + uint64(i)*250

		if s.tick%2 == 0 {
			s.line(`Processed UDP from Queue: {"id":"%s","ax":%.4f,"ay":%.4f,"az":%.4f,"gx":%.4f,"gy":%.4f,"gz":%.4f,"ts":%d}`,
				id, ax, ay, az, gx, gy, gz, nodeTs)
		} else {
			s.line("DATA:%s:%d:%d:%.4f:%.4f:%.4f:%.4f:%.4f:%.4f",
				id, s.tick, nodeTs, ax, ay, az, gx, gy, gz)
		}
	}

	if !s.cfg.NoiseEnabled() {
		return
	}
	switch s.tick % 50 {
	case 10:
		s.line("--------------------------------------------------")
	case 20:
		s.line("Server Uptime: %d seconds", int64(elapsed/time.Second))
	case 30:
		s.line("DEBUG: WiFi SoftAP Connected Clients (WiFi layer): --- %d clients", len(s.cfg.Nodes))
	case 40:
		s.buf.Write([]byte("gar\xffbage \xfe\xfd after reconnect\r\n"))
	}
}
