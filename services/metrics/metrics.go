// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telemetry-logger/utils"
)

const namespace = "telemetry"

// Metrics holds every pipeline collector. All fields are always non-nil.
type Metrics struct {
	LinesRead        prometheus.Counter
	LinesParsed      *prometheus.CounterVec // by kind
	Unrecognized     *prometheus.CounterVec // by reason
	ReaderFaults     prometheus.Counter
	RecordsEnqueued  prometheus.Counter
	RowsWritten      prometheus.Counter
	WriteErrors      prometheus.Counter
	RecordsDiscarded prometheus.Counter
	EventsDropped    prometheus.Counter
	NodesRegistered  prometheus.Gauge
	RecordQueueDepth prometheus.Gauge
	Recording        prometheus.Gauge
	Connected        prometheus.Gauge
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LinesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "serial", Name: "lines_read_total",
			Help: "Non-empty lines delivered by the serial reader.",
		}),
		LinesParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "lines_total",
			Help: "Lines classified by the dispatcher, by parse kind.",
		}, []string{"kind"}),
		Unrecognized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "unrecognized_total",
			Help: "Dropped lines, by reason.",
		}, []string{"reason"}),
		ReaderFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "serial", Name: "faults_total",
			Help: "I/O faults that ended a serial connection.",
		}),
		RecordsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recorder", Name: "records_enqueued_total",
			Help: "Frames handed to the recorder queue.",
		}),
		RowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recorder", Name: "rows_written_total",
			Help: "CSV data rows written and flushed.",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recorder", Name: "write_errors_total",
			Help: "Per-node open or write failures.",
		}),
		RecordsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recorder", Name: "records_discarded_total",
			Help: "Queued frames discarded because the worker missed its stop deadline.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "events_dropped_total",
			Help: "Presentation events dropped because the event channel was full.",
		}),
		NodesRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "registry", Name: "nodes",
			Help: "Nodes currently registered.",
		}),
		RecordQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "recorder", Name: "queue_depth",
			Help: "Frames waiting for the recording worker.",
		}),
		Recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "recorder", Name: "active",
			Help: "1 while a recording session is open.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "serial", Name: "connected",
			Help: "1 while a serial connection is open.",
		}),
	}

	reg.MustRegister(
		m.LinesRead, m.LinesParsed, m.Unrecognized, m.ReaderFaults,
		m.RecordsEnqueued, m.RowsWritten, m.WriteErrors, m.RecordsDiscarded,
		m.EventsDropped, m.NodesRegistered, m.RecordQueueDepth,
		m.Recording, m.Connected,
	)
	return m
}

// NewIsolated returns metrics bound to a private registry, for tests and
// for runs without a metrics endpoint.
func NewIsolated() *Metrics {
	return New(prometheus.NewRegistry())
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// SetRecording and SetConnected mirror lifecycle flags into gauges.
func (m *Metrics) SetRecording(v bool) { m.Recording.Set(boolGauge(v)) }
func (m *Metrics) SetConnected(v bool) { m.Connected.Set(boolGauge(v)) }

// ─── HTTP endpoint ──────────────────────────────────────────────────────

// Server serves /metrics and /health for one registry.
type Server struct {
	addr     string
	registry *prometheus.Registry
	mu       sync.Mutex
	server   *http.Server
}

// NewRegistry returns a registry preloaded with Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func NewServer(addr string, registry *prometheus.Registry) *Server {
	return &Server{addr: addr, registry: registry}
}

// Handler returns the mux served by Start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Start serves in the background until Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("metrics server already running on %s", s.addr)
	}
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.L().Error("metrics server on %s stopped: %v", s.addr, err)
		}
	}()
	return nil
}

// Stop shuts the server down, waiting up to timeout for in-flight scrapes.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}
