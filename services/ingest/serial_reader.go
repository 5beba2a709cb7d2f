package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/transform"

	"telemetry-logger/services/metrics"
	"telemetry-logger/services/queue"
	"telemetry-logger/utils"
)

const readChunk = 4096

// SerialReader owns one relay connection. Its goroutine polls the port,
// splits the byte stream into lines and pushes them onto Lines(). The
// sequence ends on Close or on the first I/O fault; it never restarts.
type SerialReader struct {
	cfg     utils.SerialConfig
	port    Port
	lines   *queue.Queue[string]
	decoder transform.Transformer
	metrics *metrics.Metrics

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
	stopping  atomic.Bool

	errMu sync.Mutex
	err   error

	produced  uint64
	truncated uint64
}

// Open connects to cfg.Port. Any failure is a connection error and no
// goroutine is started.
func Open(open Opener, cfg utils.SerialConfig, m *metrics.Metrics) (*SerialReader, error) {
	if strings.TrimSpace(cfg.Port) == "" {
		return nil, utils.WrapConfig("open serial", utils.ErrEmptyPort)
	}
	port, err := open(cfg.Port, cfg.BaudRate, cfg.ReadTimeout())
	if err != nil {
		if errors.Is(err, utils.ErrUnsupportedBaud) {
			return nil, utils.WrapConfig("open "+cfg.Port, err)
		}
		return nil, utils.WrapConnection("open "+cfg.Port, err)
	}
	if m == nil {
		m = metrics.NewIsolated()
	}
	return &SerialReader{
		cfg:     cfg,
		port:    port,
		lines:   queue.New[string](),
		decoder: newLossyDecoder(),
		metrics: m,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the polling goroutine. Later calls are no-ops.
func (r *SerialReader) Start() {
	r.startOnce.Do(func() {
		go r.run()
		utils.L().Info("serial reader started  (port=%s, baud=%d, poll=%s)",
			r.cfg.Port, r.cfg.BaudRate, r.cfg.PollInterval())
	})
}

// Lines is the hand-off queue consumed by the dispatcher.
func (r *SerialReader) Lines() *queue.Queue[string] { return r.lines }

// Done is closed once the polling goroutine has exited.
func (r *SerialReader) Done() <-chan struct{} { return r.done }

// Err returns the fault that ended the sequence, or nil if it ended by
// Close. Only meaningful after Done.
func (r *SerialReader) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Port returns the configured port name.
func (r *SerialReader) Port() string { return r.cfg.Port }

// Close stops the goroutine, waits up to the close timeout for it and
// releases the port. Safe to call repeatedly and from any goroutine.
func (r *SerialReader) Close() error {
	r.closeOnce.Do(func() {
		r.stopping.Store(true)
		close(r.stop)

		r.startOnce.Do(func() { close(r.done) })
		select {
		case <-r.done:
		case <-time.After(r.cfg.CloseTimeout()):
			utils.L().Warn("serial reader on %s did not stop within %s", r.cfg.Port, r.cfg.CloseTimeout())
		}
		r.closeErr = r.port.Close()
		utils.L().Info("serial reader stopped  (port=%s, lines=%d, truncated=%d)",
			r.cfg.Port, atomic.LoadUint64(&r.produced), atomic.LoadUint64(&r.truncated))
	})
	return r.closeErr
}

// Stats returns lines produced and lines cut at max_line_bytes.
func (r *SerialReader) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&r.produced), atomic.LoadUint64(&r.truncated)
}

func (r *SerialReader) run() {
	defer close(r.done)

	buf := make([]byte, readChunk)
	var pending []byte
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		n, err := r.port.Read(buf)
		if n > 0 {
			pending = r.split(append(pending, buf[:n]...))
		}
		if err != nil {
			if r.stopping.Load() {
				return
			}
			r.emit(pending)
			r.fail(err)
			return
		}
		if n == 0 {
			select {
			case <-r.stop:
				return
			case <-time.After(r.cfg.PollInterval()):
			}
		}
	}
}

// split emits every complete line in b and returns the unterminated tail.
func (r *SerialReader) split(b []byte) []byte {
	start := 0
	for {
		i := bytes.IndexByte(b[start:], '\n')
		if i < 0 {
			break
		}
		r.emit(b[start : start+i])
		start += i + 1
	}
	rest := append(b[:0], b[start:]...)
	if len(rest) >= r.cfg.MaxLineBytes {
		atomic.AddUint64(&r.truncated, 1)
		r.emit(rest)
		return rest[:0]
	}
	return rest
}

func (r *SerialReader) emit(b []byte) {
	b = bytes.TrimSuffix(b, []byte("\r"))
	if len(bytes.TrimSpace(b)) == 0 {
		return
	}
	line := decodeLossy(r.decoder, b)
	if strings.TrimSpace(line) == "" {
		return
	}
	r.lines.Push(line)
	atomic.AddUint64(&r.produced, 1)
	r.metrics.LinesRead.Inc()
}

func (r *SerialReader) fail(err error) {
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("port closed by peer: %w", err)
	}
	r.errMu.Lock()
	r.err = utils.WrapConnection("read "+r.cfg.Port, err)
	r.errMu.Unlock()
	r.metrics.ReaderFaults.Inc()
	utils.L().Error("serial reader fault on %s: %v", r.cfg.Port, err)
}
