package controller

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"telemetry-logger/models"
	"telemetry-logger/services/metrics"
	"telemetry-logger/services/queue"
	"telemetry-logger/utils"
	"telemetry-logger/views"
)

// RowWriter is one node's open recording file.
type RowWriter interface {
	WriteRow(row []string) error
	Close() error
}

// WriterFactory opens path for appending, writing header if the file is empty.
type WriterFactory func(path string, header []string) (RowWriter, error)

// AppendCSV is the production WriterFactory.
func AppendCSV(path string, header []string) (RowWriter, error) {
	w, err := views.OpenAppendCSV(path, header)
	if err != nil {
		return nil, err
	}
	return w, nil
}

var errSessionClosed = errors.New("recording session already closed")

// handleSet maps node ids to open files. closed is set once Stop has
// released every handle; a worker that outlived its stop deadline can no
// longer open new files after that. mu is never held across open or Close,
// so a stuck file system call cannot block Stop.
type handleSet struct {
	mu     sync.Mutex
	files  map[string]RowWriter
	closed bool
}

// get returns nodeID's handle, opening it on first use. Only the session
// worker calls get, so two opens for the same node cannot race.
func (h *handleSet) get(nodeID string, open func() (RowWriter, error)) (RowWriter, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errSessionClosed
	}
	if w, ok := h.files[nodeID]; ok {
		h.mu.Unlock()
		return w, nil
	}
	h.mu.Unlock()

	w, err := open()
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = w.Close()
		return nil, errSessionClosed
	}
	h.files[nodeID] = w
	return w, nil
}

// drop closes and forgets one node's handle so the next frame reopens it.
func (h *handleSet) drop(nodeID string) error {
	h.mu.Lock()
	w, ok := h.files[nodeID]
	delete(h.files, nodeID)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return w.Close()
}

func (h *handleSet) closeAll() []error {
	h.mu.Lock()
	h.closed = true
	files := h.files
	h.files = make(map[string]RowWriter)
	h.mu.Unlock()

	var errs []error
	for id, w := range files {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errs
}

func (h *handleSet) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.files)
}

// recordingSession is one Start..Stop episode. mu is held shared by
// Enqueue and exclusively by Stop, so no frame can be pushed after the
// worker has been told to finish.
type recordingSession struct {
	dir   string
	base  string
	stamp string

	mu      sync.RWMutex
	stopped bool
	queue   *queue.Queue[models.SensorFrame]
	files   *handleSet
	done    chan struct{}
	rows    uint64
}

func (s *recordingSession) finishing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// SessionInfo describes the active recording session.
type SessionInfo struct {
	Dir      string
	BaseName string
	Stamp    string
	Files    int
	Rows     uint64
	Queued   int
}

// Recorder writes frames to one CSV file per node on its own goroutine.
// It moves Idle -> Recording -> Idle; Start while Recording is refused.
type Recorder struct {
	cfg     utils.RecordingConfig
	open    WriterFactory
	metrics *metrics.Metrics
	clock   utils.Clock

	lifecycle sync.Mutex
	current   atomic.Pointer[recordingSession]

	rowsWritten uint64
	writeErrors uint64
}

func NewRecorder(cfg utils.RecordingConfig, open WriterFactory, m *metrics.Metrics, clock utils.Clock) *Recorder {
	if open == nil {
		open = AppendCSV
	}
	if m == nil {
		m = metrics.NewIsolated()
	}
	if clock == nil {
		clock = utils.RealClock()
	}
	return &Recorder{cfg: cfg, open: open, metrics: m, clock: clock}
}

// prepareTarget validates a directory/base-name pair and creates the
// directory. Nothing else is touched on failure.
func prepareTarget(op, dir, base string) (string, string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", "", utils.WrapConfig(op, utils.ErrEmptyBaseName)
	}
	if strings.ContainsAny(base, `/\`) {
		return "", "", utils.WrapConfig(op, fmt.Errorf("base name %q contains a path separator", base))
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", "", utils.WrapConfig(op, errors.New("output directory is empty"))
	}
	dir = utils.ExpandPath(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", utils.WrapConfig(op, fmt.Errorf("create output directory: %w", err))
	}
	return dir, base, nil
}

// Start opens a recording session. Files are created lazily, one per node,
// on the first frame for that node.
func (r *Recorder) Start(dir, base string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.current.Load() != nil {
		utils.L().Warn("start recording ignored: a session is already active")
		return utils.WrapState("start recording", utils.ErrAlreadyRecording)
	}
	dir, base, err := prepareTarget("start recording", dir, base)
	if err != nil {
		return err
	}

	s := &recordingSession{
		dir:   dir,
		base:  base,
		stamp: utils.SessionStamp(r.clock.Now()),
		queue: queue.New[models.SensorFrame](),
		files: &handleSet{files: make(map[string]RowWriter)},
		done:  make(chan struct{}),
	}
	r.current.Store(s)
	go r.work(s)

	r.metrics.SetRecording(true)
	utils.L().Info("recording started  (dir=%s, base=%s, stamp=%s)", dir, base, s.stamp)
	return nil
}

// Recording reports whether a session is active.
func (r *Recorder) Recording() bool {
	s := r.current.Load()
	return s != nil && !s.finishing()
}

// Enqueue hands a frame to the worker without blocking. It returns false
// when no session is accepting frames.
func (r *Recorder) Enqueue(f models.SensorFrame) bool {
	s := r.current.Load()
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return false
	}
	s.queue.Push(f)
	r.metrics.RecordsEnqueued.Inc()
	r.metrics.RecordQueueDepth.Set(float64(s.queue.Len()))
	return true
}

// Stop lets the worker drain the queue, waits for it up to the stop
// timeout and then closes every file. Close failures are logged and
// returned together; they do not prevent the remaining files from closing.
func (r *Recorder) Stop() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	s := r.current.Load()
	if s == nil {
		return utils.WrapState("stop recording", utils.ErrNotRecording)
	}

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	timeout := r.cfg.StopTimeout()
	select {
	case <-s.done:
	case <-time.After(timeout):
		discarded := s.queue.Clear()
		r.metrics.RecordsDiscarded.Add(float64(discarded))
		utils.L().Warn("recording worker did not finish within %s, %d queued frames discarded", timeout, discarded)
	}

	errs := closeWithin(s.files, timeout)
	for _, err := range errs {
		utils.L().Error("recording: %v", err)
	}
	r.current.Store(nil)
	r.metrics.SetRecording(false)
	r.metrics.RecordQueueDepth.Set(0)

	utils.L().Info("recording stopped  (rows=%d, dir=%s)", atomic.LoadUint64(&s.rows), s.dir)
	if len(errs) > 0 {
		return utils.WrapIO("stop recording", errors.Join(errs...))
	}
	return nil
}

// closeWithin closes every handle, giving up after timeout so a writer
// stuck in the OS cannot hold up shutdown.
func closeWithin(h *handleSet, timeout time.Duration) []error {
	result := make(chan []error, 1)
	go func() { result <- h.closeAll() }()
	select {
	case errs := <-result:
		return errs
	case <-time.After(timeout):
		return []error{fmt.Errorf("files still closing after %s", timeout)}
	}
}

// Info describes the active session; ok is false when idle.
func (r *Recorder) Info() (SessionInfo, bool) {
	s := r.current.Load()
	if s == nil {
		return SessionInfo{}, false
	}
	return SessionInfo{
		Dir:      s.dir,
		BaseName: s.base,
		Stamp:    s.stamp,
		Files:    s.files.len(),
		Rows:     atomic.LoadUint64(&s.rows),
		Queued:   s.queue.Len(),
	}, true
}

// RowsWritten returns the data rows written over the recorder's lifetime.
func (r *Recorder) RowsWritten() uint64 { return atomic.LoadUint64(&r.rowsWritten) }

// WriteErrors returns the per-node open/write failures so far.
func (r *Recorder) WriteErrors() uint64 { return atomic.LoadUint64(&r.writeErrors) }

// ─── Worker ─────────────────────────────────────────────────────────────

// work exits only once Stop has been requested and the queue is empty.
func (r *Recorder) work(s *recordingSession) {
	defer close(s.done)
	idle := r.cfg.IdlePoll()
	for {
		f, ok := s.queue.Pop()
		if !ok {
			if s.finishing() && s.queue.Len() == 0 {
				return
			}
			select {
			case <-s.queue.Notify():
			case <-time.After(idle):
			}
			continue
		}
		r.write(s, f)
		r.metrics.RecordQueueDepth.Set(float64(s.queue.Len()))
	}
}

func (r *Recorder) write(s *recordingSession, f models.SensorFrame) {
	w, err := s.files.get(f.NodeID, func() (RowWriter, error) {
		path := filepath.Join(s.dir, utils.RecordingFileName(f.NodeID, s.base, s.stamp))
		utils.L().Info("recording node %s to %s", f.NodeID, path)
		return r.open(path, f.CSVHeader())
	})
	if err != nil {
		r.failWrite(f.NodeID, err)
		return
	}

	if err := w.WriteRow(f.CSVRow()); err != nil {
		r.failWrite(f.NodeID, err)
		if cerr := s.files.drop(f.NodeID); cerr != nil {
			utils.L().Error("recording: close %s after write failure: %v", f.NodeID, cerr)
		}
		return
	}
	atomic.AddUint64(&s.rows, 1)
	atomic.AddUint64(&r.rowsWritten, 1)
	r.metrics.RowsWritten.Inc()
}

func (r *Recorder) failWrite(nodeID string, err error) {
	atomic.AddUint64(&r.writeErrors, 1)
	r.metrics.WriteErrors.Inc()
	utils.L().Error("recording node %s: %v", nodeID, utils.WrapIO("write", err))
}

// ─── Snapshot export ────────────────────────────────────────────────────

// ExportSnapshot writes one file per node holding its latest state. It is
// refused while a session is recording, since both would target the same
// node files. Per-node failures are logged and returned together after
// the remaining nodes have been written.
func (r *Recorder) ExportSnapshot(dir, base string, nodes []models.NodeSnapshot) ([]string, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.current.Load() != nil {
		return nil, utils.WrapState("export snapshot", utils.ErrRecordingActive)
	}
	if len(nodes) == 0 {
		return nil, utils.WrapState("export snapshot", utils.ErrNoData)
	}
	dir, base, err := prepareTarget("export snapshot", dir, base)
	if err != nil {
		return nil, err
	}

	stamp := utils.SessionStamp(r.clock.Now())
	header := models.SensorFrame{}.CSVHeader()
	var (
		paths []string
		errs  []error
	)
	for _, n := range nodes {
		path := filepath.Join(dir, utils.RecordingFileName(n.NodeID, base, stamp))
		if err := views.WriteSnapshotCSV(path, header, [][]string{n.CSVRow()}); err != nil {
			utils.L().Error("snapshot node %s: %v", n.NodeID, err)
			errs = append(errs, err)
			continue
		}
		paths = append(paths, path)
	}
	utils.L().Info("snapshot exported  (nodes=%d, dir=%s)", len(paths), dir)
	if len(errs) > 0 {
		return paths, utils.WrapIO("export snapshot", errors.Join(errs...))
	}
	return paths, nil
}
