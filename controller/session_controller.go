package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telemetry-logger/models"
	"telemetry-logger/services/ingest"
	"telemetry-logger/services/metrics"
	"telemetry-logger/services/parse"
	"telemetry-logger/services/registry"
	"telemetry-logger/utils"
)

// SessionDeps are the collaborators a Session is built from. Zero fields
// get production defaults.
type SessionDeps struct {
	Opener  ingest.Opener
	Writer  WriterFactory
	Metrics *metrics.Metrics
	Clock   utils.Clock
	Store   *utils.DirStore
}

// SessionStats is a point-in-time view of the pipeline counters.
type SessionStats struct {
	Dispatch      DispatchStats
	LinesRead     uint64
	Truncated     uint64
	RowsWritten   uint64
	WriteErrors   uint64
	EventsDropped uint64
	Nodes         int
}

// Session owns everything one application run needs: the connection, the
// node registry, the dispatcher and the recorder. The presentation layer
// drives it only through these command methods and reads data snapshots
// back; nothing calls into the presentation layer except the event channel.
type Session struct {
	cfg      *utils.TelemetryConfig
	opener   ingest.Opener
	metrics  *metrics.Metrics
	clock    utils.Clock
	store    *utils.DirStore
	events   *EventBus
	recorder *Recorder

	// mu guards everything below. The pump holds it while dispatching a
	// batch of lines, so registry mutation stays single-threaded.
	mu         sync.Mutex
	registry   *registry.NodeRegistry
	dispatcher *Dispatcher
	selected   string
	outputDir  string
	reader     *ingest.SerialReader
	fault      error // why the last connection ended, if it failed
	pumpStop   chan struct{}
	pumpDone   chan struct{}
}

func NewSession(cfg *utils.TelemetryConfig, deps SessionDeps) *Session {
	if cfg == nil {
		cfg = utils.DefaultConfig()
	}
	if deps.Opener == nil {
		deps.Opener = ingest.OpenSerial
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewIsolated()
	}
	if deps.Clock == nil {
		deps.Clock = utils.RealClock()
	}

	s := &Session{
		cfg:       cfg,
		opener:    deps.Opener,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		store:     deps.Store,
		events:    NewEventBus(cfg.Dispatcher.EventBuffer, deps.Metrics),
		recorder:  NewRecorder(cfg.Recording, deps.Writer, deps.Metrics, deps.Clock),
		registry:  registry.New(cfg.Registry.HistoryCapacity),
		outputDir: cfg.Recording.OutputDir,
	}
	s.dispatcher = NewDispatcher(s.registry, s.recorder, s.events, s.metrics, s.clock,
		cfg.Dispatcher.SummaryInterval())

	if s.outputDir == "" && s.store != nil {
		dir, err := s.store.Load()
		if err != nil {
			utils.L().Warn("last output directory: %v", err)
		}
		s.outputDir = dir
	}
	return s
}

// ─── Connection ─────────────────────────────────────────────────────────

// Connect opens port and starts the reader and the pump. Empty port and
// zero baud fall back to the configured values.
func (s *Session) Connect(port string, baud int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader != nil {
		return utils.WrapState("connect", utils.ErrAlreadyConnected)
	}
	scfg := s.cfg.Serial
	if port != "" {
		scfg.Port = port
	}
	if baud > 0 {
		scfg.BaudRate = baud
	}

	r, err := ingest.Open(s.opener, scfg, s.metrics)
	if err != nil {
		utils.L().Error("connect %s: %v", scfg.Port, err)
		return err
	}

	s.dispatcher.Reset()
	s.selected = ""
	s.fault = nil
	s.reader = r
	s.pumpStop = make(chan struct{})
	s.pumpDone = make(chan struct{})

	r.Start()
	go s.pump(r, s.pumpStop, s.pumpDone)

	s.metrics.SetConnected(true)
	utils.L().Info("connected to %s at %d baud", scfg.Port, scfg.BaudRate)
	return nil
}

// Disconnect stops an active recording, closes the connection and clears
// the registry.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	r, stop, done := s.reader, s.pumpStop, s.pumpDone
	if r == nil {
		s.mu.Unlock()
		return utils.WrapState("disconnect", utils.ErrNotConnected)
	}
	s.reader = nil
	s.mu.Unlock()

	if s.recorder.Recording() {
		if err := s.recorder.Stop(); err != nil {
			utils.L().Error("stop recording on disconnect: %v", err)
		}
	}

	close(stop)
	<-done
	closeErr := r.Close()

	s.mu.Lock()
	s.dispatcher.OnFault(nil)
	s.dispatcher.Reset()
	s.selected = ""
	s.mu.Unlock()

	s.metrics.SetConnected(false)
	utils.L().Info("disconnected from %s", r.Port())
	if closeErr != nil {
		return utils.WrapConnection("disconnect", closeErr)
	}
	return nil
}

// Connected reports whether a connection is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader != nil
}

// LastFault returns the error that ended the previous connection. It is
// nil while connected, after a clean Disconnect and before any Connect.
// Unlike the Disconnected event it cannot be dropped.
func (s *Session) LastFault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return nil
	}
	return s.fault
}

// Port returns the open port name, or "" when disconnected.
func (s *Session) Port() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return ""
	}
	return s.reader.Port()
}

// pump moves lines from the reader's queue into the dispatcher until
// Disconnect closes stop or the reader ends on a fault.
func (s *Session) pump(r *ingest.SerialReader, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Dispatcher.PumpInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-r.Lines().Notify():
		case <-ticker.C:
		case <-r.Done():
			s.dispatch(r)
			s.handleFault(r)
			return
		}
		s.dispatch(r)
	}
}

func (s *Session) dispatch(r *ingest.SerialReader) {
	lines := r.Lines().Drain(0)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != r {
		return
	}
	for _, line := range lines {
		res := s.dispatcher.OnLine(line)
		if s.selected == "" {
			switch res.Kind {
			case parse.KindFrame:
				s.selected = res.Frame.NodeID
			case parse.KindHandshake:
				s.selected = res.Handshake.NodeID
			}
		}
	}
	s.dispatcher.Heartbeat()
	s.reselectLocked()
}

// handleFault tears the connection down after the reader ended on its own.
// The registry is kept so the last state can still be inspected or
// exported; the next Connect clears it.
func (s *Session) handleFault(r *ingest.SerialReader) {
	s.mu.Lock()
	if s.reader != r {
		s.mu.Unlock()
		return
	}
	s.reader = nil
	s.mu.Unlock()

	if s.recorder.Recording() {
		if err := s.recorder.Stop(); err != nil {
			utils.L().Error("stop recording after fault: %v", err)
		}
	}
	if err := r.Close(); err != nil {
		utils.L().Warn("close %s after fault: %v", r.Port(), err)
	}

	s.mu.Lock()
	s.fault = r.Err()
	s.dispatcher.OnFault(s.fault)
	s.mu.Unlock()
	s.metrics.SetConnected(false)
}

// ─── Node selection ─────────────────────────────────────────────────────

// reselectLocked picks the lowest node id when the selection vanished.
func (s *Session) reselectLocked() {
	if s.selected != "" && s.registry.Has(s.selected) {
		return
	}
	s.selected = ""
	if ids := s.registry.IDs(); len(ids) > 0 {
		s.selected = ids[0]
	}
}

// SelectNode chooses the node whose history the charts show.
func (s *Session) SelectNode(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registry.Has(nodeID) {
		return utils.WrapState("select node", fmt.Errorf("%w: %q", utils.ErrUnknownNode, nodeID))
	}
	s.selected = nodeID
	return nil
}

func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SelectedNode returns a copy of the selected node's live state.
func (s *Session) SelectedNode() (models.NodeSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == "" {
		return models.NodeSnapshot{}, false
	}
	return s.registry.Get(s.selected)
}

// SelectedHistory returns the selected node and a copy of its ring buffer,
// oldest first.
func (s *Session) SelectedHistory() (string, []models.SensorFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == "" {
		return "", nil
	}
	return s.selected, s.registry.History(s.selected)
}

// ─── Snapshots ──────────────────────────────────────────────────────────

// Snapshot returns copies of every node, ordered by id.
func (s *Session) Snapshot() []models.NodeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Snapshot()
}

func (s *Session) History(nodeID string) []models.SensorFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.History(nodeID)
}

func (s *Session) RelayStatus() models.RelayStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatcher.RelayStatus()
}

// Events delivers presentation notifications. Consumers that fall behind
// lose events, never block ingestion.
func (s *Session) Events() <-chan Event { return s.events.Events() }

func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	st := SessionStats{
		Dispatch: s.dispatcher.Stats(),
		Nodes:    s.registry.Len(),
	}
	if s.reader != nil {
		st.LinesRead, st.Truncated = s.reader.Stats()
	}
	s.mu.Unlock()

	st.RowsWritten = s.recorder.RowsWritten()
	st.WriteErrors = s.recorder.WriteErrors()
	st.EventsDropped = s.events.Dropped()
	return st
}

// ─── Recording ──────────────────────────────────────────────────────────

// StartRecording requires an open connection. An empty dir uses the
// current output directory; a non-empty one becomes the new output
// directory.
func (s *Session) StartRecording(dir, base string) error {
	s.mu.Lock()
	connected := s.reader != nil
	if dir == "" {
		dir = s.outputDir
	}
	s.mu.Unlock()

	if !connected {
		return utils.WrapState("start recording", utils.ErrNotConnected)
	}
	if err := s.recorder.Start(dir, base); err != nil {
		return err
	}
	if err := s.SetOutputDir(dir); err != nil {
		utils.L().Warn("remember output directory: %v", err)
	}
	return nil
}

func (s *Session) StopRecording() error { return s.recorder.Stop() }

func (s *Session) Recording() bool { return s.recorder.Recording() }

// RecordingInfo describes the active recording session, if any.
func (s *Session) RecordingInfo() (SessionInfo, bool) { return s.recorder.Info() }

// ExportSnapshot writes each node's latest state to its own file. It is
// refused while recording or when no node is registered.
func (s *Session) ExportSnapshot(dir, base string) ([]string, error) {
	s.mu.Lock()
	nodes := s.registry.Snapshot()
	if dir == "" {
		dir = s.outputDir
	}
	s.mu.Unlock()
	return s.recorder.ExportSnapshot(dir, base, nodes)
}

// ─── Output directory ───────────────────────────────────────────────────

// SetOutputDir changes the output directory and persists it.
func (s *Session) SetOutputDir(dir string) error {
	s.mu.Lock()
	changed := s.outputDir != dir
	s.outputDir = dir
	s.mu.Unlock()

	if s.store == nil || !changed {
		return nil
	}
	if err := s.store.Save(dir); err != nil {
		return utils.WrapIO("save output directory", err)
	}
	return nil
}

func (s *Session) OutputDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputDir
}

// FollowOutputDir picks up output directory changes written to the store
// by another process until ctx is done.
func (s *Session) FollowOutputDir(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Watch(ctx, func(dir string) {
		s.mu.Lock()
		changed := s.outputDir != dir
		s.outputDir = dir
		s.mu.Unlock()
		if changed {
			utils.L().Info("output directory changed to %s", dir)
		}
	})
}

// Close stops recording and disconnects, ignoring "not active" states.
func (s *Session) Close() {
	if s.recorder.Recording() {
		if err := s.recorder.Stop(); err != nil {
			utils.L().Error("stop recording: %v", err)
		}
	}
	if s.Connected() {
		if err := s.Disconnect(); err != nil {
			utils.L().Error("disconnect: %v", err)
		}
	}
}
