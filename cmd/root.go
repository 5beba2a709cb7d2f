package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"telemetry-logger/controller"
	"telemetry-logger/services/ingest"
	"telemetry-logger/services/metrics"
	"telemetry-logger/utils"
	"telemetry-logger/views"
)

var (
	configPath  string
	portName    string
	baudRate    int
	simulate    bool
	outDir      string
	baseName    string
	record      bool
	logFile     string
	debug       bool
	metricsAddr string
	runFor      time.Duration

	rootCmd = &cobra.Command{
		Use:   "telemetry-logger [flags]",
		Short: "Serial telemetry logger for relayed six-axis sensor nodes",
		Long: `telemetry-logger reads the relay's serial output, tracks every sensor node
and optionally records each node's frames to its own CSV file.

Examples:
  telemetry-logger -p /dev/ttyUSB0                       # live table only
  telemetry-logger -p /dev/ttyUSB0 --record -n flight1   # record to ./flight1 files
  telemetry-logger --simulate --record -n test --duration 30s
  telemetry-logger inspect out/Sensor_1_flight1_*.csv    # check recorded files

Send SIGUSR1 to export a snapshot of every node's latest state.`,
		SilenceUsage: true,
		RunE:         runLogger,
	}

	runCmd = &cobra.Command{
		Use:          "run",
		Short:        "Connect and log (the default command)",
		SilenceUsage: true,
		RunE:         runLogger,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to telemetry.yaml (defaults built in)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log unrecognized lines and other debug output")

	bindRunFlags(rootCmd.Flags())
	bindRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func bindRunFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&portName, "port", "p", "", "serial port, e.g. /dev/ttyUSB0")
	fs.IntVarP(&baudRate, "baud", "b", utils.DefaultBaudRate, "baud rate")
	fs.BoolVar(&simulate, "simulate", false, "use the built-in simulated relay instead of a serial port")
	fs.StringVarP(&outDir, "out-dir", "o", "", "recording output directory (defaults to the last one used)")
	fs.StringVarP(&baseName, "name", "n", "", "base file name for recordings and snapshots")
	fs.BoolVar(&record, "record", false, "start recording as soon as the connection is open")
	fs.StringVar(&logFile, "log", "", "optional log file path (stdout is always included)")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")
	fs.DurationVar(&runFor, "duration", 0, "stop after this long (0 = until interrupted)")
}

func Execute() error {
	return rootCmd.Execute()
}

// applyFlags overlays explicitly set flags on the loaded config.
func applyFlags(fs *pflag.FlagSet, cfg *utils.TelemetryConfig) {
	if fs.Changed("port") {
		cfg.Serial.Port = portName
	}
	if fs.Changed("baud") {
		cfg.Serial.BaudRate = baudRate
	}
	if fs.Changed("simulate") {
		cfg.Simulation.Enabled = simulate
	}
	if fs.Changed("out-dir") {
		cfg.Recording.OutputDir = outDir
	}
	if fs.Changed("name") {
		cfg.Recording.BaseName = baseName
	}
	if fs.Changed("log") {
		cfg.Log.File = logFile
	}
	if fs.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	if debug {
		cfg.Log.Level = "debug"
	}
}

func runLogger(cmd *cobra.Command, _ []string) error {
	cfg, err := utils.LoadConfig(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), cfg)

	// ── Logger ───────────────────────────────────────────────────────
	logger := utils.InitLogger(utils.ParseLevel(cfg.Log.Level), cfg.Log.File)
	defer logger.Close()

	utils.L().Info("═══════════════════════════════════════════════════")
	utils.L().Info("  telemetry-logger  ·  relay serial ingest")
	utils.L().Info("  GOMAXPROCS=%d  ·  PID=%d", runtime.GOMAXPROCS(0), os.Getpid())
	utils.L().Info("═══════════════════════════════════════════════════")

	// ── Metrics ──────────────────────────────────────────────────────
	registry := metrics.NewRegistry()
	m := metrics.New(registry)
	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, registry)
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop(2 * time.Second)
		utils.L().Info("metrics on http://%s/metrics", cfg.Metrics.Addr)
	}

	// ── Session ──────────────────────────────────────────────────────
	// The run deadline is enforced here; the simulated relay itself never ends.
	stopAfter := cfg.Simulation.Duration()
	if cmd.Flags().Changed("duration") {
		stopAfter = runFor
	}

	opener := ingest.OpenSerial
	port := cfg.Serial.Port
	if cfg.Simulation.Enabled {
		simCfg := cfg.Simulation
		simCfg.DurationSeconds = 0
		opener = ingest.SimulatedOpener(simCfg, nil)
		if port == "" {
			port = ingest.SimPortName
		}
	}
	session := controller.NewSession(cfg, controller.SessionDeps{
		Opener:  opener,
		Metrics: m,
		Store:   utils.NewDirStore(cfg.Recording.StateFile),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if stopAfter > 0 {
		var timerCancel context.CancelFunc
		ctx, timerCancel = context.WithTimeout(ctx, stopAfter)
		defer timerCancel()
		utils.L().Info("will stop after %s", stopAfter)
	}

	if err := session.FollowOutputDir(ctx); err != nil {
		utils.L().Warn("output directory watch disabled: %v", err)
	}

	if err := session.Connect(port, 0); err != nil {
		return err
	}
	if record {
		if err := session.StartRecording("", cfg.Recording.BaseName); err != nil {
			session.Close()
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)
	if len(snapshotSignals) > 0 {
		signal.Notify(sigCh, snapshotSignals...)
	}
	defer signal.Stop(sigCh)

	view := views.NewConsoleView(os.Stdout, 0)
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var exitErr error
	utils.L().Info("pipeline running · press Ctrl+C to stop")

	// ── Main event loop ──────────────────────────────────────────────
	for {
		select {
		case sig := <-sigCh:
			if isSnapshotSignal(sig) {
				exportSnapshot(session, cfg.Recording.BaseName)
				continue
			}
			utils.L().Info("received signal: %v · shutting down", sig)
			cancel()
			goto shutdown

		case <-ctx.Done():
			goto shutdown

		case ev := <-session.Events():
			switch ev.Kind {
			case controller.EventSummary:
				if err := view.Render(session.Snapshot(), session.Selected(), session.RelayStatus()); err != nil {
					utils.L().Warn("render: %v", err)
				}
			case controller.EventDisconnected:
				if ev.Err != nil {
					exitErr = ev.Err
					goto shutdown
				}
			}

		case <-statsTicker.C:
			logStats(session)
			if err := connectionLost(session); err != nil {
				exitErr = err
				goto shutdown
			}
		}
	}

shutdown:
	session.Close()
	logStats(session)
	if exitErr != nil {
		return exitErr
	}
	fmt.Println("\n✓ telemetry-logger finished. Output directory:", session.OutputDir())
	return nil
}

func exportSnapshot(session *controller.Session, base string) {
	paths, err := session.ExportSnapshot("", base)
	if err != nil {
		utils.L().Error("snapshot: %v", err)
		return
	}
	for _, p := range paths {
		utils.L().Info("snapshot written: %s", p)
	}
}

// connectionLost reports a reader fault even when its Disconnected event
// was dropped on a full event channel.
func connectionLost(session *controller.Session) error {
	if session.Connected() {
		return nil
	}
	return session.LastFault()
}

func logStats(session *controller.Session) {
	st := session.Stats()
	utils.L().Info("── stats ─────────────────────────")
	utils.L().Info("  lines read=%d  truncated=%d", st.LinesRead, st.Truncated)
	utils.L().Info("  frames=%d  handshakes=%d  relay=%d  dropped=%d",
		st.Dispatch.Frames, st.Dispatch.Handshakes, st.Dispatch.RelayStatus, st.Dispatch.Unrecognized)
	utils.L().Info("  nodes=%d  rows written=%d  write errors=%d  events dropped=%d",
		st.Nodes, st.RowsWritten, st.WriteErrors, st.EventsDropped)
	if node, ok := session.SelectedNode(); ok {
		utils.L().Info("  selected %s  status=%s  samples=%d", node.NodeID, node.Status, node.Samples)
	}
	if info, ok := session.RecordingInfo(); ok {
		utils.L().Info("  recording %s_%s (%d files, %d queued)", info.BaseName, info.Stamp, info.Files, info.Queued)
	}
	utils.L().Info("──────────────────────────────────")
}
