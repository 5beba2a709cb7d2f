//go:build linux

package controller

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"telemetry-logger/models"
	"telemetry-logger/utils"
)

// fifoTarget puts a named pipe where node A's recording file would go.
func fifoTarget(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, utils.RecordingFileName("A", "run", testStamp))
	require.NoError(t, unix.Mkfifo(path, 0644))
	return path
}

func stopWithin(t *testing.T, r *Recorder, limit time.Duration) error {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- r.Stop() }()
	select {
	case err := <-result:
		return err
	case <-time.After(limit):
		t.Fatalf("Stop still blocked after %s", limit)
		return nil
	}
}

func TestRecorderStopWithFileOpenBlocked(t *testing.T) {
	dir := t.TempDir()
	path := fifoTarget(t, dir)
	cfg := testRecordingConfig()
	cfg.StopTimeoutMs = 100
	r := NewRecorder(cfg, AppendCSV, nil, utils.NewFakeClock(testStart))

	require.NoError(t, r.Start(dir, "run"))
	r.Enqueue(models.SensorFrame{NodeID: "A"})

	// Opening a pipe for writing blocks until a reader shows up.
	require.NoError(t, stopWithin(t, r, 2*time.Second))

	rfd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(rfd)
	require.Eventually(t, func() bool { return r.WriteErrors() == 1 }, 2*time.Second, time.Millisecond)
}

func TestRecorderStopWithWriteBlocked(t *testing.T) {
	dir := t.TempDir()
	path := fifoTarget(t, dir)
	rfd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(rfd)

	cfg := testRecordingConfig()
	cfg.StopTimeoutMs = 100
	r := NewRecorder(cfg, AppendCSV, nil, utils.NewFakeClock(testStart))
	require.NoError(t, r.Start(dir, "run"))

	// Nobody drains the pipe, so the writer stalls once its buffer is full.
	for i := range 5000 {
		r.Enqueue(models.SensorFrame{NodeID: "A", TimestampUs: uint64(i)})
	}
	require.Eventually(t, func() bool {
		n, err := unix.IoctlGetInt(rfd, unix.TIOCINQ)
		return err == nil && n > 60_000
	}, 5*time.Second, time.Millisecond)

	began := time.Now()
	_ = stopWithin(t, r, 2*time.Second)
	assert.Less(t, time.Since(began), 2*time.Second)
	assert.False(t, r.Recording())
	require.Eventually(t, func() bool { return r.WriteErrors() >= 1 }, 2*time.Second, time.Millisecond)
}
