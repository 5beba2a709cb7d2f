package ingest

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-logger/services/metrics"
	"telemetry-logger/utils"
)

// fakePort replays chunks, then returns err (or idles forever when nil).
type fakePort struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
	closed bool
	closes int
}

func newFakePort(err error, chunks ...string) *fakePort {
	p := &fakePort{err: err}
	for _, c := range chunks {
		p.chunks = append(p.chunks, []byte(c))
	}
	return p
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, os.ErrClosed
	}
	if len(p.chunks) > 0 {
		n := copy(b, p.chunks[0])
		p.chunks = p.chunks[1:]
		return n, nil
	}
	return 0, p.err
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closes++
	return nil
}

func (p *fakePort) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func testSerialConfig() utils.SerialConfig {
	cfg := utils.DefaultConfig().Serial
	cfg.Port = "/dev/ttyTEST0"
	cfg.PollIntervalMs = 1
	return cfg
}

func openFake(t *testing.T, p *fakePort, cfg utils.SerialConfig) *SerialReader {
	t.Helper()
	r, err := Open(func(string, int, time.Duration) (Port, error) { return p, nil }, cfg, metrics.NewIsolated())
	require.NoError(t, err)
	return r
}

func collect(t *testing.T, r *SerialReader, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return r.Lines().Len() >= n }, 2*time.Second, time.Millisecond)
	return r.Lines().Drain(0)
}

func TestReaderSplitsLinesAcrossChunks(t *testing.T) {
	p := newFakePort(nil, "Sens", "or A\r\nline B\n\n  \r\nline", " C\n")
	r := openFake(t, p, testSerialConfig())
	r.Start()
	defer r.Close()

	assert.Equal(t, []string{"Sensor A", "line B", "line C"}, collect(t, r, 3))
}

func TestReaderDropsInvalidUTF8(t *testing.T) {
	p := newFakePort(nil, "ab\xffcd\n", "\xfe\xfd\n", "ok é\n")
	r := openFake(t, p, testSerialConfig())
	r.Start()
	defer r.Close()

	assert.Equal(t, []string{"abcd", "ok é"}, collect(t, r, 2))
}

func TestReaderFaultEmitsPartialLineAndEnds(t *testing.T) {
	boom := errors.New("device unplugged")
	p := newFakePort(boom, "one\ntw", "o")
	r := openFake(t, p, testSerialConfig())
	r.Start()

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop after fault")
	}
	assert.Equal(t, []string{"one", "two"}, r.Lines().Drain(0))

	err := r.Err()
	require.Error(t, err)
	assert.True(t, utils.IsConnection(err))
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, r.Close())
	assert.Equal(t, 1, p.closeCount())
}

func TestReaderCapsLongLines(t *testing.T) {
	cfg := testSerialConfig()
	cfg.MaxLineBytes = 64
	long := strings.Repeat("x", 100)
	p := newFakePort(nil, long, "tail\n")
	r := openFake(t, p, cfg)
	r.Start()
	defer r.Close()

	lines := collect(t, r, 2)
	assert.Equal(t, []string{long, "tail"}, lines)
	_, truncated := r.Stats()
	assert.Equal(t, uint64(1), truncated)
}

func TestCloseIsIdempotentAndConcurrent(t *testing.T) {
	p := newFakePort(nil)
	r := openFake(t, p, testSerialConfig())
	r.Start()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Close())
		}()
	}
	wg.Wait()

	<-r.Done()
	assert.NoError(t, r.Err())
	assert.Equal(t, 1, p.closeCount())
}

func TestCloseWithoutStart(t *testing.T) {
	p := newFakePort(nil)
	r := openFake(t, p, testSerialConfig())

	assert.NoError(t, r.Close())
	<-r.Done()
	r.Start()
	assert.Equal(t, 1, p.closeCount())
}

func TestOpenFailures(t *testing.T) {
	cfg := testSerialConfig()

	cfg.Port = "  "
	_, err := Open(nil, cfg, nil)
	assert.True(t, utils.IsConfig(err))
	assert.ErrorIs(t, err, utils.ErrEmptyPort)

	cfg.Port = "/dev/ttyMISSING"
	busy := errors.New("resource busy")
	_, err = Open(func(string, int, time.Duration) (Port, error) { return nil, busy }, cfg, nil)
	assert.True(t, utils.IsConnection(err))
	assert.ErrorIs(t, err, busy)

	_, err = Open(func(string, int, time.Duration) (Port, error) { return nil, utils.ErrUnsupportedBaud }, cfg, nil)
	assert.True(t, utils.IsConfig(err))
}
