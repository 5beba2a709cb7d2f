//go:build linux

package ingest

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"telemetry-logger/services/metrics"
	"telemetry-logger/utils"
)

// openPTY returns the master fd and the slave device path of a fresh pty.
func openPTY(t *testing.T) (int, string) {
	t.Helper()
	master, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Skipf("no pty support: %v", err)
	}
	t.Cleanup(func() { unix.Close(master) })

	require.NoError(t, unix.IoctlSetPointerInt(master, unix.TIOCSPTLCK, 0))
	n, err := unix.IoctlGetUint32(master, unix.TIOCGPTN)
	require.NoError(t, err)
	return master, fmt.Sprintf("/dev/pts/%d", n)
}

func ptyConfig(slave string) utils.SerialConfig {
	return utils.SerialConfig{
		Port:           slave,
		BaudRate:       115200,
		PollIntervalMs: 5,
		ReadTimeoutMs:  50,
		CloseTimeoutMs: 500,
		MaxLineBytes:   1024,
	}
}

func TestTTYPortIdleLineIsNotAFault(t *testing.T) {
	_, slave := openPTY(t)
	port, err := OpenSerial(slave, 115200, 50*time.Millisecond)
	require.NoError(t, err)
	defer port.Close()

	buf := make([]byte, 64)
	n, err := port.Read(buf)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestSerialReaderReportsHangup(t *testing.T) {
	master, slave := openPTY(t)
	r, err := Open(OpenSerial, ptyConfig(slave), metrics.NewIsolated())
	require.NoError(t, err)
	defer r.Close()
	r.Start()

	_, err = unix.Write(master, []byte("Received HELLO from Node ID: Sensor_1\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Lines().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	tty := r.port.(*ttyPort)
	if err := unix.IoctlSetInt(tty.fd, unix.TIOCVHANGUP, 0); err != nil {
		if errors.Is(err, unix.EPERM) {
			t.Skip("hangup needs CAP_SYS_TTY_CONFIG")
		}
		require.NoError(t, err)
	}

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader still running after tty hangup")
	}
	assert.True(t, utils.IsConnection(r.Err()))
	assert.ErrorIs(t, r.Err(), utils.ErrDeviceGone)
}
