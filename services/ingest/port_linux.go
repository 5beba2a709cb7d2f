//go:build linux

package ingest

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"telemetry-logger/utils"
)

var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

// ttyPort is a serial device in raw mode with VMIN=0 so reads return
// after VTIME even when the relay is silent. Each Read polls first: a
// quiet line times out in poll, a hung-up line is readable but empty.
type ttyPort struct {
	fd        int
	name      string
	pollMs    int
	closeOnce sync.Once
	closeErr  error
}

// OpenSerial opens a tty device, claims it exclusively and configures it
// for raw 8N1 at baud.
func OpenSerial(name string, baud int, readTimeout time.Duration) (Port, error) {
	speed, ok := baudRates[baud]
	if !ok {
		return nil, fmt.Errorf("%w: %d", utils.ErrUnsupportedBaud, baud)
	}

	fd, err := unix.Open(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("claim %s: %w", name, err)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("get termios %s: %w", name, err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = vtime(readTimeout)

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set termios %s: %w", name, err)
	}
	return &ttyPort{fd: fd, name: name, pollMs: pollTimeout(readTimeout)}, nil
}

// vtime converts a timeout to deciseconds, clamped to 1..255.
func vtime(d time.Duration) uint8 {
	ds := d / (100 * time.Millisecond)
	switch {
	case ds < 1:
		return 1
	case ds > 255:
		return 255
	default:
		return uint8(ds)
	}
}

func pollTimeout(d time.Duration) int {
	if ms := int(d / time.Millisecond); ms > 0 {
		return ms
	}
	return 1
}

func (p *ttyPort) Read(b []byte) (int, error) {
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	ready, err := unix.Poll(fds, p.pollMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("poll %s: %w", p.name, err)
	}
	if ready == 0 {
		return 0, nil
	}
	rev := fds[0].Revents
	if rev&unix.POLLNVAL != 0 {
		return 0, fmt.Errorf("poll %s: %w", p.name, os.ErrClosed)
	}

	n, err := unix.Read(p.fd, b)
	if err != nil {
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", p.name, err)
	}
	if n == 0 && rev&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
		return 0, fmt.Errorf("read %s: %w", p.name, utils.ErrDeviceGone)
	}
	return n, nil
}

func (p *ttyPort) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = unix.Close(p.fd)
	})
	return p.closeErr
}
