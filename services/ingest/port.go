package ingest

import "time"

// Port is a raw byte stream from the relay. Read blocks for at most the
// read timeout given at open time and returns (0, nil) when nothing
// arrived; any non-nil error is a fault that ends the connection.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
}

// Opener opens a named port at the given baud rate.
type Opener func(name string, baud int, readTimeout time.Duration) (Port, error)
