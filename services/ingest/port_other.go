//go:build !linux

package ingest

import (
	"time"

	"telemetry-logger/utils"
)

// OpenSerial is only implemented on linux; use the simulated relay elsewhere.
func OpenSerial(name string, baud int, readTimeout time.Duration) (Port, error) {
	return nil, utils.ErrUnsupportedPlatform
}
