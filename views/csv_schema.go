package views

import (
	"fmt"
	"strings"

	"telemetry-logger/models"
)

// Column indexes of the recording layout. The header itself comes from
// models.SensorFrame.CSVHeader; these are for readers of recorded files.
const (
	ColID = iota
	ColStatus
	ColAccX
	ColAccY
	ColAccZ
	ColGyroX
	ColGyroY
	ColGyroZ
	ColTimestamp
	ColTimestampUs
	numColumns
)

// RecordingColumns is the canonical header of recorded and exported files.
var RecordingColumns = models.SensorFrame{}.CSVHeader()

// ValidateHeader reports whether header matches the recording layout.
func ValidateHeader(header []string) error {
	if len(header) != numColumns {
		return fmt.Errorf("header has %d columns, want %d", len(header), numColumns)
	}
	for i, want := range RecordingColumns {
		// a UTF-8 BOM may precede the first column when a file was re-saved by a spreadsheet
		got := strings.TrimPrefix(strings.TrimSpace(header[i]), "\ufeff")
		if got != want {
			return fmt.Errorf("header column %d is %q, want %q", i, got, want)
		}
	}
	return nil
}
