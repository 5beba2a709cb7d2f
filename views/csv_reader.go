package views

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// RecordedRow is one data row read back from a recorded file.
type RecordedRow struct {
	NodeID      string
	Status      string
	Accel       [3]float64
	Gyro        [3]float64
	Timestamp   string
	TimestampUs uint64
}

// ParseRow decodes one CSV record in the recording layout.
func ParseRow(rec []string) (RecordedRow, error) {
	if len(rec) != numColumns {
		return RecordedRow{}, fmt.Errorf("row has %d columns, want %d", len(rec), numColumns)
	}
	row := RecordedRow{
		NodeID:    rec[ColID],
		Status:    rec[ColStatus],
		Timestamp: rec[ColTimestamp],
	}
	for i := range 3 {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[ColAccX+i]), 64)
		if err != nil {
			return RecordedRow{}, fmt.Errorf("column %s: %w", RecordingColumns[ColAccX+i], err)
		}
		row.Accel[i] = v
		v, err = strconv.ParseFloat(strings.TrimSpace(rec[ColGyroX+i]), 64)
		if err != nil {
			return RecordedRow{}, fmt.Errorf("column %s: %w", RecordingColumns[ColGyroX+i], err)
		}
		row.Gyro[i] = v
	}
	us, err := strconv.ParseUint(strings.TrimSpace(rec[ColTimestampUs]), 10, 64)
	if err != nil {
		return RecordedRow{}, fmt.Errorf("column Timestamp_us: %w", err)
	}
	row.TimestampUs = us
	return row, nil
}

// ReadRecording reads a recorded or exported file, validating its header.
func ReadRecording(path string) ([]RecordedRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("recording %s is empty", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("recording %s: %w", path, err)
	}

	var rows []RecordedRow
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, fmt.Errorf("read %s line %d: %w", path, line, err)
		}
		row, err := ParseRow(rec)
		if err != nil {
			return rows, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		rows = append(rows, row)
	}
}
