package views

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// CSVWriter appends rows to one node's recording file.
//
// Every WriteRow is flushed through to the OS before it returns: sample
// rates are tens of Hz, so a stopped or crashed session loses at most the
// row being written.
type CSVWriter struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	buf    *bufio.Writer
	csv    *csv.Writer
	closed atomic.Bool
}

// OpenAppendCSV opens (or creates) path in append mode. The header is
// written only when the file is empty at open time.
func OpenAppendCSV(path string, header []string) (*CSVWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csv stat %s: %w", path, err)
	}

	bw := bufio.NewWriterSize(f, 4096)
	w := &CSVWriter{
		path: path,
		file: f,
		buf:  bw,
		csv:  csv.NewWriter(bw),
	}

	if info.Size() == 0 && len(header) > 0 {
		if err := w.write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("csv write header %s: %w", path, err)
		}
	}
	return w, nil
}

func (w *CSVWriter) write(row []string) error {
	if err := w.csv.Write(row); err != nil {
		return err
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return err
	}
	return w.buf.Flush()
}

// WriteRow appends and flushes a single row. Thread-safe.
func (w *CSVWriter) WriteRow(row []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Load() {
		return fmt.Errorf("csv write %s: %w", w.path, os.ErrClosed)
	}
	if err := w.write(row); err != nil {
		return fmt.Errorf("csv write %s: %w", w.path, err)
	}
	return nil
}

// Close flushes remaining data and closes the file. Calling it twice is a
// no-op. If a WriteRow is stuck in the OS, Close does not wait for it: the
// descriptor is closed underneath, which fails the pending write.
func (w *CSVWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !w.mu.TryLock() {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("csv close %s: %w", w.path, err)
		}
		return nil
	}
	defer w.mu.Unlock()

	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	if flushErr != nil {
		return fmt.Errorf("csv flush %s: %w", w.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("csv close %s: %w", w.path, closeErr)
	}
	return nil
}

// WriteSnapshotCSV writes header plus rows to path, truncating any
// existing file.
func WriteSnapshotCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot create %s: %w", path, err)
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("snapshot write %s: %w", path, err)
	}
	if err := cw.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("snapshot write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("snapshot close %s: %w", path, err)
	}
	return nil
}
