// ledger.go: single-writer append-only store for detection rows.
package observation

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aviarylab/birdstation/internal/errors"
)

// Ledger column layouts. The location columns exist only when location
// tagging was enabled when the ledger was created.
var (
	headerColumns         = []string{"date", "time", "scientific_name", "common_name", "confidence"}
	headerColumnsLocation = []string{"date", "time", "scientific_name", "common_name", "confidence", "latitude", "longitude"}
)

// Writer appends detection rows to the ledger file. Every append is one
// complete row written in a single write call, so a concurrent reader
// sees either the whole row or nothing. Rows already flushed are never
// altered.
type Writer struct {
	file        *os.File
	path        string
	withColumns bool // location columns enabled
}

// NewWriter opens the ledger for appending, creating it (and its header)
// when it does not exist yet.
func NewWriter(path string, withLocation bool) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(err).
				Component("observation").
				Category(errors.CategoryLedger).
				Context("dir", dir).
				Build()
		}
	}

	info, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.New(err).
			Component("observation").
			Category(errors.CategoryLedger).
			Context("path", path).
			Build()
	}

	w := &Writer{
		file:        file,
		path:        path,
		withColumns: withLocation,
	}

	if isNew {
		columns := headerColumns
		if withLocation {
			columns = headerColumnsLocation
		}
		if err := w.writeRecord(columns); err != nil {
			file.Close()
			return nil, err
		}
	}

	return w, nil
}

// Append writes one detection as a single complete row.
func (w *Writer) Append(note *Note) error {
	record := []string{
		note.Date,
		note.Time,
		note.ScientificName,
		note.CommonName,
		strconv.FormatFloat(note.Confidence, 'f', 4, 64),
	}
	if w.withColumns {
		record = append(record,
			strconv.FormatFloat(note.Latitude, 'f', 5, 64),
			strconv.FormatFloat(note.Longitude, 'f', 5, 64),
		)
	}
	return w.writeRecord(record)
}

// writeRecord encodes a record to CSV and writes it with one Write call.
func (w *Writer) writeRecord(record []string) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(record); err != nil {
		return errors.New(err).
			Component("observation").
			Category(errors.CategoryLedger).
			Build()
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.New(err).
			Component("observation").
			Category(errors.CategoryLedger).
			Build()
	}

	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return errors.New(err).
			Component("observation").
			Category(errors.CategoryLedger).
			Context("path", w.path).
			Build()
	}
	return nil
}

// Sync flushes appended rows to stable storage. The analyzer calls this
// before deleting a processed recording, so a crash between append and
// delete cannot lose detections silently.
func (w *Writer) Sync() error {
	if err := w.file.Sync(); err != nil {
		return errors.New(err).
			Component("observation").
			Category(errors.CategoryLedger).
			Context("path", w.path).
			Build()
	}
	return nil
}

// Close syncs and closes the ledger file.
func (w *Writer) Close() error {
	if err := w.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
