// reader.go: cursor-based ledger reader used by the image fetcher.
package observation

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aviarylab/birdstation/internal/errors"
)

// Reader consumes ledger rows from a persisted cursor. The ledger only
// ever grows, so a reader may safely assume that rows visible at an
// earlier poll are a prefix of the rows visible now. An in-progress row
// without a trailing newline is not yet visible and is re-read next poll.
//
// Each Reader owns its cursor file; exactly one reader role per cursor.
type Reader struct {
	ledgerPath string
	cursorPath string
}

// NewReader creates a reader over the ledger with its cursor persisted at
// cursorPath.
func NewReader(ledgerPath, cursorPath string) *Reader {
	return &Reader{
		ledgerPath: ledgerPath,
		cursorPath: cursorPath,
	}
}

// Cursor loads the persisted row offset, or 0 when none has been saved.
func (r *Reader) Cursor() (int, error) {
	data, err := os.ReadFile(r.cursorPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.New(err).
			Component("observation").
			Category(errors.CategoryFileIO).
			Context("path", r.cursorPath).
			Build()
	}

	cursor, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || cursor < 0 {
		return 0, errors.Newf("corrupt cursor file %s: %q", r.cursorPath, string(data)).
			Component("observation").
			Category(errors.CategoryValidation).
			Build()
	}
	return cursor, nil
}

// SaveCursor persists the row offset atomically via write-temp-then-rename
// so a crash mid-save cannot corrupt the cursor.
func (r *Reader) SaveCursor(cursor int) error {
	dir := filepath.Dir(r.cursorPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component("observation").
				Category(errors.CategoryFileIO).
				Context("dir", dir).
				Build()
		}
	}

	tmpPath := filepath.Join(dir, ".tmp-"+filepath.Base(r.cursorPath))
	if err := os.WriteFile(tmpPath, []byte(strconv.Itoa(cursor)), 0o644); err != nil {
		return errors.New(err).
			Component("observation").
			Category(errors.CategoryFileIO).
			Context("path", tmpPath).
			Build()
	}
	if err := os.Rename(tmpPath, r.cursorPath); err != nil {
		os.Remove(tmpPath)
		return errors.New(err).
			Component("observation").
			Category(errors.CategoryFileIO).
			Context("path", r.cursorPath).
			Build()
	}
	return nil
}

// ReadFrom returns all complete rows appended at or after the given row
// offset, in ledger order.
func (r *Reader) ReadFrom(cursor int) ([]Note, error) {
	notes, err := r.readAll()
	if err != nil {
		return nil, err
	}
	if cursor >= len(notes) {
		return nil, nil
	}
	return notes[cursor:], nil
}

// SeenSpecies returns the set of scientific names appearing in rows
// [0, beforeRow). Pass a negative offset to scan the full history. The
// seen set is always derived from the ledger itself; it is never
// persisted separately, so it cannot drift from the system of record.
func (r *Reader) SeenSpecies(beforeRow int) (map[string]bool, error) {
	notes, err := r.readAll()
	if err != nil {
		return nil, err
	}
	if beforeRow < 0 || beforeRow > len(notes) {
		beforeRow = len(notes)
	}

	seen := make(map[string]bool, beforeRow)
	for i := 0; i < beforeRow; i++ {
		seen[notes[i].ScientificName] = true
	}
	return seen, nil
}

// readAll parses every complete row currently in the ledger. The header
// row and a partial trailing row are excluded.
func (r *Reader) readAll() ([]Note, error) {
	data, err := os.ReadFile(r.ledgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(err).
			Component("observation").
			Category(errors.CategoryLedger).
			Context("path", r.ledgerPath).
			Build()
	}

	// Only complete lines are visible rows; a write in progress that has
	// not reached its newline yet is re-read next poll.
	if idx := bytes.LastIndexByte(data, '\n'); idx >= 0 {
		data = data[:idx+1]
	} else {
		return nil, nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1 // column count depends on location tagging
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.New(err).
			Component("observation").
			Category(errors.CategoryLedger).
			Context("path", r.ledgerPath).
			Build()
	}

	var notes []Note
	for i, record := range records {
		if i == 0 && len(record) > 0 && record[0] == "date" {
			continue // header
		}
		if len(record) < 5 {
			continue
		}

		confidence, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			continue
		}

		note := Note{
			Date:           record[0],
			Time:           record[1],
			ScientificName: record[2],
			CommonName:     record[3],
			Confidence:     confidence,
		}
		if len(record) >= 7 {
			lat, latErr := strconv.ParseFloat(record[5], 64)
			lon, lonErr := strconv.ParseFloat(record[6], 64)
			if latErr == nil && lonErr == nil {
				note.Latitude = lat
				note.Longitude = lon
				note.HasLocation = true
			}
		}
		notes = append(notes, note)
	}

	return notes, nil
}
