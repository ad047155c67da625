package observation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNote(scientific, common string, confidence float64) *Note {
	return &Note{
		Date:           "2025-06-15",
		Time:           "05:30:00",
		ScientificName: scientific,
		CommonName:     common,
		Confidence:     confidence,
	}
}

func TestWriterCreatesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")

	w, err := NewWriter(path, false)
	require.NoError(t, err)
	require.NoError(t, w.Append(testNote("Parus major", "Great Tit", 0.9)))
	require.NoError(t, w.Close())

	// Reopen and append again; no second header
	w, err = NewWriter(path, false)
	require.NoError(t, err)
	require.NoError(t, w.Append(testNote("Pica pica", "Eurasian Magpie", 0.8)))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "date,time,scientific_name,common_name,confidence", lines[0])
	assert.Contains(t, lines[1], "Parus major")
	assert.Contains(t, lines[2], "Pica pica")
}

func TestWriterAppendOnlyPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	w, err := NewWriter(path, false)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(testNote("Parus major", "Great Tit", 0.9)))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(testNote("Pica pica", "Eurasian Magpie", 0.8)))
	after, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(after), string(before)),
		"existing ledger content must remain an untouched prefix")
}

func TestWriterLocationColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	w, err := NewWriter(path, true)
	require.NoError(t, err)

	note := testNote("Parus major", "Great Tit", 0.9)
	note.Latitude = 60.1699
	note.Longitude = 24.9384
	note.HasLocation = true
	require.NoError(t, w.Append(note))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "date,time,scientific_name,common_name,confidence,latitude,longitude", lines[0])
	assert.Contains(t, lines[1], "60.16990")
	assert.Contains(t, lines[1], "24.93840")
}

func TestWriterConfidenceFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	w, err := NewWriter(path, false)
	require.NoError(t, err)
	require.NoError(t, w.Append(testNote("Parus major", "Great Tit", 0.25)))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), ",0.2500")
}

func TestReaderCursorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := NewReader(filepath.Join(dir, "ledger.csv"), filepath.Join(dir, "cursor"))

	cursor, err := r.Cursor()
	require.NoError(t, err)
	assert.Zero(t, cursor, "missing cursor file reads as zero")

	require.NoError(t, r.SaveCursor(7))
	cursor, err = r.Cursor()
	require.NoError(t, err)
	assert.Equal(t, 7, cursor)
}

func TestReaderCorruptCursor(t *testing.T) {
	dir := t.TempDir()
	cursorPath := filepath.Join(dir, "cursor")
	require.NoError(t, os.WriteFile(cursorPath, []byte("not a number"), 0o644))

	r := NewReader(filepath.Join(dir, "ledger.csv"), cursorPath)
	_, err := r.Cursor()
	assert.Error(t, err)
}

func TestReaderReadFrom(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.csv")

	w, err := NewWriter(ledgerPath, false)
	require.NoError(t, err)
	require.NoError(t, w.Append(testNote("Parus major", "Great Tit", 0.9)))
	require.NoError(t, w.Append(testNote("Pica pica", "Eurasian Magpie", 0.8)))
	require.NoError(t, w.Append(testNote("Parus major", "Great Tit", 0.7)))
	require.NoError(t, w.Close())

	r := NewReader(ledgerPath, filepath.Join(dir, "cursor"))

	notes, err := r.ReadFrom(0)
	require.NoError(t, err)
	require.Len(t, notes, 3)
	assert.Equal(t, "Parus major", notes[0].ScientificName)

	notes, err = r.ReadFrom(2)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.InDelta(t, 0.7, notes[0].Confidence, 0.0001)

	notes, err = r.ReadFrom(10)
	require.NoError(t, err)
	assert.Empty(t, notes, "cursor past the end reads nothing")
}

func TestReaderMissingLedger(t *testing.T) {
	dir := t.TempDir()
	r := NewReader(filepath.Join(dir, "ledger.csv"), filepath.Join(dir, "cursor"))

	notes, err := r.ReadFrom(0)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestReaderIgnoresPartialTrailingRow(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.csv")

	w, err := NewWriter(ledgerPath, false)
	require.NoError(t, err)
	require.NoError(t, w.Append(testNote("Parus major", "Great Tit", 0.9)))
	require.NoError(t, w.Close())

	// Simulate a row caught mid-write: no trailing newline yet
	f, err := os.OpenFile(ledgerPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("2025-06-15,05:31:00,Pica pi")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r := NewReader(ledgerPath, filepath.Join(dir, "cursor"))
	notes, err := r.ReadFrom(0)
	require.NoError(t, err)
	require.Len(t, notes, 1, "the incomplete row must not be visible yet")
	assert.Equal(t, "Parus major", notes[0].ScientificName)
}

func TestReaderSeenSpecies(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.csv")

	w, err := NewWriter(ledgerPath, false)
	require.NoError(t, err)
	require.NoError(t, w.Append(testNote("Parus major", "Great Tit", 0.9)))
	require.NoError(t, w.Append(testNote("Pica pica", "Eurasian Magpie", 0.8)))
	require.NoError(t, w.Append(testNote("Parus major", "Great Tit", 0.7)))
	require.NoError(t, w.Close())

	r := NewReader(ledgerPath, filepath.Join(dir, "cursor"))

	seen, err := r.SeenSpecies(-1)
	require.NoError(t, err)
	assert.Len(t, seen, 2)
	assert.True(t, seen["Parus major"])
	assert.True(t, seen["Pica pica"])

	seen, err = r.SeenSpecies(1)
	require.NoError(t, err)
	assert.Len(t, seen, 1)
	assert.True(t, seen["Parus major"])
	assert.False(t, seen["Pica pica"])
}
