package status

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderPublishesSnapshot(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, "analyzer")

	r.AddCount("recordings_consumed", 3)
	r.AddCount("recordings_consumed", 2)
	r.SetExtra("note", "hello")
	r.CycleComplete()

	snapshot, err := Read(dir, "analyzer")
	require.NoError(t, err)

	assert.Equal(t, "analyzer", snapshot.Stage)
	assert.True(t, snapshot.Running)
	assert.Equal(t, os.Getpid(), snapshot.PID)
	assert.False(t, snapshot.LastCycle.IsZero())
	assert.Equal(t, 5, snapshot.Counters["recordings_consumed"])
	assert.Equal(t, "hello", snapshot.Extra["note"])
}

func TestRecorderRecordsError(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, "recorder")

	r.RecordError(fmt.Errorf("device vanished"))

	snapshot, err := Read(dir, "recorder")
	require.NoError(t, err)
	assert.Equal(t, "device vanished", snapshot.LastError)
	assert.False(t, snapshot.LastErrorTime.IsZero())
}

func TestRecorderStopMarksNotRunning(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, "imagefetcher")
	r.CycleComplete()
	r.Stop()

	snapshot, err := Read(dir, "imagefetcher")
	require.NoError(t, err)
	assert.False(t, snapshot.Running)
}

func TestPublishLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, "analyzer")
	for n := 0; n < 10; n++ {
		r.CycleComplete()
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), ".tmp-"))
	}
}

func TestReadMissingSnapshot(t *testing.T) {
	_, err := Read(t.TempDir(), "nope")
	assert.Error(t, err)
}
