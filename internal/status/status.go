// Package status publishes point-in-time stage status snapshots for the
// control plane to poll. Snapshots are JSON files written atomically to
// the status directory, one per stage, over the same filesystem substrate
// the rest of the pipeline coordinates through.
package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aviarylab/birdstation/internal/errors"
)

// Snapshot is the status document for one stage.
type Snapshot struct {
	Stage         string         `json:"stage"`
	Running       bool           `json:"running"`
	PID           int            `json:"pid"`
	StartedAt     time.Time      `json:"started_at"`
	LastCycle     time.Time      `json:"last_cycle,omitzero"`
	LastError     string         `json:"last_error,omitempty"`
	LastErrorTime time.Time      `json:"last_error_time,omitzero"`
	Counters      map[string]int `json:"counters,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Recorder maintains and publishes the snapshot for one stage.
// Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	dir      string
	snapshot Snapshot
}

// NewRecorder creates a recorder for the named stage publishing into dir.
func NewRecorder(dir, stage string) *Recorder {
	return &Recorder{
		dir: dir,
		snapshot: Snapshot{
			Stage:     stage,
			Running:   true,
			PID:       os.Getpid(),
			StartedAt: time.Now(),
			Counters:  make(map[string]int),
		},
	}
}

// CycleComplete records a successful cycle and publishes the snapshot.
func (r *Recorder) CycleComplete() {
	r.mu.Lock()
	r.snapshot.LastCycle = time.Now()
	r.mu.Unlock()
	r.publish()
}

// RecordError records the most recent stage-local error and publishes.
// Only status crosses the stage boundary; raw errors stay in the logs.
func (r *Recorder) RecordError(err error) {
	r.mu.Lock()
	r.snapshot.LastError = err.Error()
	r.snapshot.LastErrorTime = time.Now()
	r.mu.Unlock()
	r.publish()
}

// AddCount increments a named counter. The change becomes visible at the
// next publish.
func (r *Recorder) AddCount(name string, delta int) {
	r.mu.Lock()
	r.snapshot.Counters[name] += delta
	r.mu.Unlock()
}

// SetExtra attaches arbitrary stage-specific detail to the snapshot, for
// example a disk usage summary.
func (r *Recorder) SetExtra(key string, value any) {
	r.mu.Lock()
	if r.snapshot.Extra == nil {
		r.snapshot.Extra = make(map[string]any)
	}
	r.snapshot.Extra[key] = value
	r.mu.Unlock()
}

// Stop marks the stage as no longer running and publishes a final snapshot.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.snapshot.Running = false
	r.mu.Unlock()
	r.publish()
}

// publish writes the snapshot atomically via write-temp-then-rename.
func (r *Recorder) publish() {
	r.mu.Lock()
	data, err := json.MarshalIndent(&r.snapshot, "", "  ")
	stage := r.snapshot.Stage
	r.mu.Unlock()
	if err != nil {
		return
	}

	if mkErr := os.MkdirAll(r.dir, 0o755); mkErr != nil {
		return
	}

	finalPath := filepath.Join(r.dir, stage+".json")
	tmpPath := filepath.Join(r.dir, ".tmp-"+stage+".json")
	if writeErr := os.WriteFile(tmpPath, data, 0o644); writeErr != nil {
		return
	}
	if renameErr := os.Rename(tmpPath, finalPath); renameErr != nil {
		os.Remove(tmpPath)
	}
}

// Read loads the published snapshot for a stage, for tests and tooling.
func Read(dir, stage string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, stage+".json"))
	if err != nil {
		return nil, errors.New(err).
			Component("status").
			Category(errors.CategoryFileIO).
			Context("stage", stage).
			Build()
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.New(err).
			Component("status").
			Category(errors.CategoryValidation).
			Context("stage", stage).
			Build()
	}
	return &snapshot, nil
}
