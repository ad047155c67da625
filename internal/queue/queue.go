// Package queue presents a work queue over a plain directory of recording
// files. The filesystem is the only coordination substrate between the
// capture and analyzer stages: a recording is claimed by atomically
// renaming it to a reserved extension, which at most one claimant can win.
package queue

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aviarylab/birdstation/internal/errors"
	"github.com/aviarylab/birdstation/internal/myaudio"
)

// ClaimExt is appended to a recording file name while an analyzer
// instance owns it.
const ClaimExt = ".claimed"

// tmpPrefix marks recordings still being written by the capture stage.
// They are invisible to the queue until renamed into place.
const tmpPrefix = ".tmp-"

// DefaultClaimTTL is how long a claim may exist before it is considered
// abandoned by a crashed analyzer and released for retry.
const DefaultClaimTTL = 60 * time.Minute

// ErrAlreadyClaimed is returned when another analyzer instance won the
// claim race for a recording.
var ErrAlreadyClaimed = errors.NewStd("recording already claimed")

// Recording describes one unclaimed recording in the queue.
type Recording struct {
	Path      string
	Name      string
	Timestamp time.Time
	Seq       int
	Size      int64
}

// Queue lists and claims recordings in a single channel-scoped directory.
// Per-channel exclusivity is the caller's responsibility: run at most one
// analyzer instance per directory to preserve ledger ordering.
type Queue struct {
	dir      string
	claimTTL time.Duration
	logger   *slog.Logger
}

// New creates a queue over the given recordings directory.
func New(dir string, logger *slog.Logger) *Queue {
	return &Queue{
		dir:      dir,
		claimTTL: DefaultClaimTTL,
		logger:   logger,
	}
}

// SetClaimTTL overrides the stale-claim threshold.
func (q *Queue) SetClaimTTL(ttl time.Duration) {
	q.claimTTL = ttl
}

// List returns the unclaimed recordings in the directory, oldest first by
// the capture timestamp encoded in the file name. Stale claims left by a
// crashed analyzer are released back into the queue first.
func (q *Queue) List() ([]Recording, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(err).
			Component("queue").
			Category(errors.CategoryFileIO).
			Context("dir", q.dir).
			Build()
	}

	q.releaseStaleClaims(entries)

	var recordings []Recording
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, ".wav") {
			continue
		}

		ts, seq, err := ParseRecordingName(name)
		if err != nil {
			// Foreign files in the queue directory are skipped, not deleted.
			q.logger.Debug("ignoring file with unrecognized name", "name", name)
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		recordings = append(recordings, Recording{
			Path:      filepath.Join(q.dir, name),
			Name:      name,
			Timestamp: ts,
			Seq:       seq,
			Size:      info.Size(),
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		if recordings[i].Timestamp.Equal(recordings[j].Timestamp) {
			return recordings[i].Seq < recordings[j].Seq
		}
		return recordings[i].Timestamp.Before(recordings[j].Timestamp)
	})

	return recordings, nil
}

// releaseStaleClaims renames claims older than the TTL back to their
// unclaimed names so the recordings become processable again.
func (q *Queue) releaseStaleClaims(entries []os.DirEntry) {
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ClaimExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) < q.claimTTL {
			continue
		}

		claimedPath := filepath.Join(q.dir, name)
		originalPath := strings.TrimSuffix(claimedPath, ClaimExt)
		if err := os.Rename(claimedPath, originalPath); err != nil {
			q.logger.Warn("failed to release stale claim", "path", claimedPath, "error", err)
			continue
		}
		q.logger.Info("released stale claim", "recording", filepath.Base(originalPath))
	}
}

// Claim takes exclusive ownership of a recording via an atomic rename.
// Exactly one concurrent claimant succeeds; the others get
// ErrAlreadyClaimed.
func (q *Queue) Claim(rec *Recording) (*Claim, error) {
	claimedPath := rec.Path + ClaimExt
	if err := os.Rename(rec.Path, claimedPath); err != nil {
		if os.IsNotExist(err) {
			// Lost the race, or the recording was evicted by retention.
			return nil, ErrAlreadyClaimed
		}
		return nil, errors.New(err).
			Component("queue").
			Category(errors.CategoryClaim).
			Context("recording", rec.Name).
			Build()
	}

	return &Claim{
		Recording:   *rec,
		ClaimedPath: claimedPath,
	}, nil
}

// Claim represents exclusive ownership of one recording. It is released
// on failure (recording returns to the queue) or consumed on success
// (recording deleted).
type Claim struct {
	Recording   Recording
	ClaimedPath string
}

// Release returns the recording to the queue for retry.
func (c *Claim) Release() error {
	if err := os.Rename(c.ClaimedPath, c.Recording.Path); err != nil {
		return errors.New(err).
			Component("queue").
			Category(errors.CategoryClaim).
			Context("operation", "release").
			Context("recording", c.Recording.Name).
			Build()
	}
	return nil
}

// Consume deletes the processed recording. A recording already removed by
// retention eviction is not an error.
func (c *Claim) Consume() error {
	if err := os.Remove(c.ClaimedPath); err != nil && !os.IsNotExist(err) {
		return errors.New(err).
			Component("queue").
			Category(errors.CategoryFileIO).
			Context("operation", "consume").
			Context("recording", c.Recording.Name).
			Build()
	}
	return nil
}

// Quarantine moves the recording aside into quarantineDir so it is
// neither retried nor silently dropped.
func (c *Claim) Quarantine(quarantineDir string) error {
	if err := os.MkdirAll(quarantineDir, 0o755); err != nil {
		return errors.New(err).
			Component("queue").
			Category(errors.CategoryQuarantine).
			Context("dir", quarantineDir).
			Build()
	}
	dest := filepath.Join(quarantineDir, c.Recording.Name)
	if err := os.Rename(c.ClaimedPath, dest); err != nil {
		return errors.New(err).
			Component("queue").
			Category(errors.CategoryQuarantine).
			Context("recording", c.Recording.Name).
			Build()
	}
	return nil
}

// ParseRecordingName extracts the capture timestamp and collision
// sequence from a recording file name of the form
// 20060102T150405Z.wav or 20060102T150405Z_1.wav.
func ParseRecordingName(name string) (time.Time, int, error) {
	base := strings.TrimSuffix(name, ".wav")
	seq := 0

	if idx := strings.IndexByte(base, '_'); idx >= 0 {
		n, err := strconv.Atoi(base[idx+1:])
		if err != nil {
			return time.Time{}, 0, errors.Newf("invalid sequence in recording name %s", name).
				Component("queue").
				Category(errors.CategoryValidation).
				Build()
		}
		seq = n
		base = base[:idx]
	}

	ts, err := time.Parse(myaudio.RecordingTimeFormat, base)
	if err != nil {
		return time.Time{}, 0, errors.Newf("invalid timestamp in recording name %s", name).
			Component("queue").
			Category(errors.CategoryValidation).
			Build()
	}

	return ts, seq, nil
}
