// policy_count.go - count-based retention policy for the recordings directory
package diskmanager

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aviarylab/birdstation/internal/errors"
	"github.com/aviarylab/birdstation/internal/queue"
)

// FileInfo holds information about one recording file eligible for eviction.
type FileInfo struct {
	Path      string
	Timestamp time.Time
	Seq       int
	Size      int64
	Claimed   bool
}

// CountBasedCleanup enforces the retention cap on a recordings directory:
// whenever the number of recordings (claimed or not) exceeds maxRecordings,
// the oldest files are deleted until the count returns to the cap.
//
// Claimed recordings are deliberately NOT exempt. Retention bounds storage
// irrespective of processing state; an in-flight recording being evicted is
// a known, accepted data-loss window, and the analyzer treats the resulting
// missing file as a consumed claim rather than an error.
func CountBasedCleanup(baseDir string, maxRecordings int, logger *slog.Logger) (int, error) {
	files, err := GetRecordingFiles(baseDir)
	if err != nil {
		return 0, err
	}

	if len(files) <= maxRecordings {
		return 0, nil
	}

	// Oldest first by capture timestamp encoded in the name.
	sort.Slice(files, func(i, j int) bool {
		if files[i].Timestamp.Equal(files[j].Timestamp) {
			return files[i].Seq < files[j].Seq
		}
		return files[i].Timestamp.Before(files[j].Timestamp)
	})

	toDelete := len(files) - maxRecordings
	deleted := 0
	for _, file := range files[:toDelete] {
		if err := os.Remove(file.Path); err != nil {
			if os.IsNotExist(err) {
				// Consumed by the analyzer between scan and delete.
				continue
			}
			return deleted, errors.New(err).
				Component("diskmanager").
				Category(errors.CategoryDiskCleanup).
				Context("path", file.Path).
				Build()
		}
		deleted++
		logger.Info("evicted recording over retention cap",
			"path", file.Path, "claimed", file.Claimed)
	}

	if deleted > 0 {
		logger.Info("retention cap enforced",
			"deleted", deleted, "cap", maxRecordings)
	}

	return deleted, nil
}

// GetRecordingFiles lists recording files in the directory, including
// claimed ones. Files still being written (temp prefix) and foreign files
// are excluded.
func GetRecordingFiles(baseDir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryFileIO).
			Context("dir", baseDir).
			Build()
	}

	var files []FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".tmp-") {
			continue
		}

		claimed := strings.HasSuffix(name, queue.ClaimExt)
		baseName := strings.TrimSuffix(name, queue.ClaimExt)
		if !strings.HasSuffix(baseName, ".wav") {
			continue
		}

		ts, seq, err := queue.ParseRecordingName(baseName)
		if err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, FileInfo{
			Path:      filepath.Join(baseDir, name),
			Timestamp: ts,
			Seq:       seq,
			Size:      info.Size(),
			Claimed:   claimed,
		})
	}

	return files, nil
}
