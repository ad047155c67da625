// disk_usage.go - disk usage snapshot for the status interface
package diskmanager

import (
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aviarylab/birdstation/internal/errors"
)

// DiskUsage describes the filesystem holding the recordings directory.
type DiskUsage struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// GetDiskUsage returns a point-in-time usage snapshot for the filesystem
// containing path.
func GetDiskUsage(path string) (DiskUsage, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskUsage{}, errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	return DiskUsage{
		Path:        path,
		TotalBytes:  usage.Total,
		UsedBytes:   usage.Used,
		UsedPercent: usage.UsedPercent,
	}, nil
}
