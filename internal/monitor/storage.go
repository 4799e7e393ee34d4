package monitor

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

// StorageMonitor reads usage of the volumes holding the given paths.
type StorageMonitor struct {
	paths []string
}

func NewStorageMonitor(paths ...string) *StorageMonitor {
	if len(paths) == 0 {
		paths = []string{"/"}
	}
	return &StorageMonitor{paths: paths}
}

func (m *StorageMonitor) Name() string {
	return "storage"
}

// Collect fails if any path cannot be read.
func (m *StorageMonitor) Collect(ctx context.Context) (any, error) {
	state := make(StorageState, len(m.paths))

	for _, path := range m.paths {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read disk usage for %s: %w", path, err)
		}

		state[path] = DiskState{
			FreeBytes:    usage.Free,
			TotalBytes:   usage.Total,
			UsagePercent: usage.UsedPercent,
		}
	}

	return state, nil
}
