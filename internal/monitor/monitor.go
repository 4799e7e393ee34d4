// Package monitor samples host resources so training only starts when the
// artifact volume and memory have headroom.
package monitor

import (
	"context"
	"time"
)

// Monitor collects one resource reading.
type Monitor interface {
	Name() string
	Collect(ctx context.Context) (any, error)
}

type CPUState struct {
	UsagePercent float64 `json:"usage_percent"`
	Cores        int     `json:"cores"`
}

type MemoryState struct {
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	TotalBytes     uint64  `json:"total_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

type DiskState struct {
	FreeBytes    uint64  `json:"free_bytes"`
	TotalBytes   uint64  `json:"total_bytes"`
	UsagePercent float64 `json:"usage_percent"`
}

// StorageState is keyed by path.
type StorageState map[string]DiskState

// Snapshot is one combined reading.
type Snapshot struct {
	CPU       CPUState     `json:"cpu"`
	Memory    MemoryState  `json:"memory"`
	Storage   StorageState `json:"storage"`
	Timestamp time.Time    `json:"timestamp"`
}

func (s *Snapshot) Clone() *Snapshot {
	clone := *s
	clone.Storage = make(StorageState, len(s.Storage))
	for k, v := range s.Storage {
		clone.Storage[k] = v
	}
	return &clone
}

// Collect runs every monitor and merges the readings. A failing monitor
// leaves its section zero; the first error is returned with the partial
// snapshot.
func Collect(ctx context.Context, monitors []Monitor) (*Snapshot, error) {
	snap := &Snapshot{Storage: make(StorageState), Timestamp: time.Now()}

	var firstErr error
	for _, m := range monitors {
		data, err := m.Collect(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		switch v := data.(type) {
		case *CPUState:
			snap.CPU = *v
		case *MemoryState:
			snap.Memory = *v
		case StorageState:
			for path, d := range v {
				snap.Storage[path] = d
			}
		}
	}
	return snap, firstErr
}
