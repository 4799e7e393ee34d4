package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMonitor struct {
	name string
	data any
	err  error
}

func (f fakeMonitor) Name() string { return f.name }

func (f fakeMonitor) Collect(ctx context.Context) (any, error) { return f.data, f.err }

func fakes(dir string, freeBytes uint64, memPercent float64) []Monitor {
	return []Monitor{
		fakeMonitor{name: "cpu", data: &CPUState{UsagePercent: 12, Cores: 8}},
		fakeMonitor{name: "memory", data: &MemoryState{UsagePercent: memPercent, TotalBytes: 16 << 30}},
		fakeMonitor{name: "storage", data: StorageState{dir: {FreeBytes: freeBytes, TotalBytes: 100 << 30}}},
	}
}

func TestCollect_MergesReadings(t *testing.T) {
	snap, err := Collect(context.Background(), fakes("/data", 5<<30, 40))
	require.NoError(t, err)
	assert.Equal(t, 8, snap.CPU.Cores)
	assert.Equal(t, 40.0, snap.Memory.UsagePercent)
	assert.Equal(t, uint64(5<<30), snap.Storage["/data"].FreeBytes)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestCollect_PartialOnError(t *testing.T) {
	monitors := []Monitor{
		fakeMonitor{name: "cpu", err: errors.New("no procfs")},
		fakeMonitor{name: "memory", data: &MemoryState{UsagePercent: 10}},
	}
	snap, err := Collect(context.Background(), monitors)
	assert.EqualError(t, err, "no procfs")
	assert.Equal(t, 10.0, snap.Memory.UsagePercent)
}

func TestPreflight_Check(t *testing.T) {
	tests := []struct {
		name    string
		free    uint64
		memory  float64
		wantErr bool
	}{
		{name: "headroom", free: 2 << 30, memory: 50},
		{name: "disk full", free: 100 << 20, memory: 50, wantErr: true},
		{name: "memory exhausted", free: 2 << 30, memory: 97, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPreflight("/data", Thresholds{MinFreeDiskBytes: 1 << 30, MaxMemoryPercent: 95}, testLogger(),
				WithMonitors(fakes("/data", tt.free, tt.memory)...))

			err := p.Check()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInsufficientResources))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPreflight_DisabledThresholds(t *testing.T) {
	p := NewPreflight("/data", Thresholds{}, testLogger(), WithMonitors(fakes("/data", 0, 100)...))
	assert.NoError(t, p.Check())
}

func TestPreflight_SamplingFailure(t *testing.T) {
	p := NewPreflight("/data", Thresholds{}, testLogger(),
		WithMonitors(fakeMonitor{name: "storage", err: errors.New("no such volume")}))
	err := p.Check()
	assert.Error(t, err)
	assert.Nil(t, p.Last())
}

func TestPreflight_ObserverAndLast(t *testing.T) {
	var seen *Snapshot
	p := NewPreflight("/data", Thresholds{}, testLogger(),
		WithMonitors(fakes("/data", 3<<30, 20)...),
		WithObserver(func(s *Snapshot) { seen = s }))

	assert.Nil(t, p.Last())
	_, err := p.Snapshot(context.Background())
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.Equal(t, uint64(3<<30), seen.Storage["/data"].FreeBytes)

	last := p.Last()
	require.NotNil(t, last)
	last.Storage["/data"] = DiskState{}
	assert.Equal(t, uint64(3<<30), p.Last().Storage["/data"].FreeBytes, "Last returns a copy")
}

func TestSampler_Serve(t *testing.T) {
	calls := 0
	p := NewPreflight("/data", Thresholds{}, testLogger(),
		WithMonitors(fakes("/data", 1, 1)...),
		WithObserver(func(*Snapshot) { calls++ }))
	s := NewSampler(p, 5*time.Millisecond, testLogger())
	assert.Equal(t, "resource-sampler", s.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Serve(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.GreaterOrEqual(t, calls, 1)
}

func TestHostMonitors(t *testing.T) {
	dir := t.TempDir()
	snap, err := Collect(context.Background(), []Monitor{NewMemoryMonitor(), NewStorageMonitor(dir)})
	require.NoError(t, err)

	assert.NotZero(t, snap.Memory.TotalBytes)
	assert.LessOrEqual(t, snap.Memory.UsagePercent, 100.0)
	disk, ok := snap.Storage[dir]
	require.True(t, ok)
	assert.NotZero(t, disk.TotalBytes)

	_, err = NewStorageMonitor("/definitely/not/here").Collect(context.Background())
	assert.Error(t, err)
}
