package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrInsufficientResources = errors.New("insufficient resources")

// Thresholds gate a training run. Zero values disable a check.
type Thresholds struct {
	MinFreeDiskBytes uint64
	MaxMemoryPercent float64
}

// Preflight checks that the artifact volume has free space and memory is not
// exhausted before a training run starts.
type Preflight struct {
	dir        string
	thresholds Thresholds
	monitors   []Monitor
	timeout    time.Duration
	observer   func(*Snapshot)
	logger     *slog.Logger

	mu   sync.RWMutex
	last *Snapshot
}

type PreflightOption func(*Preflight)

// WithMonitors replaces the gopsutil-backed monitors.
func WithMonitors(monitors ...Monitor) PreflightOption {
	return func(p *Preflight) { p.monitors = monitors }
}

// WithObserver is called with every snapshot taken.
func WithObserver(fn func(*Snapshot)) PreflightOption {
	return func(p *Preflight) { p.observer = fn }
}

// NewPreflight watches the volume holding dir.
func NewPreflight(dir string, th Thresholds, logger *slog.Logger, opts ...PreflightOption) *Preflight {
	p := &Preflight{
		dir:        dir,
		thresholds: th,
		monitors:   []Monitor{NewCPUMonitor(), NewMemoryMonitor(), NewStorageMonitor(dir)},
		timeout:    5 * time.Second,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Snapshot takes a fresh reading and caches it.
func (p *Preflight) Snapshot(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	snap, err := Collect(ctx, p.monitors)
	if err != nil {
		return snap, err
	}

	p.mu.Lock()
	p.last = snap
	p.mu.Unlock()

	if p.observer != nil {
		p.observer(snap.Clone())
	}
	return snap, nil
}

// Last returns the most recent snapshot, or nil.
func (p *Preflight) Last() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return nil
	}
	return p.last.Clone()
}

// Check returns ErrInsufficientResources when a threshold is crossed.
func (p *Preflight) Check() error {
	snap, err := p.Snapshot(context.Background())
	if err != nil {
		return fmt.Errorf("failed to sample resources: %w", err)
	}

	var errs []error
	if minFree := p.thresholds.MinFreeDiskBytes; minFree > 0 {
		d, ok := snap.Storage[p.dir]
		if !ok {
			errs = append(errs, fmt.Errorf("no disk reading for %s", p.dir))
		} else if d.FreeBytes < minFree {
			errs = append(errs, fmt.Errorf("free disk %d MB below %d MB", d.FreeBytes>>20, minFree>>20))
		}
	}
	if maxMem := p.thresholds.MaxMemoryPercent; maxMem > 0 && snap.Memory.UsagePercent > maxMem {
		errs = append(errs, fmt.Errorf("memory usage %.1f%% above %.1f%%", snap.Memory.UsagePercent, maxMem))
	}

	if len(errs) > 0 {
		err := fmt.Errorf("%w: %w", ErrInsufficientResources, errors.Join(errs...))
		p.logger.Warn("preflight check failed", "dir", p.dir, "error", err)
		return err
	}

	p.logger.Debug("preflight check passed",
		"dir", p.dir,
		"memory_percent", snap.Memory.UsagePercent,
	)
	return nil
}
