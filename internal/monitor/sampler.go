package monitor

import (
	"context"
	"log/slog"
	"time"
)

// Sampler refreshes a Preflight's snapshot on an interval so status views
// and metrics stay current between training runs. It runs as a supervised
// service.
type Sampler struct {
	preflight *Preflight
	interval  time.Duration
	logger    *slog.Logger
}

func NewSampler(p *Preflight, interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sampler{preflight: p, interval: interval, logger: logger}
}

func (s *Sampler) Serve(ctx context.Context) error {
	s.sample(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	if _, err := s.preflight.Snapshot(ctx); err != nil {
		s.logger.Warn("resource sampling failed", "error", err)
	}
}

func (s *Sampler) String() string {
	return "resource-sampler"
}
