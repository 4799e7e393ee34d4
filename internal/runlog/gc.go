package runlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// badgerLogger routes badger's printf-style logging into slog. Badger's info
// output is noisy, so it is demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.logger.Error(badgerMessage(format, args), "component", "badger")
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.logger.Warn(badgerMessage(format, args), "component", "badger")
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.logger.Debug(badgerMessage(format, args), "component", "badger")
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.logger.Debug(badgerMessage(format, args), "component", "badger")
}

func badgerMessage(format string, args []interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

// GCService periodically reclaims ledger space. It implements suture.Service.
type GCService struct {
	ledger   *Ledger
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
}

func NewGCService(ledger *Ledger, interval time.Duration, logger *slog.Logger) *GCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCService{
		ledger:   ledger,
		interval: interval,
		ratio:    0.5,
		logger:   logger,
	}
}

// Serve runs until ctx is cancelled.
func (s *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.ledger.RunGC(s.ratio); err != nil {
				s.logger.Warn("ledger gc failed", "error", err)
				continue
			}
			s.logger.Debug("ledger gc finished", "duration", time.Since(start))
		}
	}
}

func (s *GCService) String() string {
	return "runlog-gc"
}
