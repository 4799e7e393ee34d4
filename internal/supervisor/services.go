package supervisor

import (
	"context"
	"log/slog"
)

// Lifecycle is a component with its own background loop.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop()
}

// SchedulerService hosts the retraining scheduler's poll loop. The loop is
// started on Serve when autostart is set and always stopped when the tree
// shuts down, including after it was started over the API.
type SchedulerService struct {
	sched     Lifecycle
	autostart bool
	logger    *slog.Logger
}

func NewSchedulerService(sched Lifecycle, autostart bool, logger *slog.Logger) *SchedulerService {
	return &SchedulerService{sched: sched, autostart: autostart, logger: logger}
}

func (s *SchedulerService) Serve(ctx context.Context) error {
	if s.autostart {
		if err := s.sched.Start(ctx); err != nil {
			return err
		}
	} else {
		s.logger.Info("scheduler autostart disabled")
	}

	<-ctx.Done()
	s.sched.Stop()
	return ctx.Err()
}

func (s *SchedulerService) String() string {
	return "retrain-scheduler"
}
