// Package scheduler polls for feedback on an interval and runs retraining
// cycles under a daily quota. It evaluates the candidate after each cycle and
// flags it as recommended when it clears the accuracy threshold. It never
// swaps the active artifact itself.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haskel/petmood/internal/artifact"
	"github.com/haskel/petmood/internal/backend"
	"github.com/haskel/petmood/internal/evaluation"
	"github.com/haskel/petmood/internal/retrain"
	"github.com/haskel/petmood/internal/runlog"
)

var (
	ErrBusy       = errors.New("busy")
	ErrDailyQuota = errors.New("daily retrain limit reached")
)

// Phase is the scheduler's position in a cycle.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseChecking   Phase = "CHECKING"
	PhaseRetraining Phase = "RETRAINING"
	PhaseEvaluating Phase = "EVALUATING"
	PhaseActivated  Phase = "ACTIVATED"
)

// Retrainer runs cycles.
type Retrainer interface {
	FetchFeedback(ctx context.Context) (*backend.TrainingFeedback, error)
	RunCycle(ctx context.Context, opts retrain.CycleOptions) (*retrain.CycleResult, error)
}

// Evaluator scores candidate and active artifacts.
type Evaluator interface {
	EvaluatePath(ctx context.Context, path string) (*evaluation.Report, error)
	EvaluateActive(ctx context.Context) (*evaluation.Report, error)
}

// Recorder receives cycle metrics.
type Recorder interface {
	ObserveCycle(result string, d time.Duration, loss, accuracy float64, skippedImages int)
	SetDailyRetrains(n int)
}

// Outcome describes one check or trigger.
type Outcome struct {
	Success       bool                   `json:"success"`
	Skipped       bool                   `json:"skipped"`
	Message       string                 `json:"message"`
	Trigger       runlog.Trigger         `json:"trigger"`
	FeedbackCount int                    `json:"feedback_count"`
	Cycle         *retrain.CycleResult   `json:"cycle,omitempty"`
	Candidate     *evaluation.Report     `json:"candidate,omitempty"`
	Baseline      *evaluation.Report     `json:"baseline,omitempty"`
	Comparison    *evaluation.Comparison `json:"comparison,omitempty"`
	Recommended   bool                   `json:"recommended"`
	StartedAt     time.Time              `json:"started_at"`
	Duration      time.Duration          `json:"duration"`
}

func (o *Outcome) summary(at time.Time) *Summary {
	s := &Summary{Success: o.Success, Skipped: o.Skipped, Message: o.Message, At: at}
	if o.Cycle != nil {
		s.VersionID = o.Cycle.VersionID
	}
	if o.Candidate != nil {
		s.Accuracy = o.Candidate.Accuracy
	}
	return s
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running     bool       `json:"running"`
	Busy        bool       `json:"busy"`
	Phase       Phase      `json:"phase"`
	Interval    string     `json:"interval"`
	NextCheckAt *time.Time `json:"next_check_at,omitempty"`
	Config      Config     `json:"config"`
	State       State      `json:"state"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler drives retraining cycles.
type Scheduler struct {
	retrainer Retrainer
	evaluator Evaluator
	store     StateStore
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.RWMutex
	cfg         Config
	state       State
	phase       Phase
	running     bool
	nextCheckAt time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	resetCh     chan time.Duration

	busy atomic.Bool
}

// New creates a Scheduler and loads its persisted state. evaluator may be nil.
func New(cfg Config, store StateStore, retrainer Retrainer, evaluator Evaluator, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	s := &Scheduler{
		retrainer: retrainer,
		evaluator: evaluator,
		store:     store,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
		phase:     PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}

	st, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler state: %w", err)
	}
	// a cycle cannot survive a restart
	st.IsRunning = false
	s.state = st
	s.rollover()

	if s.recorder != nil {
		s.recorder.SetDailyRetrains(s.state.DailyRetrainCount)
	}
	return s, nil
}

// Start begins the poll loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.resetCh = make(chan time.Duration, 1)
	interval := s.cfg.CheckInterval
	s.nextCheckAt = s.now().Add(interval)
	s.mu.Unlock()

	s.logger.Info("scheduler started", "interval", interval.String())
	go s.run(ctx, interval)
	return nil
}

// Stop stops the poll loop and waits for an in-flight check to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the poll loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration) {
	s.mu.RLock()
	stopCh, doneCh, resetCh := s.stopCh, s.doneCh, s.resetCh
	s.mu.RUnlock()
	defer close(doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-stopCh:
			return
		case d := <-resetCh:
			ticker.Reset(d)
			s.setNextCheck(d)
			s.logger.Info("scheduler interval changed", "interval", d.String())
		case <-ticker.C:
			out, err := s.CheckAndTriggerRetrain(ctx)
			if err != nil {
				s.logger.Warn("scheduled check failed", "error", err)
			} else if out.Skipped {
				s.logger.Info("scheduled check skipped", "reason", out.Message)
			}
			s.mu.RLock()
			d := s.cfg.CheckInterval
			s.mu.RUnlock()
			s.setNextCheck(d)
		}
	}
}

func (s *Scheduler) setNextCheck(d time.Duration) {
	s.mu.Lock()
	s.nextCheckAt = s.now().Add(d)
	s.mu.Unlock()
}

// Config returns the current policy.
func (s *Scheduler) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateConfig applies a partial update. A changed interval restarts the
// ticker of a running loop.
func (s *Scheduler) UpdateConfig(patch ConfigPatch) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := patch.Apply(s.cfg)
	if err := next.Validate(); err != nil {
		return s.cfg, fmt.Errorf("invalid scheduler config: %w", err)
	}

	changed := next.CheckInterval != s.cfg.CheckInterval
	s.cfg = next
	if changed && s.running {
		// a pending reset is replaced; only this method sends, under mu
		select {
		case <-s.resetCh:
		default:
		}
		s.resetCh <- next.CheckInterval
	}

	s.logger.Info("scheduler config updated",
		"min_feedback_count", next.MinFeedbackCount,
		"interval", next.CheckInterval.String(),
		"auto_activation_threshold", next.AutoActivationThreshold,
		"max_daily_retrains", next.MaxDailyRetrains,
	)
	return next, nil
}

// Status returns the scheduler's current status.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running:  s.running,
		Busy:     s.busy.Load(),
		Phase:    s.phase,
		Interval: s.cfg.CheckInterval.String(),
		Config:   s.cfg,
		State:    s.state,
	}
	st.State.IsRunning = st.Busy
	if s.running {
		next := s.nextCheckAt
		st.NextCheckAt = &next
	}
	return st
}

// State returns a copy of the scheduler state.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Exclusive runs fn while holding the cycle lock. It returns ErrBusy when a
// cycle or another exclusive operation is in flight.
func (s *Scheduler) Exclusive(fn func() error) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)
	return fn()
}

// CheckAndTriggerRetrain runs one scheduled check. Skips return an Outcome
// with Skipped set and a nil error.
func (s *Scheduler) CheckAndTriggerRetrain(ctx context.Context) (*Outcome, error) {
	start := s.now()
	out := &Outcome{Trigger: runlog.TriggerSchedule, StartedAt: start}

	if s.busy.Load() {
		return s.rejectBusy(out)
	}
	prev := s.enterChecking()
	s.rollover()

	cfg := s.Config()
	if used := s.State().DailyRetrainCount; used >= cfg.MaxDailyRetrains {
		return s.skip(out, prev, fmt.Sprintf("%s (%d/%d)", ErrDailyQuota, used, cfg.MaxDailyRetrains)), nil
	}

	fb, err := s.retrainer.FetchFeedback(ctx)
	if err != nil {
		s.logger.Warn("failed to fetch feedback", "error", err)
		return s.skip(out, prev, fmt.Sprintf("%s (0/%d)", retrain.ErrInsufficientSignal, cfg.MinFeedbackCount)), nil
	}
	out.FeedbackCount = fb.TotalCount
	if fb.TotalCount < cfg.MinFeedbackCount {
		return s.skip(out, prev, fmt.Sprintf("%s (%d/%d)", retrain.ErrInsufficientSignal, fb.TotalCount, cfg.MinFeedbackCount)), nil
	}

	res, err := s.executeRetrain(ctx, out, fb)
	if errors.Is(err, ErrBusy) {
		s.leaveChecking(prev)
	}
	return res, err
}

// ManualTrigger runs a cycle without the feedback-count gate. It still
// honours the daily quota and the cycle lock.
func (s *Scheduler) ManualTrigger(ctx context.Context, trigger runlog.Trigger) (*Outcome, error) {
	if trigger == "" {
		trigger = runlog.TriggerManual
	}
	out := &Outcome{Trigger: trigger, StartedAt: s.now()}
	if s.busy.Load() {
		return s.rejectBusy(out)
	}

	fb, err := s.retrainer.FetchFeedback(ctx)
	if err != nil {
		out.Message = err.Error()
		s.conclude(out, "failure", "")
		return out, err
	}
	out.FeedbackCount = fb.TotalCount
	return s.executeRetrain(ctx, out, fb)
}

func (s *Scheduler) executeRetrain(ctx context.Context, out *Outcome, fb *backend.TrainingFeedback) (res *Outcome, err error) {
	if !s.busy.CompareAndSwap(false, true) {
		return s.rejectBusy(out)
	}
	defer s.busy.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("retrain cycle panicked", "panic", r)
			out.Success = false
			out.Message = fmt.Sprintf("cycle panicked: %v", r)
			s.finish(out, "failure", nil)
			res, err = out, fmt.Errorf("retrain cycle panicked: %v", r)
		}
	}()

	s.rollover()
	cfg := s.Config()
	if used := s.State().DailyRetrainCount; used >= cfg.MaxDailyRetrains {
		out.Message = fmt.Sprintf("%s (%d/%d)", ErrDailyQuota, used, cfg.MaxDailyRetrains)
		s.finish(out, "skipped", nil)
		return out, ErrDailyQuota
	}

	s.setPhase(PhaseRetraining)
	s.logger.Info("retrain cycle starting", "trigger", out.Trigger, "feedback", fb.TotalCount)

	cycle, err := s.retrainer.RunCycle(ctx, retrain.CycleOptions{Feedback: fb, Trigger: out.Trigger})
	out.Cycle = cycle
	if err != nil || cycle == nil || !cycle.Success {
		out.Message = "retrain failed"
		if cycle != nil && cycle.Message != "" {
			out.Message = cycle.Message
		}
		if err == nil {
			err = errors.New(out.Message)
		}
		s.finish(out, "failure", nil)
		s.logger.Error("retrain cycle failed", "trigger", out.Trigger, "error", err)
		return out, err
	}

	out.Success = true
	out.Message = cycle.Message

	s.rollover()
	s.mu.Lock()
	at := s.now()
	s.state.LastRetrainAt = &at
	// a cycle that ran past midnight was admitted under the previous day's quota
	if out.StartedAt.Format(dateLayout) == s.state.CurrentDate {
		s.state.DailyRetrainCount++
	}
	daily := s.state.DailyRetrainCount
	s.mu.Unlock()

	s.evaluate(ctx, cfg, out)

	var recommended string
	if out.Recommended {
		recommended = cycle.VersionID
	}
	s.finish(out, "success", &recommended)

	if s.recorder != nil {
		s.recorder.SetDailyRetrains(daily)
	}

	s.logger.Info("retrain cycle completed",
		"version", cycle.VersionID,
		"trigger", out.Trigger,
		"daily_count", daily,
		"recommended", out.Recommended,
	)
	return out, nil
}

// evaluate scores the candidate and, when monitoring is on, the baseline.
// Evaluation failures are logged and do not fail the cycle.
func (s *Scheduler) evaluate(ctx context.Context, cfg Config, out *Outcome) {
	if s.evaluator == nil || (!cfg.EnablePerformanceMonitoring && !cfg.EnableAutoActivation) {
		return
	}
	s.setPhase(PhaseEvaluating)

	cand, err := s.evaluator.EvaluatePath(ctx, out.Cycle.CandidatePath)
	if err != nil {
		s.logger.Warn("candidate evaluation failed", "version", out.Cycle.VersionID, "error", err)
		return
	}
	out.Candidate = cand

	if cfg.EnablePerformanceMonitoring {
		base, err := s.evaluator.EvaluateActive(ctx)
		switch {
		case errors.Is(err, artifact.ErrNoActiveArtifact):
			s.logger.Info("no active artifact to compare against")
		case err != nil:
			s.logger.Warn("baseline evaluation failed", "error", err)
		default:
			out.Baseline = base
		}
		cmp := evaluation.Compare(out.Baseline, cand)
		out.Comparison = &cmp
	}

	if cfg.EnableAutoActivation && cand.Accuracy >= cfg.AutoActivationThreshold {
		out.Recommended = true
		s.logger.Info("candidate recommended for activation",
			"version", out.Cycle.VersionID,
			"accuracy", cand.Accuracy,
			"threshold", cfg.AutoActivationThreshold,
		)
	}
}

func (s *Scheduler) skip(out *Outcome, prev Phase, msg string) *Outcome {
	out.Skipped = true
	out.Message = msg
	s.conclude(out, "skipped", prev)
	return out
}

func (s *Scheduler) rejectBusy(out *Outcome) (*Outcome, error) {
	out.Message = ErrBusy.Error()
	out.Duration = s.now().Sub(out.StartedAt)
	s.record("busy", out)
	return out, ErrBusy
}

// conclude records an outcome that never held the cycle lock. While another
// operation holds it, phase and last result belong to that operation and
// are left alone.
func (s *Scheduler) conclude(out *Outcome, result string, prev Phase) {
	if !s.busy.Load() {
		s.finish(out, result, nil)
		return
	}
	out.Duration = s.now().Sub(out.StartedAt)
	s.leaveChecking(prev)
	s.record(result, out)
}

// enterChecking sets PhaseChecking and returns the phase it replaced.
func (s *Scheduler) enterChecking() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.phase
	s.phase = PhaseChecking
	return prev
}

// leaveChecking restores prev unless a cycle already moved the phase on.
func (s *Scheduler) leaveChecking(prev Phase) {
	if prev == "" {
		return
	}
	s.mu.Lock()
	if s.phase == PhaseChecking {
		s.phase = prev
	}
	s.mu.Unlock()
}

// ClearRecommendation drops the recommended version once it has been
// activated. Other versions leave the recommendation in place.
func (s *Scheduler) ClearRecommendation(versionID string) {
	s.mu.Lock()
	if versionID == "" || s.state.RecommendedVersion != versionID {
		s.mu.Unlock()
		return
	}
	s.state.RecommendedVersion = ""
	if s.phase == PhaseActivated {
		s.phase = PhaseIdle
	}
	snapshot := s.state
	s.mu.Unlock()

	if err := s.store.Save(snapshot); err != nil {
		s.logger.Error("failed to save scheduler state", "error", err)
	}
}

// finish records the outcome. Only successful cycles pass recommended and
// persist state; a successful cycle without a recommendation clears the
// previous one.
func (s *Scheduler) finish(out *Outcome, result string, recommended *string) {
	out.Duration = s.now().Sub(out.StartedAt)

	s.mu.Lock()
	s.state.LastResult = out.summary(s.now())
	switch {
	case recommended != nil && *recommended != "":
		s.state.RecommendedVersion = *recommended
		s.phase = PhaseActivated
	case recommended != nil:
		s.state.RecommendedVersion = ""
		s.phase = PhaseIdle
	default:
		s.phase = PhaseIdle
	}
	snapshot := s.state
	s.mu.Unlock()

	if recommended != nil {
		if err := s.store.Save(snapshot); err != nil {
			s.logger.Error("failed to save scheduler state", "error", err)
		}
	}
	s.record(result, out)
}

func (s *Scheduler) record(result string, out *Outcome) {
	if s.recorder == nil {
		return
	}
	var loss, acc float64
	var skipped int
	if out.Cycle != nil {
		loss, acc, skipped = out.Cycle.FinalLoss, out.Cycle.FinalAccuracy, out.Cycle.SkippedSamples
	}
	s.recorder.ObserveCycle(result, out.Duration, loss, acc, skipped)
}

func (s *Scheduler) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// rollover resets the daily counter when the calendar date changed and
// persists the reset.
func (s *Scheduler) rollover() {
	today := s.now().Format(dateLayout)

	s.mu.Lock()
	if s.state.CurrentDate == today {
		s.mu.Unlock()
		return
	}
	prev := s.state.CurrentDate
	s.state.CurrentDate = today
	s.state.DailyRetrainCount = 0
	snapshot := s.state
	s.mu.Unlock()

	if err := s.store.Save(snapshot); err != nil {
		s.logger.Error("failed to save scheduler state", "error", err)
	}
	if prev != "" {
		s.logger.Info("daily retrain count reset", "date", today)
	}
	if s.recorder != nil {
		s.recorder.SetDailyRetrains(0)
	}
}
