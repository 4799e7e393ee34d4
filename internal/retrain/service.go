// Package retrain runs one retraining cycle: fetch feedback, decode images,
// fine-tune from the active artifact, store the candidate and mark the
// feedback used. It also installs candidates on explicit request.
package retrain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/haskel/petmood/internal/artifact"
	"github.com/haskel/petmood/internal/backend"
	"github.com/haskel/petmood/internal/classifier"
	"github.com/haskel/petmood/internal/emotion"
	"github.com/haskel/petmood/internal/imageload"
	"github.com/haskel/petmood/internal/runlog"
	"github.com/haskel/petmood/internal/training"
)

var (
	ErrNoFeedback         = errors.New("no feedback available")
	ErrCandidateNotFound  = errors.New("candidate not found")
	ErrInsufficientSignal = errors.New("insufficient feedback")
)

// Feedback is the feedback store.
type Feedback interface {
	FetchTrainingFeedback(ctx context.Context) (*backend.TrainingFeedback, error)
	MarkFeedbackUsed(ctx context.Context) error
}

// ImageLoader resolves an image reference into a training tensor.
type ImageLoader interface {
	Load(ctx context.Context, ref string) (*imageload.Tensor, error)
}

// Trainer produces a candidate checkpoint.
type Trainer interface {
	Run(ctx context.Context, base *classifier.Checkpoint, samples []training.Sample, meta training.RunMeta) (*training.Result, error)
	Params() training.Params
}

// Ledger records training runs.
type Ledger interface {
	Begin(run *runlog.Run) error
	Finish(id string, out runlog.Outcome) (*runlog.Run, error)
}

// CycleOptions controls one cycle.
type CycleOptions struct {
	// Feedback, when set, is used instead of fetching.
	Feedback *backend.TrainingFeedback
	// MinFeedback of zero disables the feedback-count gate.
	MinFeedback int
	Trigger     runlog.Trigger
}

// CycleResult describes what a cycle did.
type CycleResult struct {
	Success          bool          `json:"success"`
	Message          string        `json:"message"`
	FeedbackCount    int           `json:"feedback_count"`
	RetrainPerformed bool          `json:"retrain_performed"`
	RunID            string        `json:"run_id,omitempty"`
	VersionID        string        `json:"version_id,omitempty"`
	BaseVersionID    string        `json:"base_version_id,omitempty"`
	CandidatePath    string        `json:"candidate_path,omitempty"`
	SampleCount      int           `json:"sample_count"`
	SkippedSamples   int           `json:"skipped_samples"`
	FinalLoss        float64       `json:"final_loss,omitempty"`
	FinalAccuracy    float64       `json:"final_accuracy,omitempty"`
	MarkedUsed       bool          `json:"marked_used"`
	Duration         time.Duration `json:"duration"`
}

// ActivationResult describes an explicit candidate activation.
type ActivationResult struct {
	VersionID         string `json:"version_id"`
	PreviousVersionID string `json:"previous_version_id,omitempty"`
	BackupPath        string `json:"backup_path,omitempty"`
}

// Service runs retraining cycles.
type Service struct {
	feedback Feedback
	images   ImageLoader
	trainer  Trainer
	store    *artifact.Store
	ledger   Ledger
	logger   *slog.Logger
}

func NewService(feedback Feedback, images ImageLoader, trainer Trainer, store *artifact.Store, ledger Ledger, logger *slog.Logger) *Service {
	return &Service{
		feedback: feedback,
		images:   images,
		trainer:  trainer,
		store:    store,
		ledger:   ledger,
		logger:   logger,
	}
}

// FetchFeedback returns unused feedback. Any failure is ErrNoFeedback.
func (s *Service) FetchFeedback(ctx context.Context) (*backend.TrainingFeedback, error) {
	fb, err := s.feedback.FetchTrainingFeedback(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoFeedback, err)
	}
	return fb, nil
}

// RunCycle runs one cycle. A skipped cycle returns Success=false with a nil
// error; failures after training starts return both a result and an error.
func (s *Service) RunCycle(ctx context.Context, opts CycleOptions) (*CycleResult, error) {
	start := time.Now()
	res := &CycleResult{}
	defer func() { res.Duration = time.Since(start) }()

	fb := opts.Feedback
	if fb == nil {
		var err error
		fb, err = s.FetchFeedback(ctx)
		if err != nil {
			res.Message = ErrNoFeedback.Error()
			return res, err
		}
	}
	res.FeedbackCount = fb.TotalCount

	if opts.MinFeedback > 0 && fb.TotalCount < opts.MinFeedback {
		res.Message = fmt.Sprintf("%s (%d/%d)", ErrInsufficientSignal, fb.TotalCount, opts.MinFeedback)
		s.logger.Info("retrain skipped", "reason", res.Message)
		return res, nil
	}

	base, err := s.store.LoadActive()
	if err != nil && !errors.Is(err, artifact.ErrNoActiveArtifact) {
		res.Message = "failed to load active artifact"
		return res, fmt.Errorf("failed to load base artifact: %w", err)
	}
	if base != nil {
		res.BaseVersionID = base.VersionID
	}

	params := s.trainer.Params()
	run := &runlog.Run{
		Trigger:       opts.Trigger,
		BaseVersionID: res.BaseVersionID,
		SampleCount:   fb.TotalCount,
		Epochs:        params.Epochs,
		LearningRate:  params.LearningRate,
	}
	if err := s.ledger.Begin(run); err != nil {
		res.Message = "failed to record run"
		return res, err
	}
	res.RunID = run.ID
	res.RetrainPerformed = true

	samples, skipped := s.loadSamples(ctx, fb.Items())
	res.SampleCount = len(samples)
	res.SkippedSamples = skipped

	res.VersionID = s.store.NextVersionID()

	trained, err := s.trainer.Run(ctx, base, samples, training.RunMeta{
		RunID:          run.ID,
		VersionID:      res.VersionID,
		BaseVersionID:  res.BaseVersionID,
		SkippedSamples: skipped,
	})
	if err != nil {
		return s.fail(res, run.ID, err)
	}
	res.FinalLoss = trained.FinalLoss
	res.FinalAccuracy = trained.FinalAccuracy

	path, err := s.store.WriteCandidate(trained.Checkpoint)
	if err != nil {
		return s.fail(res, run.ID, err)
	}
	res.CandidatePath = path

	res.Success = true
	res.Message = fmt.Sprintf("trained %s from %d samples", res.VersionID, len(samples))
	if err := s.feedback.MarkFeedbackUsed(ctx); err != nil {
		s.logger.Warn("trained but failed to mark feedback used", "run_id", run.ID, "error", err)
		res.Message = "trained but mark-as-used failed"
	} else {
		res.MarkedUsed = true
	}

	if _, err := s.ledger.Finish(run.ID, runlog.Outcome{
		Status:            runlog.StatusSucceeded,
		Message:           res.Message,
		ProducedVersionID: res.VersionID,
		SkippedSamples:    skipped,
		FinalLoss:         res.FinalLoss,
		FinalAccuracy:     res.FinalAccuracy,
	}); err != nil {
		s.logger.Warn("failed to record run outcome", "run_id", run.ID, "error", err)
	}

	s.logger.Info("retrain cycle finished",
		"run_id", run.ID,
		"version", res.VersionID,
		"base_version", res.BaseVersionID,
		"samples", res.SampleCount,
		"skipped", skipped,
		"final_accuracy", res.FinalAccuracy,
		"marked_used", res.MarkedUsed,
	)
	return res, nil
}

func (s *Service) fail(res *CycleResult, runID string, err error) (*CycleResult, error) {
	res.Message = err.Error()
	if _, ferr := s.ledger.Finish(runID, runlog.Outcome{
		Status:         runlog.StatusFailed,
		Message:        res.Message,
		SkippedSamples: res.SkippedSamples,
	}); ferr != nil {
		s.logger.Warn("failed to record run outcome", "run_id", runID, "error", ferr)
	}
	s.logger.Error("retrain cycle failed", "run_id", runID, "error", err)
	return res, err
}

// loadSamples decodes every usable feedback item. Unknown labels and images
// that fail to load are skipped.
func (s *Service) loadSamples(ctx context.Context, items []backend.FeedbackItem) ([]training.Sample, int) {
	samples := make([]training.Sample, 0, len(items))
	skipped := 0

	for _, it := range items {
		label, ok := emotion.Index(it.CorrectEmotion)
		if !ok {
			s.logger.Warn("skipping feedback with unknown label", "id", it.ID, "label", it.CorrectEmotion)
			skipped++
			continue
		}

		img, err := s.images.Load(ctx, it.ImageURL)
		if err != nil {
			s.logger.Warn("skipping feedback image", "id", it.ID, "error", err)
			skipped++
			continue
		}
		samples = append(samples, training.Sample{Image: img, Label: label})
	}
	return samples, skipped
}

// Activate installs a stored candidate as the active artifact. The previous
// active artifact is backed up first.
func (s *Service) Activate(ctx context.Context, versionID string) (*ActivationResult, error) {
	path := s.store.CandidatePath(versionID)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCandidateNotFound, versionID)
	}

	res := &ActivationResult{VersionID: versionID}
	if info := s.store.ActiveInfo(); info.Exists {
		res.PreviousVersionID = info.VersionID
	}

	backup, err := s.store.BackupActive()
	if err != nil {
		return nil, err
	}
	res.BackupPath = backup

	if err := s.store.SwapActive(path); err != nil {
		if backup != "" {
			if rmErr := s.store.RemoveBackup(backup); rmErr != nil {
				s.logger.Warn("failed to remove unused backup", "path", backup, "error", rmErr)
			}
		}
		return nil, err
	}

	s.logger.Info("candidate activated",
		"version", versionID,
		"previous", res.PreviousVersionID,
		"backup", backup,
	)
	return res, nil
}
