// Package training runs bounded fine-tuning of the classification head on
// labelled feedback images.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/haskel/petmood/internal/classifier"
	"github.com/haskel/petmood/internal/imageload"
)

var (
	ErrInsufficientData = errors.New("insufficient training data")
	ErrTrainingFailed   = errors.New("training failed")
)

// Sample is one decoded training image and its class index.
type Sample struct {
	Image *imageload.Tensor
	Label int
}

// Params are the fine-tuning hyperparameters.
type Params struct {
	Epochs          int
	LearningRate    float64
	WeightDecay     float64
	BatchSize       int
	PlateauPatience int
	PlateauFactor   float64
	MinLearningRate float64
	MinSamples      int
	Seed            int64
}

// DefaultParams returns the standard fine-tuning settings.
func DefaultParams() Params {
	return Params{
		Epochs:          10,
		LearningRate:    1e-4,
		WeightDecay:     1e-4,
		BatchSize:       16,
		PlateauPatience: 3,
		PlateauFactor:   0.5,
		MinLearningRate: 1e-7,
		MinSamples:      5,
		Seed:            42,
	}
}

func (p Params) Validate() error {
	var errs []error
	if p.Epochs < 1 {
		errs = append(errs, errors.New("epochs must be at least 1"))
	}
	if p.LearningRate <= 0 {
		errs = append(errs, errors.New("learning rate must be positive"))
	}
	if p.WeightDecay < 0 {
		errs = append(errs, errors.New("weight decay must not be negative"))
	}
	if p.BatchSize < 1 {
		errs = append(errs, errors.New("batch size must be at least 1"))
	}
	if p.PlateauFactor <= 0 || p.PlateauFactor >= 1 {
		errs = append(errs, errors.New("plateau factor must be in (0, 1)"))
	}
	if p.PlateauPatience < 0 {
		errs = append(errs, errors.New("plateau patience must not be negative"))
	}
	return errors.Join(errs...)
}

// EpochStats summarizes one pass over the samples.
type EpochStats struct {
	Epoch        int     `json:"epoch"`
	Loss         float64 `json:"loss"`
	Accuracy     float64 `json:"accuracy"`
	LearningRate float64 `json:"learning_rate"`
	Reduced      bool    `json:"lr_reduced,omitempty"`
}

// Result is a finished run.
type Result struct {
	Checkpoint    *classifier.Checkpoint
	FinalLoss     float64
	FinalAccuracy float64
	Epochs        []EpochStats
	Duration      time.Duration
}

// RunMeta identifies the run and the version it produces.
type RunMeta struct {
	RunID          string
	VersionID      string
	BaseVersionID  string
	SkippedSamples int
}

// Preflight reports whether the host can take a training run.
type Preflight interface {
	Check() error
}

// Executor trains candidates. It never touches the active artifact.
type Executor struct {
	params    Params
	preflight Preflight
	logger    *slog.Logger
	now       func() time.Time
}

// NewExecutor creates an Executor. preflight may be nil.
func NewExecutor(params Params, preflight Preflight, logger *slog.Logger) *Executor {
	if params.MinSamples <= 0 {
		params.MinSamples = DefaultParams().MinSamples
	}
	return &Executor{
		params:    params,
		preflight: preflight,
		logger:    logger,
		now:       time.Now,
	}
}

func (e *Executor) Params() Params {
	return e.params
}

// Run fine-tunes base on samples and returns the candidate checkpoint.
// A nil base starts from the deterministic pretrained weights.
func (e *Executor) Run(ctx context.Context, base *classifier.Checkpoint, samples []Sample, meta RunMeta) (res *Result, err error) {
	if len(samples) < e.params.MinSamples {
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, len(samples), e.params.MinSamples)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("training panicked", "run_id", meta.RunID, "panic", r)
			res = nil
			err = fmt.Errorf("%w: panic: %v", ErrTrainingFailed, r)
		}
	}()

	if err := e.params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainingFailed, err)
	}
	if e.preflight != nil {
		if err := e.preflight.Check(); err != nil {
			return nil, fmt.Errorf("%w: preflight: %w", ErrTrainingFailed, err)
		}
	}

	model, err := e.initialModel(base)
	if err != nil {
		return nil, err
	}

	features, labels, err := e.featurize(model.Arch, samples)
	if err != nil {
		return nil, err
	}

	return e.fit(ctx, model, features, labels, meta)
}

func (e *Executor) initialModel(base *classifier.Checkpoint) (*classifier.Model, error) {
	if base == nil {
		e.logger.Warn("no base model, starting from pretrained weights", "seed", e.params.Seed)
		return classifier.NewPretrained(classifier.DefaultArch(), e.params.Seed), nil
	}

	m, err := base.Model()
	if err != nil {
		return nil, fmt.Errorf("%w: base model: %w", ErrTrainingFailed, err)
	}
	return m, nil
}

// featurize runs the frozen extractor once per sample.
func (e *Executor) featurize(arch classifier.Arch, samples []Sample) ([][]float64, []int, error) {
	features := make([][]float64, len(samples))
	labels := make([]int, len(samples))

	for i, s := range samples {
		if s.Image == nil || s.Image.Channels != arch.Channels {
			return nil, nil, fmt.Errorf("%w: sample %d has incompatible image", ErrTrainingFailed, i)
		}
		if s.Label < 0 || s.Label >= arch.NumClasses {
			return nil, nil, fmt.Errorf("%w: sample %d has label %d outside [0,%d)", ErrTrainingFailed, i, s.Label, arch.NumClasses)
		}
		features[i] = classifier.Extract(s.Image, arch.Grid)
		labels[i] = s.Label
	}
	return features, labels, nil
}

func (e *Executor) fit(ctx context.Context, model *classifier.Model, features [][]float64, labels []int, meta RunMeta) (*Result, error) {
	p := e.params
	n := len(features)
	batchSize := min(p.BatchSize, n)

	opt := classifier.NewAdam(p.LearningRate, p.WeightDecay)
	plateau := classifier.NewPlateau(p.PlateauFactor, p.PlateauPatience, p.MinLearningRate)
	rng := rand.New(rand.NewSource(p.Seed))

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	started := e.now()
	history := make([]EpochStats, 0, p.Epochs)

	e.logger.Info("training started",
		"run_id", meta.RunID,
		"version", meta.VersionID,
		"base_version", meta.BaseVersionID,
		"samples", n,
		"epochs", p.Epochs,
		"batch_size", batchSize,
		"lr", p.LearningRate,
	)

	for epoch := 1; epoch <= p.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTrainingFailed, err)
		}

		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

		var lossSum float64
		correct := 0
		for start := 0; start < n; start += batchSize {
			end := min(start+batchSize, n)
			bx := make([][]float64, 0, end-start)
			by := make([]int, 0, end-start)
			for _, idx := range order[start:end] {
				bx = append(bx, features[idx])
				by = append(by, labels[idx])
			}

			grads, loss, ok := model.Gradients(bx, by)
			opt.Apply(model.Params, grads)
			lossSum += loss * float64(len(bx))
			correct += ok
		}

		epochLoss := lossSum / float64(n)
		if math.IsNaN(epochLoss) || math.IsInf(epochLoss, 0) {
			return nil, fmt.Errorf("%w: loss diverged at epoch %d", ErrTrainingFailed, epoch)
		}

		stats := EpochStats{
			Epoch:        epoch,
			Loss:         epochLoss,
			Accuracy:     float64(correct) / float64(n),
			LearningRate: opt.LR,
		}
		opt.LR, stats.Reduced = plateau.Step(epochLoss, opt.LR)
		history = append(history, stats)

		e.logger.Info("epoch finished",
			"run_id", meta.RunID,
			"epoch", epoch,
			"loss", epochLoss,
			"accuracy", stats.Accuracy,
			"lr", stats.LearningRate,
		)
		if stats.Reduced {
			e.logger.Info("learning rate reduced", "run_id", meta.RunID, "lr", opt.LR)
		}
	}

	last := history[len(history)-1]
	now := e.now()

	ckpt := classifier.NewCheckpoint(model, meta.VersionID, now)
	ckpt.ProducedByRunID = meta.RunID
	ckpt.OptimizerState = opt.State()
	ckpt.RetrainInfo = &classifier.RetrainInfo{
		Timestamp:          now,
		RunID:              meta.RunID,
		BaseVersionID:      meta.BaseVersionID,
		NumFeedbackSamples: n,
		SkippedSamples:     meta.SkippedSamples,
		LearningRate:       p.LearningRate,
		WeightDecay:        p.WeightDecay,
		BatchSize:          batchSize,
		NumEpochs:          p.Epochs,
		FinalAccuracy:      last.Accuracy,
		FinalLoss:          last.Loss,
	}

	e.logger.Info("training finished",
		"run_id", meta.RunID,
		"version", meta.VersionID,
		"final_loss", last.Loss,
		"final_accuracy", last.Accuracy,
		"duration", now.Sub(started),
	)

	return &Result{
		Checkpoint:    ckpt,
		FinalLoss:     last.Loss,
		FinalAccuracy: last.Accuracy,
		Epochs:        history,
		Duration:      now.Sub(started),
	}, nil
}
