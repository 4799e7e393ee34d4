// Package evaluation scores model artifacts against the labelled validation
// partition and publishes the results to the version registry.
package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/haskel/petmood/internal/backend"
	"github.com/haskel/petmood/internal/classifier"
	"github.com/haskel/petmood/internal/dataset"
)

// Source provides preprocessed validation examples.
type Source interface {
	Examples(ctx context.Context) ([]dataset.Example, error)
}

// Artifacts loads checkpoints from the artifact store.
type Artifacts interface {
	Load(path string) (*classifier.Checkpoint, error)
	LoadActive() (*classifier.Checkpoint, error)
}

// Registry is the part of the version registry the evaluator writes to.
type Registry interface {
	GetVersion(ctx context.Context, id int64) (*backend.ModelVersion, error)
	UpdatePerformance(ctx context.Context, id int64, update backend.PerformanceUpdate) error
}

// Evaluator runs inference-only scoring.
type Evaluator struct {
	source    Source
	artifacts Artifacts
	registry  Registry
	logger    *slog.Logger
	now       func() time.Time
}

// NewEvaluator creates an Evaluator. registry may be nil when publishing is
// not needed.
func NewEvaluator(source Source, artifacts Artifacts, registry Registry, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		source:    source,
		artifacts: artifacts,
		registry:  registry,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate scores ckpt. versionID overrides the checkpoint's own id when set.
func (e *Evaluator) Evaluate(ctx context.Context, ckpt *classifier.Checkpoint, versionID string) (*Report, error) {
	model, err := ckpt.Model()
	if err != nil {
		return nil, fmt.Errorf("failed to load model for evaluation: %w", err)
	}
	if versionID == "" {
		versionID = ckpt.VersionID
	}

	examples, err := e.source.Examples(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load validation set: %w", err)
	}
	if len(examples) == 0 {
		return nil, ErrEmptyValidationSet
	}

	yTrue := make([]int, 0, len(examples))
	yPred := make([]int, 0, len(examples))
	conf := make([]float64, 0, len(examples))

	for _, ex := range examples {
		if ex.Image == nil || ex.Image.Channels != model.Arch.Channels {
			return nil, fmt.Errorf("validation image %s does not match model input", ex.Path)
		}
		probs, pred := model.Predict(classifier.Extract(ex.Image, model.Arch.Grid))
		yTrue = append(yTrue, ex.Label)
		yPred = append(yPred, pred)
		conf = append(conf, probs[pred])
	}

	labels := model.Arch.Labels
	if len(labels) == 0 {
		labels = make([]string, model.Arch.NumClasses)
		for i := range labels {
			labels[i] = fmt.Sprintf("class_%d", i)
		}
	}

	report, err := Compute(labels, yTrue, yPred, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to compute metrics: %w", err)
	}
	report.VersionID = versionID
	report.EvaluatedAt = e.now()

	e.logger.Info("evaluation finished",
		"version", versionID,
		"samples", report.TotalSamples,
		"accuracy", report.Accuracy,
		"f1_weighted", report.F1Weighted,
	)

	return report, nil
}

// EvaluatePath scores the artifact stored at path.
func (e *Evaluator) EvaluatePath(ctx context.Context, path string) (*Report, error) {
	ckpt, err := e.artifacts.Load(path)
	if err != nil {
		return nil, err
	}
	return e.Evaluate(ctx, ckpt, "")
}

// EvaluateActive scores the active artifact.
func (e *Evaluator) EvaluateActive(ctx context.Context) (*Report, error) {
	ckpt, err := e.artifacts.LoadActive()
	if err != nil {
		return nil, err
	}
	return e.Evaluate(ctx, ckpt, "")
}

// Publish stores r on registry version id.
func (e *Evaluator) Publish(ctx context.Context, id int64, r *Report) error {
	if e.registry == nil {
		return fmt.Errorf("failed to publish report: no registry configured")
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	err = e.registry.UpdatePerformance(ctx, id, backend.PerformanceUpdate{
		ValidationAccuracy: r.Accuracy,
		F1Score:            r.F1Weighted,
		PerformanceMetrics: string(payload),
	})
	if err != nil {
		return err
	}

	e.logger.Info("performance published", "registry_id", id, "version", r.VersionID)
	return nil
}

// VersionReport returns the report previously published on a registry version.
func (e *Evaluator) VersionReport(ctx context.Context, id int64) (string, *Report, error) {
	if e.registry == nil {
		return "", nil, fmt.Errorf("failed to fetch report: no registry configured")
	}

	v, err := e.registry.GetVersion(ctx, id)
	if err != nil {
		return "", nil, err
	}

	var r Report
	if v.PerformanceMetrics != "" {
		if err := json.Unmarshal([]byte(v.PerformanceMetrics), &r); err != nil {
			return "", nil, fmt.Errorf("failed to decode stored metrics of %s: %w", v.Version, err)
		}
	} else {
		r.Accuracy = v.ValidationAccuracy
		r.F1Weighted = v.F1Score
	}
	if r.VersionID == "" {
		r.VersionID = v.Version
	}

	return v.Version, &r, nil
}

// VersionSummary is one registry version's headline scores.
type VersionSummary struct {
	ID                 int64   `json:"id"`
	Version            string  `json:"version"`
	ValidationAccuracy float64 `json:"validation_accuracy"`
	F1Score            float64 `json:"f1_score"`
}

// VersionComparison ranks several registry versions.
type VersionComparison struct {
	Versions            []VersionSummary `json:"versions"`
	BestAccuracyVersion string           `json:"best_accuracy_version"`
	BestAccuracy        float64          `json:"best_accuracy_value"`
	BestF1Version       string           `json:"best_f1_version"`
	BestF1              float64          `json:"best_f1_value"`
	MeanAccuracy        float64          `json:"mean_accuracy"`
	StdAccuracy         float64          `json:"std_accuracy"`
	MeanF1              float64          `json:"mean_f1"`
	StdF1               float64          `json:"std_f1"`
	Timestamp           time.Time        `json:"timestamp"`
}

// CompareVersions fetches the listed registry versions and ranks them.
// Versions that cannot be fetched are skipped.
func (e *Evaluator) CompareVersions(ctx context.Context, ids []int64) (*VersionComparison, error) {
	if e.registry == nil {
		return nil, fmt.Errorf("failed to compare versions: no registry configured")
	}

	c := &VersionComparison{Timestamp: e.now()}
	for _, id := range ids {
		v, err := e.registry.GetVersion(ctx, id)
		if err != nil {
			e.logger.Warn("skipping version in comparison", "registry_id", id, "error", err)
			continue
		}
		c.Versions = append(c.Versions, VersionSummary{
			ID:                 v.ID,
			Version:            v.Version,
			ValidationAccuracy: v.ValidationAccuracy,
			F1Score:            v.F1Score,
		})
	}
	if len(c.Versions) == 0 {
		return nil, fmt.Errorf("failed to compare versions: none of %v found", ids)
	}

	acc := make([]float64, len(c.Versions))
	f1 := make([]float64, len(c.Versions))
	for i, v := range c.Versions {
		acc[i], f1[i] = v.ValidationAccuracy, v.F1Score
	}

	bestAcc, bestF1 := argmax(acc), argmax(f1)
	c.BestAccuracyVersion, c.BestAccuracy = c.Versions[bestAcc].Version, acc[bestAcc]
	c.BestF1Version, c.BestF1 = c.Versions[bestF1].Version, f1[bestF1]
	c.MeanAccuracy, c.StdAccuracy = meanStd(acc)
	c.MeanF1, c.StdF1 = meanStd(f1)

	return c, nil
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func meanStd(v []float64) (float64, float64) {
	var mean float64
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))

	var variance float64
	for _, x := range v {
		variance += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(variance / float64(len(v)))
}
