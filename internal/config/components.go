package config

import (
	"path/filepath"
	"time"

	"github.com/haskel/petmood/internal/artifact"
	"github.com/haskel/petmood/internal/backend"
	"github.com/haskel/petmood/internal/dataset"
	"github.com/haskel/petmood/internal/imageload"
	"github.com/haskel/petmood/internal/monitor"
	"github.com/haskel/petmood/internal/scheduler"
	"github.com/haskel/petmood/internal/training"
)

// dataPath resolves p against the data directory.
func (c *Config) dataPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Persistence.DataDir, p)
}

func (c *Config) StatePath() string {
	return c.dataPath(c.Scheduler.StateFile)
}

func (c *Config) RunlogPath() string {
	return c.dataPath(c.Persistence.RunlogDir)
}

func (c *Config) BackendClientConfig() backend.Config {
	return backend.Config{
		URL:     c.Backend.URL,
		Timeout: c.BackendTimeout(),
		Breaker: backend.BreakerConfig{
			Enabled:          c.Backend.Breaker.Enabled,
			FailureThreshold: uint32(c.Backend.Breaker.FailureThreshold),
			Timeout:          time.Duration(c.Backend.Breaker.OpenTimeoutSec) * time.Second,
		},
	}
}

func (c *Config) ArtifactStoreConfig() artifact.Config {
	return artifact.Config{
		RootDir:     c.Artifacts.RootDir,
		ActivePath:  c.Artifacts.ActivePath,
		VersionsDir: c.Artifacts.VersionsDir,
		BackupDir:   c.Artifacts.BackupDir,
	}
}

func (c *Config) PreflightThresholds() monitor.Thresholds {
	return monitor.Thresholds{
		MinFreeDiskBytes: uint64(c.Artifacts.MinFreeDiskMB) << 20,
		MaxMemoryPercent: c.Artifacts.MaxMemoryPercent,
	}
}

func (c *Config) TrainingParams() training.Params {
	p := training.DefaultParams()
	p.Epochs = c.Training.Epochs
	p.LearningRate = c.Training.LearningRate
	p.WeightDecay = c.Training.WeightDecay
	p.BatchSize = c.Training.BatchSize
	p.PlateauPatience = c.Training.PlateauPatience
	p.PlateauFactor = c.Training.PlateauFactor
	p.MinSamples = c.Training.MinSamples
	p.Seed = c.Training.Seed
	return p
}

func (c *Config) ImageOptions() imageload.Options {
	opts := imageload.DefaultOptions()
	opts.Timeout = c.ImageTimeout()
	return opts
}

func (c *Config) DatasetConfig() dataset.Config {
	return dataset.Config{
		Dir:        c.Evaluation.DatasetDir,
		LabelsCSV:  c.Evaluation.LabelsCSV,
		TrainRatio: c.Evaluation.TrainRatio,
		ValRatio:   c.Evaluation.ValRatio,
		TestRatio:  c.Evaluation.TestRatio,
		Seed:       c.Evaluation.Seed,
	}
}

func (c *Config) SchedulerPolicy() scheduler.Config {
	return scheduler.Config{
		MinFeedbackCount:            c.Scheduler.MinFeedbackCount,
		CheckInterval:               c.CheckInterval(),
		AutoActivationThreshold:     c.Scheduler.AutoActivationThreshold,
		MaxDailyRetrains:            c.Scheduler.MaxDailyRetrains,
		EnableAutoActivation:        c.Scheduler.EnableAutoActivation,
		EnablePerformanceMonitoring: c.Scheduler.EnablePerformanceMonitoring,
	}
}
