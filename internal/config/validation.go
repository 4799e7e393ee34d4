package config

import (
	"errors"
	"fmt"
	"net/url"
)

func (c *Config) Validate() error {
	var errs []error

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Backend.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backend: %w", err))
	}
	if err := c.Artifacts.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("artifacts: %w", err))
	}
	if err := c.TrainingParams().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("training: %w", err))
	}
	if err := c.Evaluation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("evaluation: %w", err))
	}
	if err := c.SchedulerPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := c.Persistence.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("persistence: %w", err))
	}

	return errors.Join(errs...)
}

func (s *ServerConfig) Validate() error {
	var errs []error
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", s.Port))
	}
	if s.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("max_body_bytes must be non-negative"))
	}
	if s.RateLimit.Enabled && (s.RateLimit.RequestsPerSecond <= 0 || s.RateLimit.Burst < 1) {
		errs = append(errs, fmt.Errorf("rate_limit needs positive requests_per_second and burst"))
	}
	return errors.Join(errs...)
}

func (a *AuthConfig) Validate() error {
	if a.Enabled {
		if a.User == "" {
			return fmt.Errorf("user cannot be empty when auth is enabled")
		}
		if a.Password == "" {
			return fmt.Errorf("password cannot be empty when auth is enabled")
		}
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", l.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[l.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", l.Format)
	}

	if l.File != "" && l.MaxSizeMB < 1 {
		return fmt.Errorf("max_size_mb must be at least 1 when file is set")
	}
	return nil
}

func (b *BackendConfig) Validate() error {
	var errs []error
	u, err := url.Parse(b.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("url must be an absolute http(s) URL, got %q", b.URL))
	}
	if b.TimeoutSec < 1 {
		errs = append(errs, fmt.Errorf("timeout_sec must be at least 1"))
	}
	if b.Breaker.Enabled && b.Breaker.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("breaker.failure_threshold must be at least 1"))
	}
	return errors.Join(errs...)
}

func (a *ArtifactsConfig) Validate() error {
	var errs []error
	if a.RootDir == "" {
		errs = append(errs, fmt.Errorf("root_dir cannot be empty"))
	}
	if a.BackupKeep < 1 {
		errs = append(errs, fmt.Errorf("backup_keep must be at least 1"))
	}
	if a.MinFreeDiskMB < 0 {
		errs = append(errs, fmt.Errorf("min_free_disk_mb must be non-negative"))
	}
	if a.MaxMemoryPercent < 0 || a.MaxMemoryPercent > 100 {
		errs = append(errs, fmt.Errorf("max_memory_percent must be between 0 and 100"))
	}
	return errors.Join(errs...)
}

func (e *EvaluationConfig) Validate() error {
	var errs []error
	for name, r := range map[string]float64{"train_ratio": e.TrainRatio, "val_ratio": e.ValRatio, "test_ratio": e.TestRatio} {
		if r < 0 || r > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1", name))
		}
	}
	if sum := e.TrainRatio + e.ValRatio + e.TestRatio; sum > 1.0001 {
		errs = append(errs, fmt.Errorf("split ratios sum to %.2f, must not exceed 1", sum))
	}
	if e.DatasetDir != "" && e.LabelsCSV == "" {
		errs = append(errs, fmt.Errorf("labels_csv is required when dataset_dir is set"))
	}
	return errors.Join(errs...)
}

func (p *PersistenceConfig) Validate() error {
	if p.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if p.RunlogGCIntervalSec < 1 {
		return fmt.Errorf("runlog_gc_interval_sec must be at least 1")
	}
	return nil
}
