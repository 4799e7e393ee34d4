package scheduler

import (
	"errors"
	"time"
)

// Config holds the retraining policy.
type Config struct {
	// MinFeedbackCount is the unused feedback needed before a scheduled cycle trains.
	MinFeedbackCount int `json:"min_feedback_count"`
	// CheckInterval is the poll period.
	CheckInterval time.Duration `json:"check_interval"`
	// AutoActivationThreshold is the candidate accuracy at which it is flagged
	// as recommended.
	AutoActivationThreshold float64 `json:"auto_activation_threshold"`
	// MaxDailyRetrains caps completed cycles per calendar day.
	MaxDailyRetrains            int  `json:"max_daily_retrains"`
	EnableAutoActivation        bool `json:"enable_auto_activation"`
	EnablePerformanceMonitoring bool `json:"enable_performance_monitoring"`
}

// DefaultConfig returns the standard policy.
func DefaultConfig() Config {
	return Config{
		MinFeedbackCount:            20,
		CheckInterval:               60 * time.Minute,
		AutoActivationThreshold:     0.85,
		MaxDailyRetrains:            3,
		EnableAutoActivation:        true,
		EnablePerformanceMonitoring: true,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MinFeedbackCount < 0 {
		errs = append(errs, errors.New("min_feedback_count must not be negative"))
	}
	if c.CheckInterval < time.Second {
		errs = append(errs, errors.New("check_interval must be at least 1s"))
	}
	if c.AutoActivationThreshold < 0 || c.AutoActivationThreshold > 1 {
		errs = append(errs, errors.New("auto_activation_threshold must be between 0 and 1"))
	}
	if c.MaxDailyRetrains < 0 {
		errs = append(errs, errors.New("max_daily_retrains must not be negative"))
	}
	return errors.Join(errs...)
}

// ConfigPatch is a partial update. Nil fields are left unchanged.
type ConfigPatch struct {
	MinFeedbackCount            *int     `json:"min_feedback_count,omitempty"`
	CheckIntervalMinutes        *int     `json:"check_interval_minutes,omitempty"`
	AutoActivationThreshold     *float64 `json:"auto_activation_threshold,omitempty"`
	MaxDailyRetrains            *int     `json:"max_daily_retrains,omitempty"`
	EnableAutoActivation        *bool    `json:"enable_auto_activation,omitempty"`
	EnablePerformanceMonitoring *bool    `json:"enable_performance_monitoring,omitempty"`
}

// Apply returns c with the patch's present fields replaced.
func (p ConfigPatch) Apply(c Config) Config {
	if p.MinFeedbackCount != nil {
		c.MinFeedbackCount = *p.MinFeedbackCount
	}
	if p.CheckIntervalMinutes != nil {
		c.CheckInterval = time.Duration(*p.CheckIntervalMinutes) * time.Minute
	}
	if p.AutoActivationThreshold != nil {
		c.AutoActivationThreshold = *p.AutoActivationThreshold
	}
	if p.MaxDailyRetrains != nil {
		c.MaxDailyRetrains = *p.MaxDailyRetrains
	}
	if p.EnableAutoActivation != nil {
		c.EnableAutoActivation = *p.EnableAutoActivation
	}
	if p.EnablePerformanceMonitoring != nil {
		c.EnablePerformanceMonitoring = *p.EnablePerformanceMonitoring
	}
	return c
}
