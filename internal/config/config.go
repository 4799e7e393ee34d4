package config

import "time"

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Backend     BackendConfig     `yaml:"backend"`
	Artifacts   ArtifactsConfig   `yaml:"artifacts"`
	Training    TrainingConfig    `yaml:"training"`
	Evaluation  EvaluationConfig  `yaml:"evaluation"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Debug       DebugConfig       `yaml:"debug"`
}

// DebugConfig holds debug mode configuration.
type DebugConfig struct {
	// Enabled exposes pprof under /debug/pprof.
	Enabled bool `yaml:"enabled"`
	// Auth holds debug-specific authentication.
	// If set, debug endpoints require this token.
	// If not set but main auth is enabled, main auth is used.
	Auth DebugAuthConfig `yaml:"auth"`
}

// DebugAuthConfig holds debug endpoint authentication.
type DebugAuthConfig struct {
	// Token for Bearer authentication on debug endpoints.
	Token string `yaml:"token"`
}

type ServerConfig struct {
	Host         string          `yaml:"host"`
	Port         int             `yaml:"port"`
	PIDFile      string          `yaml:"pid_file"`
	MaxBodyBytes int64           `yaml:"max_body_bytes"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File, when set, receives a rotated copy of the log stream.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// BackendConfig points at the feedback and model-version service.
type BackendConfig struct {
	URL        string        `yaml:"url"`
	TimeoutSec int           `yaml:"timeout_sec"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	Enabled          bool `yaml:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold"`
	OpenTimeoutSec   int  `yaml:"open_timeout_sec"`
}

type ArtifactsConfig struct {
	RootDir     string `yaml:"root_dir"`
	ActivePath  string `yaml:"active_path"`
	VersionsDir string `yaml:"versions_dir"`
	BackupDir   string `yaml:"backup_dir"`
	// BackupKeep is how many backups survive a cleanup.
	BackupKeep       int     `yaml:"backup_keep"`
	MinFreeDiskMB    int     `yaml:"min_free_disk_mb"`
	MaxMemoryPercent float64 `yaml:"max_memory_percent"`
}

type TrainingConfig struct {
	Epochs          int     `yaml:"epochs"`
	LearningRate    float64 `yaml:"learning_rate"`
	WeightDecay     float64 `yaml:"weight_decay"`
	BatchSize       int     `yaml:"batch_size"`
	PlateauPatience int     `yaml:"plateau_patience"`
	PlateauFactor   float64 `yaml:"plateau_factor"`
	MinSamples      int     `yaml:"min_samples"`
	ImageTimeoutSec int     `yaml:"image_timeout_sec"`
	Seed            int64   `yaml:"seed"`
}

type EvaluationConfig struct {
	DatasetDir string  `yaml:"dataset_dir"`
	LabelsCSV  string  `yaml:"labels_csv"`
	TrainRatio float64 `yaml:"train_ratio"`
	ValRatio   float64 `yaml:"val_ratio"`
	TestRatio  float64 `yaml:"test_ratio"`
	Seed       int64   `yaml:"seed"`
}

type SchedulerConfig struct {
	MinFeedbackCount            int     `yaml:"min_feedback_count"`
	CheckIntervalMinutes        int     `yaml:"check_interval_minutes"`
	AutoActivationThreshold     float64 `yaml:"auto_activation_threshold"`
	MaxDailyRetrains            int     `yaml:"max_daily_retrains"`
	EnableAutoActivation        bool    `yaml:"enable_auto_activation"`
	EnablePerformanceMonitoring bool    `yaml:"enable_performance_monitoring"`
	// Autostart starts the poll loop with the server.
	Autostart bool   `yaml:"autostart"`
	StateFile string `yaml:"state_file"`
}

type PersistenceConfig struct {
	DataDir             string `yaml:"data_dir"`
	RunlogDir           string `yaml:"runlog_dir"`
	RunlogGCIntervalSec int    `yaml:"runlog_gc_interval_sec"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSec) * time.Second
}

func (c *Config) ImageTimeout() time.Duration {
	return time.Duration(c.Training.ImageTimeoutSec) * time.Second
}

func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Scheduler.CheckIntervalMinutes) * time.Minute
}

func (c *Config) RunlogGCInterval() time.Duration {
	return time.Duration(c.Persistence.RunlogGCIntervalSec) * time.Second
}
