package config

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8090,
			PIDFile:      "/var/run/petmood.pid",
			MaxBodyBytes: 1 << 20,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 20,
				Burst:             40,
			},
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Backend: BackendConfig{
			URL:        "http://localhost:8080",
			TimeoutSec: 30,
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				OpenTimeoutSec:   60,
			},
		},
		Artifacts: ArtifactsConfig{
			RootDir:          "/var/lib/petmood/models",
			ActivePath:       "active/model.json",
			VersionsDir:      "versions",
			BackupDir:        "backups",
			BackupKeep:       5,
			MinFreeDiskMB:    512,
			MaxMemoryPercent: 95,
		},
		Training: TrainingConfig{
			Epochs:          10,
			LearningRate:    1e-4,
			WeightDecay:     1e-4,
			BatchSize:       16,
			PlateauPatience: 3,
			PlateauFactor:   0.5,
			MinSamples:      5,
			ImageTimeoutSec: 10,
			Seed:            42,
		},
		Evaluation: EvaluationConfig{
			TrainRatio: 0.70,
			ValRatio:   0.15,
			TestRatio:  0.15,
			Seed:       42,
		},
		Scheduler: SchedulerConfig{
			MinFeedbackCount:            20,
			CheckIntervalMinutes:        60,
			AutoActivationThreshold:     0.85,
			MaxDailyRetrains:            3,
			EnableAutoActivation:        true,
			EnablePerformanceMonitoring: true,
			Autostart:                   true,
			StateFile:                   "scheduler_state.json",
		},
		Persistence: PersistenceConfig{
			DataDir:             "/var/lib/petmood",
			RunlogDir:           "runlog",
			RunlogGCIntervalSec: 600,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
