package config

import (
	"testing"
)

func TestValidateDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidateServerPort(t *testing.T) {
	tests := []struct {
		port    int
		wantErr bool
	}{
		{0, true},
		{-1, true},
		{65536, true},
		{1, false},
		{8090, false},
		{65535, false},
	}

	for _, tt := range tests {
		cfg := Default()
		cfg.Server.Port = tt.port
		err := cfg.Server.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("port %d: wantErr=%v, got %v", tt.port, tt.wantErr, err)
		}
	}
}

func TestValidateSections(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "relative backend url",
			modify:  func(c *Config) { c.Backend.URL = "/api" },
			wantErr: true,
		},
		{
			name:    "zero backend timeout",
			modify:  func(c *Config) { c.Backend.TimeoutSec = 0 },
			wantErr: true,
		},
		{
			name:    "breaker without threshold",
			modify:  func(c *Config) { c.Backend.Breaker.FailureThreshold = 0 },
			wantErr: true,
		},
		{
			name: "disabled breaker ignores threshold",
			modify: func(c *Config) {
				c.Backend.Breaker.Enabled = false
				c.Backend.Breaker.FailureThreshold = 0
			},
			wantErr: false,
		},
		{
			name:    "empty artifact root",
			modify:  func(c *Config) { c.Artifacts.RootDir = "" },
			wantErr: true,
		},
		{
			name:    "memory over 100",
			modify:  func(c *Config) { c.Artifacts.MaxMemoryPercent = 150 },
			wantErr: true,
		},
		{
			name:    "zero epochs",
			modify:  func(c *Config) { c.Training.Epochs = 0 },
			wantErr: true,
		},
		{
			name:    "threshold above 1",
			modify:  func(c *Config) { c.Scheduler.AutoActivationThreshold = 1.2 },
			wantErr: true,
		},
		{
			name:    "zero interval",
			modify:  func(c *Config) { c.Scheduler.CheckIntervalMinutes = 0 },
			wantErr: true,
		},
		{
			name:    "split over 1",
			modify:  func(c *Config) { c.Evaluation.TrainRatio = 0.9 },
			wantErr: true,
		},
		{
			name:    "dataset without labels",
			modify:  func(c *Config) { c.Evaluation.DatasetDir = "/data/images" },
			wantErr: true,
		},
		{
			name: "rate limit without burst",
			modify: func(c *Config) {
				c.Server.RateLimit.Enabled = true
				c.Server.RateLimit.Burst = 0
			},
			wantErr: true,
		},
		{
			name:    "empty data dir",
			modify:  func(c *Config) { c.Persistence.DataDir = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateLogging(t *testing.T) {
	tests := []struct {
		level   string
		format  string
		file    string
		maxSize int
		wantErr bool
	}{
		{"debug", "json", "", 0, false},
		{"info", "text", "", 0, false},
		{"warn", "json", "/var/log/petmood.log", 100, false},
		{"error", "text", "", 0, false},
		{"invalid", "json", "", 0, true},
		{"info", "invalid", "", 0, true},
		{"info", "json", "/var/log/petmood.log", 0, true},
	}

	for _, tt := range tests {
		l := LoggingConfig{Level: tt.level, Format: tt.format, File: tt.file, MaxSizeMB: tt.maxSize}
		err := l.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("level=%s format=%s file=%q: wantErr=%v, got %v", tt.level, tt.format, tt.file, tt.wantErr, err)
		}
	}
}

func TestValidateAuth(t *testing.T) {
	tests := []struct {
		name    string
		auth    AuthConfig
		wantErr bool
	}{
		{"disabled", AuthConfig{Enabled: false}, false},
		{"enabled complete", AuthConfig{Enabled: true, User: "admin", Password: "secret"}, false},
		{"enabled no user", AuthConfig{Enabled: true, Password: "secret"}, true},
		{"enabled no password", AuthConfig{Enabled: true, User: "admin"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.auth.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}
