// Package server exposes the retraining pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/haskel/petmood/internal/artifact"
	"github.com/haskel/petmood/internal/backend"
	"github.com/haskel/petmood/internal/config"
	"github.com/haskel/petmood/internal/evaluation"
	"github.com/haskel/petmood/internal/monitor"
	"github.com/haskel/petmood/internal/retrain"
	"github.com/haskel/petmood/internal/rollback"
	"github.com/haskel/petmood/internal/runlog"
	"github.com/haskel/petmood/internal/scheduler"
	"github.com/haskel/petmood/internal/server/middleware"
)

// Scheduler is the retraining scheduler as driven over HTTP.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	Status() scheduler.Status
	UpdateConfig(patch scheduler.ConfigPatch) (scheduler.Config, error)
	Exclusive(fn func() error) error
	CheckAndTriggerRetrain(ctx context.Context) (*scheduler.Outcome, error)
	ManualTrigger(ctx context.Context, trigger runlog.Trigger) (*scheduler.Outcome, error)
	ClearRecommendation(versionID string)
}

// Activator installs stored candidates.
type Activator interface {
	Activate(ctx context.Context, versionID string) (*retrain.ActivationResult, error)
}

// Rollbacks restores registered versions.
type Rollbacks interface {
	RollbackTo(ctx context.Context, id int64, reason string) (*rollback.Result, error)
	AvailableVersions(ctx context.Context) ([]backend.ModelVersion, error)
	CleanupBackups(keep int) (int, error)
}

// Runs lists the run ledger.
type Runs interface {
	List(limit int) ([]*runlog.Run, error)
	Latest() (*runlog.Run, error)
}

// Reports evaluates the active artifact and reads published scores.
type Reports interface {
	EvaluateActive(ctx context.Context) (*evaluation.Report, error)
	Publish(ctx context.Context, id int64, r *evaluation.Report) error
	VersionReport(ctx context.Context, id int64) (string, *evaluation.Report, error)
	CompareVersions(ctx context.Context, ids []int64) (*evaluation.VersionComparison, error)
}

// Artifacts describes the artifact files on disk.
type Artifacts interface {
	ActiveInfo() artifact.Info
	ListVersions() ([]artifact.Info, error)
}

// Resources returns the last host resource snapshot.
type Resources interface {
	Last() *monitor.Snapshot
}

// Backend reports the registry client's circuit state.
type Backend interface {
	BreakerState() string
}

// Deps are the components the handlers call. Metrics, Resources and
// Backend are optional.
type Deps struct {
	Scheduler Scheduler
	Activator Activator
	Rollbacks Rollbacks
	Runs      Runs
	Reports   Reports
	Artifacts Artifacts
	Resources Resources
	Backend   Backend
	Metrics   http.Handler
}

type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
	version    string
	authConfig *middleware.AuthConfig
	startedAt  time.Time

	mu     sync.RWMutex
	config *config.Config
}

func New(cfg *config.Config, deps Deps, logger *slog.Logger, version string) *Server {
	s := &Server{
		deps:       deps,
		config:     cfg,
		logger:     logger,
		version:    version,
		authConfig: middleware.NewAuthConfig(cfg.Auth.Enabled, cfg.Auth.User, cfg.Auth.Password),
		startedAt:  time.Now(),
	}

	mux := s.setupRoutes()

	handler := middleware.Chain(
		mux,
		middleware.Recovery(logger),
		middleware.Logging(logger),
		middleware.SecurityHeaders(),
		middleware.RateLimit(middleware.RateLimitConfig{
			Enabled:           cfg.Server.RateLimit.Enabled,
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			Burst:             cfg.Server.RateLimit.Burst,
		}),
		middleware.MaxBody(cfg.Server.MaxBodyBytes),
		middleware.Auth(s.authConfig, "/health", cfg.Metrics.Path),
	)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port)),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		// retrain and report requests block for the length of a cycle
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ReloadConfig applies the settings that can change at runtime. Listener,
// rate limit and body size changes need a restart.
func (s *Server) ReloadConfig(cfg *config.Config) {
	s.authConfig.Update(cfg.Auth.Enabled, cfg.Auth.User, cfg.Auth.Password)

	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()

	s.logger.Info("server configuration reloaded", "auth_enabled", cfg.Auth.Enabled)
}

func (s *Server) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *Server) Start() error {
	s.logger.Info("server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Serve runs the server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve http: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown failed", "error", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Server) String() string {
	return "http-server"
}
