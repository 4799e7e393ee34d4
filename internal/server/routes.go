package server

import (
	"net/http"
	"net/http/pprof"

	"github.com/haskel/petmood/internal/server/middleware"
)

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	cfg := s.currentConfig()

	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Metrics.Enabled && s.deps.Metrics != nil {
		mux.Handle("GET "+cfg.Metrics.Path, s.deps.Metrics)
	}

	mux.HandleFunc("POST /v1/retrain", s.handleRetrain)
	mux.HandleFunc("GET /v1/retrain/status", s.handleRetrainStatus)
	mux.HandleFunc("GET /v1/retrain/runs", s.handleRuns)

	mux.HandleFunc("POST /v1/models/activate", s.handleActivate)
	mux.HandleFunc("GET /v1/models/versions", s.handleVersions)
	mux.HandleFunc("GET /v1/models/active", s.handleActive)
	mux.HandleFunc("POST /v1/models/rollback", s.handleRollback)
	mux.HandleFunc("POST /v1/models/backups/cleanup", s.handleCleanupBackups)

	mux.HandleFunc("GET /v1/performance/report", s.handlePerformanceReport)
	mux.HandleFunc("GET /v1/performance/versions/{id}", s.handleVersionReport)
	mux.HandleFunc("GET /v1/performance/compare", s.handleCompareVersions)

	mux.HandleFunc("POST /v1/scheduler/start", s.handleSchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/stop", s.handleSchedulerStop)
	mux.HandleFunc("POST /v1/scheduler/trigger", s.handleSchedulerTrigger)
	mux.HandleFunc("GET /v1/scheduler/status", s.handleSchedulerStatus)
	mux.HandleFunc("PATCH /v1/scheduler/config", s.handleSchedulerConfig)

	s.setupDebugRoutes(mux)

	return mux
}

// setupDebugRoutes registers pprof and the resource snapshot behind their
// own authentication.
func (s *Server) setupDebugRoutes(mux *http.ServeMux) {
	cfg := s.currentConfig()
	if !cfg.Debug.Enabled {
		return
	}

	debugAuth := middleware.DebugAuth(&middleware.DebugAuthConfig{
		Token:    cfg.Debug.Auth.Token,
		Fallback: s.authConfig,
	})

	s.logger.Warn("debug endpoints enabled at /debug/ (auth required)")
	mux.Handle("GET /debug/pprof/{$}", debugAuth(http.HandlerFunc(pprof.Index)))
	mux.Handle("GET /debug/pprof/cmdline", debugAuth(http.HandlerFunc(pprof.Cmdline)))
	mux.Handle("GET /debug/pprof/profile", debugAuth(http.HandlerFunc(pprof.Profile)))
	mux.Handle("GET /debug/pprof/symbol", debugAuth(http.HandlerFunc(pprof.Symbol)))
	mux.Handle("POST /debug/pprof/symbol", debugAuth(http.HandlerFunc(pprof.Symbol)))
	mux.Handle("GET /debug/pprof/trace", debugAuth(http.HandlerFunc(pprof.Trace)))
	mux.Handle("GET /debug/pprof/{name...}", debugAuth(http.HandlerFunc(pprof.Index)))
	mux.Handle("GET /debug/resources", debugAuth(http.HandlerFunc(s.handleDebugResources)))
}
