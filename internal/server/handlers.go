package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/haskel/petmood/internal/artifact"
	"github.com/haskel/petmood/internal/evaluation"
	"github.com/haskel/petmood/internal/monitor"
	"github.com/haskel/petmood/internal/retrain"
	"github.com/haskel/petmood/internal/rollback"
	"github.com/haskel/petmood/internal/runlog"
	"github.com/haskel/petmood/internal/scheduler"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

type InfoResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// ActivateRequest is the body of POST /v1/models/activate.
type ActivateRequest struct {
	VersionID string `json:"version_id" validate:"required,max=64"`
}

// RollbackRequest is the body of POST /v1/models/rollback.
type RollbackRequest struct {
	VersionID int64  `json:"version_id" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"max=500"`
}

// CleanupRequest is the body of POST /v1/models/backups/cleanup.
type CleanupRequest struct {
	Keep *int `json:"keep" validate:"omitempty,gte=0,lte=1000"`
}

// SchedulerConfigRequest is the body of PATCH /v1/scheduler/config.
type SchedulerConfigRequest struct {
	MinFeedbackCount            *int     `json:"min_feedback_count" validate:"omitempty,gte=0"`
	CheckIntervalMinutes        *int     `json:"check_interval_minutes" validate:"omitempty,gte=1,lte=10080"`
	AutoActivationThreshold     *float64 `json:"auto_activation_threshold" validate:"omitempty,gte=0,lte=1"`
	MaxDailyRetrains            *int     `json:"max_daily_retrains" validate:"omitempty,gte=0"`
	EnableAutoActivation        *bool    `json:"enable_auto_activation"`
	EnablePerformanceMonitoring *bool    `json:"enable_performance_monitoring"`
}

func (r SchedulerConfigRequest) patch() scheduler.ConfigPatch {
	return scheduler.ConfigPatch{
		MinFeedbackCount:            r.MinFeedbackCount,
		CheckIntervalMinutes:        r.CheckIntervalMinutes,
		AutoActivationThreshold:     r.AutoActivationThreshold,
		MaxDailyRetrains:            r.MaxDailyRetrains,
		EnableAutoActivation:        r.EnableAutoActivation,
		EnablePerformanceMonitoring: r.EnablePerformanceMonitoring,
	}
}

// RetrainStatus is the data of GET /v1/retrain/status.
type RetrainStatus struct {
	Busy               bool               `json:"busy"`
	Phase              scheduler.Phase    `json:"phase"`
	DailyRetrainCount  int                `json:"daily_retrain_count"`
	MaxDailyRetrains   int                `json:"max_daily_retrains"`
	LastRetrainAt      *time.Time         `json:"last_retrain_at,omitempty"`
	RecommendedVersion string             `json:"recommended_version,omitempty"`
	LastResult         *scheduler.Summary `json:"last_result,omitempty"`
	LatestRun          *runlog.Run        `json:"latest_run,omitempty"`
	Active             artifact.Info      `json:"active"`
	Resources          *monitor.Snapshot  `json:"resources,omitempty"`
	BackendBreaker     string             `json:"backend_breaker,omitempty"`
}

// ReportResponse is the data of GET /v1/performance/report.
type ReportResponse struct {
	Report    *evaluation.Report `json:"report,omitempty"`
	Text      string             `json:"text,omitempty"`
	Published bool               `json:"published"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, InfoResponse{
		Name:    "petmood",
		Version: s.version,
		Uptime:  time.Since(s.startedAt).Truncate(time.Second).String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// detached keeps request values but survives a client disconnect, so a
// cycle is never cut short halfway through.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Scheduler.ManualTrigger(detached(r), runlog.TriggerAPI)
	s.writeOutcome(w, out, err)
}

func (s *Server) handleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Scheduler.CheckAndTriggerRetrain(detached(r))
	s.writeOutcome(w, out, err)
}

func (s *Server) writeOutcome(w http.ResponseWriter, out *scheduler.Outcome, err error) {
	msg := ""
	if out != nil {
		msg = out.Message
	}
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		s.fail(w, http.StatusConflict, scheduler.ErrBusy.Error(), out)
	case errors.Is(err, scheduler.ErrDailyQuota):
		s.fail(w, http.StatusTooManyRequests, msg, out)
	case err != nil:
		if msg == "" {
			msg = err.Error()
		}
		s.fail(w, http.StatusInternalServerError, msg, out)
	case out.Skipped:
		s.fail(w, http.StatusOK, msg, out)
	default:
		s.ok(w, msg, out)
	}
}

func (s *Server) handleRetrainStatus(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Scheduler.Status()
	resp := RetrainStatus{
		Busy:               st.Busy,
		Phase:              st.Phase,
		DailyRetrainCount:  st.State.DailyRetrainCount,
		MaxDailyRetrains:   st.Config.MaxDailyRetrains,
		LastRetrainAt:      st.State.LastRetrainAt,
		RecommendedVersion: st.State.RecommendedVersion,
		LastResult:         st.State.LastResult,
		Active:             s.deps.Artifacts.ActiveInfo(),
	}

	latest, err := s.deps.Runs.Latest()
	if err != nil {
		s.logger.Warn("failed to read latest run", "error", err)
	}
	resp.LatestRun = latest
	if s.deps.Resources != nil {
		resp.Resources = s.deps.Resources.Last()
	}
	if s.deps.Backend != nil {
		resp.BackendBreaker = s.deps.Backend.BreakerState()
	}

	s.ok(w, "", resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultRunsLimit)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if limit <= 0 || limit > maxRunsLimit {
		s.fail(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxRunsLimit), nil)
		return
	}

	runs, err := s.deps.Runs.List(limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.fail(w, http.StatusInternalServerError, "failed to list runs", nil)
		return
	}
	if runs == nil {
		runs = []*runlog.Run{}
	}
	s.ok(w, "", runs)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, decodeStatus(err), err.Error(), nil)
		return
	}

	var res *retrain.ActivationResult
	err := s.deps.Scheduler.Exclusive(func() error {
		var err error
		res, err = s.deps.Activator.Activate(detached(r), req.VersionID)
		if err == nil {
			s.deps.Scheduler.ClearRecommendation(res.VersionID)
		}
		return err
	})
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		s.fail(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, retrain.ErrCandidateNotFound):
		s.fail(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, artifact.ErrInvalidArtifact):
		s.fail(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case err != nil:
		s.logger.Error("activation failed", "version", req.VersionID, "error", err)
		s.fail(w, http.StatusInternalServerError, err.Error(), nil)
	default:
		s.ok(w, "activated "+res.VersionID, res)
	}
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.deps.Rollbacks.AvailableVersions(r.Context())
	if err != nil {
		s.logger.Warn("failed to list rollback candidates", "error", err)
		s.fail(w, http.StatusBadGateway, err.Error(), nil)
		return
	}
	s.ok(w, "", versions)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	local, err := s.deps.Artifacts.ListVersions()
	if err != nil {
		s.logger.Warn("failed to list local versions", "error", err)
	}
	info := s.deps.Artifacts.ActiveInfo()
	data := map[string]any{
		"active":     info,
		"candidates": local,
	}
	if !info.Exists {
		s.fail(w, http.StatusNotFound, artifact.ErrNoActiveArtifact.Error(), data)
		return
	}
	s.ok(w, "", data)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, decodeStatus(err), err.Error(), nil)
		return
	}

	var res *rollback.Result
	err := s.deps.Scheduler.Exclusive(func() error {
		var err error
		res, err = s.deps.Rollbacks.RollbackTo(detached(r), req.VersionID, req.Reason)
		return err
	})
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		s.fail(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, rollback.ErrTargetNotFound):
		s.fail(w, http.StatusNotFound, res.Message, res)
	case errors.Is(err, artifact.ErrInvalidArtifact):
		s.fail(w, http.StatusUnprocessableEntity, res.Message, res)
	case err != nil:
		s.fail(w, http.StatusInternalServerError, err.Error(), res)
	default:
		s.ok(w, res.Message, res)
	}
}

func (s *Server) handleCleanupBackups(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, decodeStatus(err), err.Error(), nil)
			return
		}
	}
	keep := s.currentConfig().Artifacts.BackupKeep
	if req.Keep != nil {
		keep = *req.Keep
	}

	deleted, err := s.deps.Rollbacks.CleanupBackups(keep)
	if err != nil {
		s.logger.Error("backup cleanup failed", "error", err)
		s.fail(w, http.StatusInternalServerError, err.Error(), map[string]int{"deleted": deleted})
		return
	}
	s.ok(w, "deleted "+strconv.Itoa(deleted)+" backups", map[string]int{"deleted": deleted, "kept": keep})
}

func (s *Server) handlePerformanceReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "text" {
		s.fail(w, http.StatusBadRequest, "format must be one of: json text", nil)
		return
	}
	var publishID int64
	if p := q.Get("publish"); p != "" {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id <= 0 {
			s.fail(w, http.StatusBadRequest, "publish must be a positive registry id", nil)
			return
		}
		publishID = id
	}

	ctx := detached(r)
	report, err := s.deps.Reports.EvaluateActive(ctx)
	switch {
	case errors.Is(err, artifact.ErrNoActiveArtifact):
		s.fail(w, http.StatusNotFound, err.Error(), nil)
		return
	case err != nil:
		s.logger.Error("performance evaluation failed", "error", err)
		s.fail(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	resp := ReportResponse{Report: report}
	if format == "text" {
		resp.Report = nil
		resp.Text = evaluation.FormatReport(report.VersionID, report)
	}

	if publishID > 0 {
		if err := s.deps.Reports.Publish(ctx, publishID, report); err != nil {
			s.logger.Warn("failed to publish performance", "registry_id", publishID, "error", err)
			s.fail(w, http.StatusBadGateway, err.Error(), resp)
			return
		}
		resp.Published = true
	}
	s.ok(w, "", resp)
}

func (s *Server) handleVersionReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.fail(w, http.StatusBadRequest, "id must be a positive registry id", nil)
		return
	}

	name, report, err := s.deps.Reports.VersionReport(r.Context(), id)
	if err != nil {
		s.fail(w, http.StatusBadGateway, err.Error(), nil)
		return
	}

	resp := ReportResponse{Report: report, Published: true}
	if r.URL.Query().Get("format") == "text" {
		resp.Report = nil
		resp.Text = evaluation.FormatReport(name, report)
	}
	s.ok(w, "", resp)
}

func (s *Server) handleCompareVersions(w http.ResponseWriter, r *http.Request) {
	ids, err := idList(r.URL.Query().Get("ids"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	cmp, err := s.deps.Reports.CompareVersions(r.Context(), ids)
	if err != nil {
		s.fail(w, http.StatusBadGateway, err.Error(), nil)
		return
	}
	s.ok(w, "", cmp)
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Scheduler.Start(detached(r)); err != nil {
		s.fail(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	s.ok(w, "scheduler started", s.deps.Scheduler.Status())
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Scheduler.Stop()
	s.ok(w, "scheduler stopped", s.deps.Scheduler.Status())
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	s.ok(w, "", s.deps.Scheduler.Status())
}

func (s *Server) handleSchedulerConfig(w http.ResponseWriter, r *http.Request) {
	var req SchedulerConfigRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, decodeStatus(err), err.Error(), nil)
		return
	}

	cfg, err := s.deps.Scheduler.UpdateConfig(req.patch())
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	s.ok(w, "scheduler config updated", cfg)
}

func (s *Server) handleDebugResources(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resources == nil {
		s.fail(w, http.StatusNotFound, "resource sampling disabled", nil)
		return
	}
	snap := s.deps.Resources.Last()
	if snap == nil {
		s.fail(w, http.StatusServiceUnavailable, "no resource sample yet", nil)
		return
	}
	s.ok(w, "", snap)
}
