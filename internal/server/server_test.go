package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haskel/petmood/internal/artifact"
	"github.com/haskel/petmood/internal/backend"
	"github.com/haskel/petmood/internal/config"
	"github.com/haskel/petmood/internal/evaluation"
	"github.com/haskel/petmood/internal/monitor"
	"github.com/haskel/petmood/internal/retrain"
	"github.com/haskel/petmood/internal/rollback"
	"github.com/haskel/petmood/internal/runlog"
	"github.com/haskel/petmood/internal/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeScheduler struct {
	mu       sync.Mutex
	busy     bool
	running  bool
	outcome  *scheduler.Outcome
	err      error
	trigger  runlog.Trigger
	checked  int
	patch    scheduler.ConfigPatch
	cfg      scheduler.Config
	cfgErr   error
	status   scheduler.Status
	startCtx context.Context
	cleared  []string
}

func (f *fakeScheduler) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	f.startCtx = ctx
	return nil
}

func (f *fakeScheduler) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeScheduler) Status() scheduler.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status
	st.Running = f.running
	return st
}

func (f *fakeScheduler) UpdateConfig(p scheduler.ConfigPatch) (scheduler.Config, error) {
	f.patch = p
	if f.cfgErr != nil {
		return scheduler.Config{}, f.cfgErr
	}
	return p.Apply(f.cfg), nil
}

func (f *fakeScheduler) Exclusive(fn func() error) error {
	if f.busy {
		return scheduler.ErrBusy
	}
	return fn()
}

func (f *fakeScheduler) ClearRecommendation(versionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, versionID)
}

func (f *fakeScheduler) CheckAndTriggerRetrain(ctx context.Context) (*scheduler.Outcome, error) {
	f.checked++
	return f.outcome, f.err
}

func (f *fakeScheduler) ManualTrigger(ctx context.Context, trigger runlog.Trigger) (*scheduler.Outcome, error) {
	f.trigger = trigger
	return f.outcome, f.err
}

type fakeActivator struct {
	res *retrain.ActivationResult
	err error
	got string
}

func (f *fakeActivator) Activate(ctx context.Context, versionID string) (*retrain.ActivationResult, error) {
	f.got = versionID
	return f.res, f.err
}

type fakeRollbacks struct {
	res      *rollback.Result
	err      error
	gotID    int64
	reason   string
	versions []backend.ModelVersion
	keep     int
	deleted  int
}

func (f *fakeRollbacks) RollbackTo(ctx context.Context, id int64, reason string) (*rollback.Result, error) {
	f.gotID, f.reason = id, reason
	return f.res, f.err
}

func (f *fakeRollbacks) AvailableVersions(ctx context.Context) ([]backend.ModelVersion, error) {
	return f.versions, nil
}

func (f *fakeRollbacks) CleanupBackups(keep int) (int, error) {
	f.keep = keep
	return f.deleted, nil
}

type fakeRuns struct {
	runs  []*runlog.Run
	limit int
}

func (f *fakeRuns) List(limit int) ([]*runlog.Run, error) {
	f.limit = limit
	return f.runs, nil
}

func (f *fakeRuns) Latest() (*runlog.Run, error) {
	if len(f.runs) == 0 {
		return nil, nil
	}
	return f.runs[0], nil
}

type fakeReports struct {
	report      *evaluation.Report
	err         error
	publishedID int64
	comparedIDs []int64
}

func (f *fakeReports) EvaluateActive(ctx context.Context) (*evaluation.Report, error) {
	return f.report, f.err
}

func (f *fakeReports) Publish(ctx context.Context, id int64, r *evaluation.Report) error {
	f.publishedID = id
	return nil
}

func (f *fakeReports) VersionReport(ctx context.Context, id int64) (string, *evaluation.Report, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return "v" + strconv.FormatInt(id, 10), f.report, nil
}

func (f *fakeReports) CompareVersions(ctx context.Context, ids []int64) (*evaluation.VersionComparison, error) {
	f.comparedIDs = ids
	if f.err != nil {
		return nil, f.err
	}
	return &evaluation.VersionComparison{BestAccuracyVersion: "v2"}, nil
}

type fakeArtifacts struct {
	active artifact.Info
}

func (f *fakeArtifacts) ActiveInfo() artifact.Info { return f.active }

func (f *fakeArtifacts) ListVersions() ([]artifact.Info, error) { return nil, nil }

type fakeResources struct{ snap *monitor.Snapshot }

type fakeBackend struct{ state string }

func (f fakeBackend) BreakerState() string { return f.state }

func (f *fakeResources) Last() *monitor.Snapshot { return f.snap }

type fixture struct {
	cfg       *config.Config
	sched     *fakeScheduler
	activator *fakeActivator
	rollbacks *fakeRollbacks
	runs      *fakeRuns
	reports   *fakeReports
	artifacts *fakeArtifacts
	resources *fakeResources
	srv       *Server
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}

	f := &fixture{
		cfg:       cfg,
		sched:     &fakeScheduler{cfg: scheduler.DefaultConfig()},
		activator: &fakeActivator{},
		rollbacks: &fakeRollbacks{},
		runs:      &fakeRuns{},
		reports:   &fakeReports{},
		artifacts: &fakeArtifacts{},
		resources: &fakeResources{},
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("petmood_up 1\n"))
	})
	f.srv = New(cfg, Deps{
		Scheduler: f.sched,
		Activator: f.activator,
		Rollbacks: f.rollbacks,
		Runs:      f.runs,
		Reports:   f.reports,
		Artifacts: f.artifacts,
		Resources: f.resources,
		Backend:   fakeBackend{state: "closed"},
		Metrics:   metrics,
	}, testLogger(), "0.1.0-test")
	return f
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func TestInfoAndHealth(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	var info InfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "petmood", info.Name)
	assert.Equal(t, "0.1.0-test", info.Version)

	w, _ = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w, _ = f.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthExemptions(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Auth = config.AuthConfig{Enabled: true, User: "admin", Password: "secret"}
	})

	w, _ := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "petmood_up 1")

	w, env := f.do(t, http.MethodGet, "/v1/scheduler/status", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)

	req := httptest.NewRequest(http.MethodGet, "/v1/scheduler/status", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.srv.ReloadConfig(func() *config.Config {
		c := config.Default()
		c.Auth.Enabled = false
		return c
	}())
	w, _ = f.do(t, http.MethodGet, "/v1/scheduler/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRetrain(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		f.sched.outcome = &scheduler.Outcome{
			Success: true,
			Message: "trained v4",
			Cycle:   &retrain.CycleResult{Success: true, VersionID: "v4"},
		}

		w, env := f.do(t, http.MethodPost, "/v1/retrain", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, env.Success)
		assert.Equal(t, "trained v4", env.Message)
		assert.Equal(t, runlog.TriggerAPI, f.sched.trigger)

		var out scheduler.Outcome
		require.NoError(t, json.Unmarshal(env.Data, &out))
		assert.Equal(t, "v4", out.Cycle.VersionID)
	})

	t.Run("busy", func(t *testing.T) {
		f := newFixture(t)
		f.sched.outcome = &scheduler.Outcome{Message: "busy"}
		f.sched.err = scheduler.ErrBusy

		w, env := f.do(t, http.MethodPost, "/v1/retrain", "")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.False(t, env.Success)
		assert.Equal(t, "busy", env.Message)
	})

	t.Run("quota", func(t *testing.T) {
		f := newFixture(t)
		f.sched.outcome = &scheduler.Outcome{Message: "daily retrain limit reached (3/3)"}
		f.sched.err = scheduler.ErrDailyQuota

		w, env := f.do(t, http.MethodPost, "/v1/retrain", "")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "daily retrain limit reached (3/3)", env.Message)
	})

	t.Run("training failure", func(t *testing.T) {
		f := newFixture(t)
		f.sched.outcome = &scheduler.Outcome{Message: "training failed: loss diverged"}
		f.sched.err = errors.New("training failed: loss diverged")

		w, env := f.do(t, http.MethodPost, "/v1/retrain", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.False(t, env.Success)
	})
}

func TestSchedulerTrigger_Skipped(t *testing.T) {
	f := newFixture(t)
	f.sched.outcome = &scheduler.Outcome{Skipped: true, Message: "insufficient feedback (5/10)"}

	w, env := f.do(t, http.MethodPost, "/v1/scheduler/trigger", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "insufficient feedback (5/10)", env.Message)
	assert.Equal(t, 1, f.sched.checked)
}

func TestRetrainStatus(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	f.sched.status = scheduler.Status{
		Busy:   true,
		Phase:  scheduler.PhaseRetraining,
		Config: scheduler.DefaultConfig(),
		State: scheduler.State{
			DailyRetrainCount:  2,
			LastRetrainAt:      &at,
			RecommendedVersion: "v5",
		},
	}
	f.runs.runs = []*runlog.Run{{ID: "run-1", Status: runlog.StatusRunning}}
	f.artifacts.active = artifact.Info{Exists: true, VersionID: "v4"}

	w, env := f.do(t, http.MethodGet, "/v1/retrain/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var st RetrainStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.Busy)
	assert.Equal(t, scheduler.PhaseRetraining, st.Phase)
	assert.Equal(t, 2, st.DailyRetrainCount)
	assert.Equal(t, 3, st.MaxDailyRetrains)
	assert.Equal(t, "v5", st.RecommendedVersion)
	assert.Equal(t, "run-1", st.LatestRun.ID)
	assert.Equal(t, "v4", st.Active.VersionID)
	assert.Equal(t, "closed", st.BackendBreaker)
}

func TestRuns(t *testing.T) {
	f := newFixture(t)
	f.runs.runs = []*runlog.Run{{ID: "b"}, {ID: "a"}}

	w, env := f.do(t, http.MethodGet, "/v1/retrain/runs?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, f.runs.limit)
	var runs []runlog.Run
	require.NoError(t, json.Unmarshal(env.Data, &runs))
	assert.Len(t, runs, 2)

	_, _ = f.do(t, http.MethodGet, "/v1/retrain/runs", "")
	assert.Equal(t, defaultRunsLimit, f.runs.limit)

	for _, q := range []string{"abc", "0", "100000"} {
		w, env = f.do(t, http.MethodGet, "/v1/retrain/runs?limit="+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.False(t, env.Success)
	}
}

func TestActivate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		f.activator.res = &retrain.ActivationResult{VersionID: "v5", PreviousVersionID: "v4"}

		w, env := f.do(t, http.MethodPost, "/v1/models/activate", `{"version_id":"v5"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, env.Success)
		assert.Equal(t, "v5", f.activator.got)
		assert.Equal(t, []string{"v5"}, f.sched.cleared)
	})

	t.Run("missing version", func(t *testing.T) {
		f := newFixture(t)
		w, env := f.do(t, http.MethodPost, "/v1/models/activate", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "version_id is required", env.Message)
	})

	t.Run("unknown candidate", func(t *testing.T) {
		f := newFixture(t)
		f.activator.err = retrain.ErrCandidateNotFound

		w, _ := f.do(t, http.MethodPost, "/v1/models/activate", `{"version_id":"v9"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Empty(t, f.sched.cleared)
	})

	t.Run("busy", func(t *testing.T) {
		f := newFixture(t)
		f.sched.busy = true

		w, env := f.do(t, http.MethodPost, "/v1/models/activate", `{"version_id":"v5"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "busy", env.Message)
		assert.Empty(t, f.activator.got)
	})
}

func TestRollback(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		f.rollbacks.res = &rollback.Result{Success: true, Message: "rolled back to v3", VersionID: 3}

		w, env := f.do(t, http.MethodPost, "/v1/models/rollback", `{"version_id":3,"reason":"regression"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, env.Success)
		assert.Equal(t, "rolled back to v3", env.Message)
		assert.Equal(t, int64(3), f.rollbacks.gotID)
		assert.Equal(t, "regression", f.rollbacks.reason)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)

		w, env := f.do(t, http.MethodPost, "/v1/models/rollback", `{"reason":"x"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "version_id is required", env.Message)

		w, env = f.do(t, http.MethodPost, "/v1/models/rollback", `{"version_id":-1}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "version_id must be greater than 0", env.Message)

		w, _ = f.do(t, http.MethodPost, "/v1/models/rollback", `not json`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w, env = f.do(t, http.MethodPost, "/v1/models/rollback", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "request body is required", env.Message)
	})

	t.Run("target not found", func(t *testing.T) {
		f := newFixture(t)
		f.rollbacks.res = &rollback.Result{Message: "target not found: v7"}
		f.rollbacks.err = rollback.ErrTargetNotFound

		w, env := f.do(t, http.MethodPost, "/v1/models/rollback", `{"version_id":7}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.False(t, env.Success)
		assert.Equal(t, "target not found: v7", env.Message)
	})

	t.Run("partial activation", func(t *testing.T) {
		f := newFixture(t)
		f.rollbacks.res = &rollback.Result{Message: "registry down", Inconsistent: true}
		f.rollbacks.err = rollback.ErrPartialActivation

		w, env := f.do(t, http.MethodPost, "/v1/models/rollback", `{"version_id":2}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var res rollback.Result
		require.NoError(t, json.Unmarshal(env.Data, &res))
		assert.True(t, res.Inconsistent)
	})
}

func TestVersionsAndActive(t *testing.T) {
	f := newFixture(t)
	f.rollbacks.versions = []backend.ModelVersion{{ID: 3, Version: "v3"}}

	w, env := f.do(t, http.MethodGet, "/v1/models/versions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var versions []backend.ModelVersion
	require.NoError(t, json.Unmarshal(env.Data, &versions))
	require.Len(t, versions, 1)
	assert.Equal(t, "v3", versions[0].Version)

	w, env = f.do(t, http.MethodGet, "/v1/models/active", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)

	f.artifacts.active = artifact.Info{Exists: true, VersionID: "v3"}
	w, env = f.do(t, http.MethodGet, "/v1/models/active", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
}

func TestCleanupBackups(t *testing.T) {
	f := newFixture(t)
	f.rollbacks.deleted = 2

	w, env := f.do(t, http.MethodPost, "/v1/models/backups/cleanup", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, f.cfg.Artifacts.BackupKeep, f.rollbacks.keep)
	assert.Equal(t, "deleted 2 backups", env.Message)

	w, _ = f.do(t, http.MethodPost, "/v1/models/backups/cleanup", `{"keep":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.rollbacks.keep)

	w, _ = f.do(t, http.MethodPost, "/v1/models/backups/cleanup", `{"keep":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPerformanceReport(t *testing.T) {
	report := &evaluation.Report{VersionID: "v4", Accuracy: 0.9, TotalSamples: 10}

	t.Run("json", func(t *testing.T) {
		f := newFixture(t)
		f.reports.report = report

		w, env := f.do(t, http.MethodGet, "/v1/performance/report", "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp ReportResponse
		require.NoError(t, json.Unmarshal(env.Data, &resp))
		require.NotNil(t, resp.Report)
		assert.Equal(t, 0.9, resp.Report.Accuracy)
		assert.False(t, resp.Published)
		assert.Zero(t, f.reports.publishedID)
	})

	t.Run("text and publish", func(t *testing.T) {
		f := newFixture(t)
		f.reports.report = report

		w, env := f.do(t, http.MethodGet, "/v1/performance/report?format=text&publish=4", "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp ReportResponse
		require.NoError(t, json.Unmarshal(env.Data, &resp))
		assert.Nil(t, resp.Report)
		assert.Contains(t, resp.Text, "v4")
		assert.True(t, resp.Published)
		assert.Equal(t, int64(4), f.reports.publishedID)
	})

	t.Run("bad params", func(t *testing.T) {
		f := newFixture(t)
		w, _ := f.do(t, http.MethodGet, "/v1/performance/report?format=xml", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w, _ = f.do(t, http.MethodGet, "/v1/performance/report?publish=x", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no active artifact", func(t *testing.T) {
		f := newFixture(t)
		f.reports.err = artifact.ErrNoActiveArtifact
		w, _ := f.do(t, http.MethodGet, "/v1/performance/report", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSchedulerLifecycle(t *testing.T) {
	f := newFixture(t)

	w, env := f.do(t, http.MethodPost, "/v1/scheduler/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "scheduler started", env.Message)
	var st scheduler.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.Running)
	// the poll loop must outlive the request
	require.NotNil(t, f.sched.startCtx)
	assert.NoError(t, f.sched.startCtx.Err())

	w, env = f.do(t, http.MethodPost, "/v1/scheduler/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.False(t, st.Running)

	w, _ = f.do(t, http.MethodGet, "/v1/scheduler/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSchedulerConfig(t *testing.T) {
	f := newFixture(t)

	w, env := f.do(t, http.MethodPatch, "/v1/scheduler/config", `{"min_feedback_count":5,"enable_auto_activation":false}`)
	require.Equal(t, http.StatusOK, w.Code, env.Message)
	require.NotNil(t, f.sched.patch.MinFeedbackCount)
	assert.Equal(t, 5, *f.sched.patch.MinFeedbackCount)
	assert.Nil(t, f.sched.patch.CheckIntervalMinutes)

	var cfg scheduler.Config
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.Equal(t, 5, cfg.MinFeedbackCount)
	assert.False(t, cfg.EnableAutoActivation)
	assert.Equal(t, 3, cfg.MaxDailyRetrains)

	w, env = f.do(t, http.MethodPatch, "/v1/scheduler/config", `{"auto_activation_threshold":1.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "auto_activation_threshold must be less than or equal to 1", env.Message)

	f.sched.cfgErr = errors.New("check_interval must be at least 1s")
	w, _ = f.do(t, http.MethodPatch, "/v1/scheduler/config", `{"check_interval_minutes":5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMaxBodyLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Server.MaxBodyBytes = 16 })

	w, env := f.do(t, http.MethodPost, "/v1/models/rollback", `{"version_id":3,"reason":"`+strings.Repeat("x", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.False(t, env.Success)
}

func TestDebugRoutes(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(t, http.MethodGet, "/debug/resources", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "debug routes are off by default")

	f = newFixture(t, func(c *config.Config) {
		c.Debug.Enabled = true
		c.Debug.Auth.Token = "tkn"
	})
	f.resources.snap = &monitor.Snapshot{Memory: monitor.MemoryState{UsagePercent: 42}}

	w, _ = f.do(t, http.MethodGet, "/debug/resources", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/debug/resources", nil)
	req.Header.Set("Authorization", "Bearer tkn")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"usage_percent":42`)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Server.Host = "127.0.0.1"
		c.Server.Port = 0
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, "http-server", f.srv.String())
}

func TestVersionReportAndCompare(t *testing.T) {
	f := newFixture(t)
	f.reports.report = &evaluation.Report{VersionID: "v3", Accuracy: 0.8}

	w, env := f.do(t, http.MethodGet, "/v1/performance/versions/3?format=text", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp ReportResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Contains(t, resp.Text, "v3")

	w, _ = f.do(t, http.MethodGet, "/v1/performance/versions/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = f.do(t, http.MethodGet, "/v1/performance/compare?ids=1,%202,3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{1, 2, 3}, f.reports.comparedIDs)
	var cmp evaluation.VersionComparison
	require.NoError(t, json.Unmarshal(env.Data, &cmp))
	assert.Equal(t, "v2", cmp.BestAccuracyVersion)

	w, env = f.do(t, http.MethodGet, "/v1/performance/compare", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ids is required", env.Message)

	w, _ = f.do(t, http.MethodGet, "/v1/performance/compare?ids=1,x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.reports.err = errors.New("registry down")
	w, _ = f.do(t, http.MethodGet, "/v1/performance/compare?ids=1", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
