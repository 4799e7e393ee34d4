package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haskel/petmood/internal/artifact"
	"github.com/haskel/petmood/internal/backend"
	"github.com/haskel/petmood/internal/config"
	"github.com/haskel/petmood/internal/dataset"
	"github.com/haskel/petmood/internal/evaluation"
	"github.com/haskel/petmood/internal/imageload"
	"github.com/haskel/petmood/internal/logger"
	"github.com/haskel/petmood/internal/metrics"
	"github.com/haskel/petmood/internal/monitor"
	"github.com/haskel/petmood/internal/retrain"
	"github.com/haskel/petmood/internal/rollback"
	"github.com/haskel/petmood/internal/runlog"
	"github.com/haskel/petmood/internal/scheduler"
	"github.com/haskel/petmood/internal/server"
	"github.com/haskel/petmood/internal/supervisor"
	"github.com/haskel/petmood/internal/training"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the petmood server",
	Long: `Start the retraining server in the foreground. SIGHUP or an edit of the
config file reloads the log level, auth settings and scheduler policy.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = host
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := logger.Open(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer out.Close()
	log := out.Logger

	log.Info("petmood starting", "version", Version, "config", cfgFile)

	m := metrics.NewCollector()

	client := backend.New(cfg.BackendClientConfig(), log.With("component", "backend"),
		backend.WithBreakerObserver(m.BreakerStateChanged),
		backend.WithRequestObserver(m.ObserveBackendRequest),
	)

	store, err := artifact.NewStore(cfg.ArtifactStoreConfig(), log.With("component", "artifacts"))
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	loader := imageload.New(cfg.ImageOptions(), log.With("component", "images"))

	root := cfg.Artifacts.RootDir
	preflight := monitor.NewPreflight(root, cfg.PreflightThresholds(), log.With("component", "resources"),
		monitor.WithObserver(func(s *monitor.Snapshot) {
			m.ObserveResources(s.Storage[root].FreeBytes, s.Memory.UsagePercent)
		}),
	)

	executor := training.NewExecutor(cfg.TrainingParams(), preflight, log.With("component", "training"))

	ledger, err := runlog.Open(cfg.RunlogPath(), log.With("component", "runlog"))
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}
	defer ledger.Close()

	svc := retrain.NewService(client, loader, executor, store, ledger, log.With("component", "retrain"))

	vset := dataset.NewValidationSet(cfg.DatasetConfig(), loader, log.With("component", "dataset"))
	evaluator := evaluation.NewEvaluator(vset, store, client, log.With("component", "evaluation"))

	rollbacks := rollback.NewManager(store, client, log.With("component", "rollback"),
		rollback.WithObserver(func(r *rollback.Result) { m.ObserveRollback(r.Success) }),
	)

	sched, err := scheduler.New(cfg.SchedulerPolicy(),
		scheduler.NewFileStateStore(cfg.StatePath(), log),
		svc, evaluator, log.With("component", "scheduler"),
		scheduler.WithRecorder(m),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	srv := server.New(cfg, server.Deps{
		Scheduler: sched,
		Activator: svc,
		Rollbacks: rollbacks,
		Runs:      ledger,
		Reports:   evaluator,
		Artifacts: store,
		Resources: preflight,
		Backend:   client,
		Metrics:   m.Handler(),
	}, log.With("component", "http"), Version)

	var reloadMu sync.Mutex
	reload := func() {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		applyReload(log, out, srv, sched, vset)
	}

	tree := supervisor.NewTree(log, supervisor.TreeConfig{})
	tree.AddPipelineService(supervisor.NewSchedulerService(sched, cfg.Scheduler.Autostart, log))
	tree.AddPipelineService(runlog.NewGCService(ledger, cfg.RunlogGCInterval(), log))
	tree.AddPipelineService(monitor.NewSampler(preflight, 0, log))
	tree.AddAPIService(srv)
	if cfgFile != "" {
		tree.AddAPIService(config.NewWatcher(cfgFile, reload, log))
	}

	if cfg.Server.PIDFile != "" {
		if err := writePID(cfg.Server.PIDFile); err != nil {
			log.Warn("failed to write PID file", "error", err)
		} else {
			defer os.Remove(cfg.Server.PIDFile)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)
	go func() {
		for {
			select {
			case <-sighup:
				log.Info("SIGHUP received, reloading configuration")
				reload()
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("petmood ready", "addr", srv.Addr())

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, u := range report {
			log.Warn("service did not stop in time", "service", u.Name)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor stopped: %w", err)
	}

	log.Info("petmood stopped")
	return nil
}

// applyReload re-reads the config file and applies the settings that can
// change at runtime. Listen address, storage paths and the backend URL
// need a restart. The validation set is dropped so an edited labels file
// is read on the next evaluation.
func applyReload(log *slog.Logger, out *logger.Output, srv *server.Server, sched *scheduler.Scheduler, vset *dataset.ValidationSet) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		log.Error("invalid configuration, reload aborted", "error", err)
		return
	}

	out.SetLevel(cfg.Logging.Level)
	srv.ReloadConfig(cfg)
	vset.Reset()

	s := cfg.Scheduler
	if _, err := sched.UpdateConfig(scheduler.ConfigPatch{
		MinFeedbackCount:            &s.MinFeedbackCount,
		CheckIntervalMinutes:        &s.CheckIntervalMinutes,
		AutoActivationThreshold:     &s.AutoActivationThreshold,
		MaxDailyRetrains:            &s.MaxDailyRetrains,
		EnableAutoActivation:        &s.EnableAutoActivation,
		EnablePerformanceMonitoring: &s.EnablePerformanceMonitoring,
	}); err != nil {
		log.Error("failed to apply scheduler policy", "error", err)
		return
	}
	log.Info("configuration reloaded", "level", cfg.Logging.Level)
}
