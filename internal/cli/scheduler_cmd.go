package cli

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/haskel/petmood/internal/scheduler"
	"github.com/haskel/petmood/internal/server"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Control the retraining scheduler",
}

var schedulerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the periodic feedback check",
	RunE: func(cmd *cobra.Command, args []string) error {
		return schedulerAction("/v1/scheduler/start")
	},
}

var schedulerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the periodic feedback check",
	RunE: func(cmd *cobra.Command, args []string) error {
		return schedulerAction("/v1/scheduler/stop")
	},
}

var schedulerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler state and policy",
	RunE:  runSchedulerStatus,
}

var schedulerTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run one feedback check now, honoring the feedback threshold",
	RunE:  runSchedulerTrigger,
}

var schedulerConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Update the scheduler policy at runtime",
	Long: `Update the scheduler policy. Only flags given on the command line are
sent; the rest of the policy is left as is. Changes are not written back to
the config file.`,
	RunE: runSchedulerConfig,
}

var schedPatch struct {
	minFeedback    int
	intervalMin    int
	threshold      float64
	maxDaily       int
	autoActivation bool
	monitoring     bool
}

func init() {
	f := schedulerConfigCmd.Flags()
	f.IntVar(&schedPatch.minFeedback, "min-feedback", 0, "unused feedback needed before a scheduled retrain")
	f.IntVar(&schedPatch.intervalMin, "interval", 0, "check interval in minutes")
	f.Float64Var(&schedPatch.threshold, "threshold", 0, "validation accuracy at which a candidate is recommended")
	f.IntVar(&schedPatch.maxDaily, "max-daily", 0, "maximum retrains per day")
	f.BoolVar(&schedPatch.autoActivation, "auto-activation", false, "flag candidates above the threshold as recommended")
	f.BoolVar(&schedPatch.monitoring, "monitoring", false, "evaluate candidates against the active model")

	schedulerCmd.AddCommand(schedulerStartCmd, schedulerStopCmd, schedulerStatusCmd, schedulerTriggerCmd, schedulerConfigCmd)
	rootCmd.AddCommand(schedulerCmd)
}

func schedulerAction(path string) error {
	env, raw, err := NewClient().Call(http.MethodPost, path, nil)
	if err != nil {
		return fmt.Errorf("scheduler request failed: %w", err)
	}
	if pretty, err := emit(env, raw); !pretty {
		return err
	}
	result(env.Success, env.Message)
	return nil
}

func runSchedulerStatus(cmd *cobra.Command, args []string) error {
	env, raw, err := NewClient().Call(http.MethodGet, "/v1/scheduler/status", nil)
	if err != nil {
		return fmt.Errorf("failed to get scheduler status: %w", err)
	}
	if pretty, err := emit(env, raw); !pretty {
		return err
	}

	var st scheduler.Status
	if err := decodeData(env, &st); err != nil {
		return err
	}
	printSchedulerStatus(&st)
	return nil
}

func printSchedulerStatus(st *scheduler.Status) {
	header("Scheduler")
	field("Running", st.Running)
	field("Phase", st.Phase)
	field("Interval", st.Interval)
	field("Next check", formatTime(st.NextCheckAt))
	field("Retrains today", fmt.Sprintf("%d/%d", st.State.DailyRetrainCount, st.Config.MaxDailyRetrains))
	field("Last retrain", formatTime(st.State.LastRetrainAt))

	fmt.Println()
	header("Policy")
	field("Min feedback", st.Config.MinFeedbackCount)
	field("Threshold", fmt.Sprintf("%.2f", st.Config.AutoActivationThreshold))
	field("Auto activation", st.Config.EnableAutoActivation)
	field("Monitoring", st.Config.EnablePerformanceMonitoring)
}

func runSchedulerTrigger(cmd *cobra.Command, args []string) error {
	env, raw, err := NewClient().Call(http.MethodPost, "/v1/scheduler/trigger", nil)
	if err != nil {
		return fmt.Errorf("failed to trigger check: %w", err)
	}
	if pretty, err := emit(env, raw); !pretty {
		return err
	}

	var out scheduler.Outcome
	if err := decodeData(env, &out); err != nil {
		return err
	}
	printOutcome(&out)
	if !out.Success && !out.Skipped {
		return fmt.Errorf("check failed: %s", out.Message)
	}
	return nil
}

func runSchedulerConfig(cmd *cobra.Command, args []string) error {
	req := buildConfigRequest(cmd)
	if req == (server.SchedulerConfigRequest{}) {
		return errors.New("no settings given")
	}

	env, raw, err := NewClient().Call(http.MethodPatch, "/v1/scheduler/config", req)
	if err != nil {
		return fmt.Errorf("failed to update scheduler config: %w", err)
	}
	if pretty, err := emit(env, raw); !pretty {
		return err
	}

	var cfg scheduler.Config
	if err := decodeData(env, &cfg); err != nil {
		return err
	}
	result(true, env.Message)
	field("Min feedback", cfg.MinFeedbackCount)
	field("Interval", cfg.CheckInterval)
	field("Threshold", fmt.Sprintf("%.2f", cfg.AutoActivationThreshold))
	field("Max daily", cfg.MaxDailyRetrains)
	return nil
}

// buildConfigRequest includes only the flags the user set.
func buildConfigRequest(cmd *cobra.Command) server.SchedulerConfigRequest {
	var req server.SchedulerConfigRequest
	f := cmd.Flags()
	if f.Changed("min-feedback") {
		req.MinFeedbackCount = &schedPatch.minFeedback
	}
	if f.Changed("interval") {
		req.CheckIntervalMinutes = &schedPatch.intervalMin
	}
	if f.Changed("threshold") {
		req.AutoActivationThreshold = &schedPatch.threshold
	}
	if f.Changed("max-daily") {
		req.MaxDailyRetrains = &schedPatch.maxDaily
	}
	if f.Changed("auto-activation") {
		req.EnableAutoActivation = &schedPatch.autoActivation
	}
	if f.Changed("monitoring") {
		req.EnablePerformanceMonitoring = &schedPatch.monitoring
	}
	return req
}
