package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/haskel/petmood/internal/runlog"
	"github.com/haskel/petmood/internal/scheduler"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Run a retraining cycle now",
	Long: `Run a retraining cycle on the server immediately. The minimum feedback
count is not enforced, but the daily retrain limit is, and the call fails
with "busy" while another cycle, rollback or activation is in flight.`,
	RunE: runRetrain,
}

var (
	runsLimit int
	runsCmd   = &cobra.Command{
		Use:   "runs",
		Short: "List recent training runs",
		RunE:  runRuns,
	}
)

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")
	rootCmd.AddCommand(retrainCmd, runsCmd)
}

func runRetrain(cmd *cobra.Command, args []string) error {
	env, raw, err := NewClient().Call(http.MethodPost, "/v1/retrain", nil)
	if err != nil {
		return fmt.Errorf("failed to trigger retrain: %w", err)
	}
	if pretty, err := emit(env, raw); !pretty {
		return err
	}

	var out scheduler.Outcome
	if err := decodeData(env, &out); err != nil {
		return err
	}
	printOutcome(&out)
	if !out.Success {
		return fmt.Errorf("retrain did not complete: %s", out.Message)
	}
	return nil
}

func printOutcome(out *scheduler.Outcome) {
	result(out.Success, out.Message)
	field("Trigger", out.Trigger)
	field("Feedback", out.FeedbackCount)
	field("Duration", out.Duration.Round(time.Millisecond))
	if c := out.Cycle; c != nil && c.RetrainPerformed {
		field("Run", orDash(c.RunID))
		field("Version", fmt.Sprintf("%s -> %s", orDash(c.BaseVersionID), orDash(c.VersionID)))
		field("Samples", fmt.Sprintf("%d (%d skipped)", c.SampleCount, c.SkippedSamples))
		field("Final loss", fmt.Sprintf("%.4f", c.FinalLoss))
		field("Train accuracy", fmt.Sprintf("%.4f", c.FinalAccuracy))
		field("Feedback marked used", c.MarkedUsed)
	}
	if out.Candidate != nil {
		field("Validation accuracy", fmt.Sprintf("%.4f", out.Candidate.Accuracy))
	}
	if out.Comparison != nil && out.Baseline != nil {
		field("vs active", fmt.Sprintf("%+.4f accuracy, %+.4f F1", out.Comparison.AccuracyDelta, out.Comparison.F1Delta))
	}
	if out.Recommended {
		fmt.Println(okStyle.Render("  recommended for activation"))
	}
}

func runRuns(cmd *cobra.Command, args []string) error {
	env, raw, err := NewClient().Call(http.MethodGet, fmt.Sprintf("/v1/retrain/runs?limit=%d", runsLimit), nil)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if pretty, err := emit(env, raw); !pretty {
		return err
	}

	var runs []runlog.Run
	if err := decodeData(env, &runs); err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No training runs recorded")
		return nil
	}

	fmt.Println(tableHdStyle.Render(fmt.Sprintf("%-36s  %-9s  %-8s  %-19s  %-8s  %7s  %8s",
		"RUN", "STATUS", "TRIGGER", "STARTED", "VERSION", "SAMPLES", "ACCURACY")))
	for _, r := range runs {
		fmt.Printf("%-36s  %-9s  %-8s  %-19s  %-8s  %7d  %8.4f\n",
			r.ID, r.Status, r.Trigger, formatTime(&r.StartedAt),
			orDash(r.ProducedVersionID), r.SampleCount, r.FinalAccuracy)
	}
	return nil
}
