package cli

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/spf13/cobra"

	"github.com/haskel/petmood/internal/server"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show retraining status, the active model and host resources",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, raw, err := NewClient().Call(http.MethodGet, "/v1/retrain/status", nil)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if pretty, err := emit(env, raw); !pretty {
		return err
	}

	var st server.RetrainStatus
	if err := decodeData(env, &st); err != nil {
		return err
	}

	header("Retraining")
	field("Phase", st.Phase)
	field("Busy", st.Busy)
	field("Retrains today", fmt.Sprintf("%d/%d", st.DailyRetrainCount, st.MaxDailyRetrains))
	field("Last retrain", formatTime(st.LastRetrainAt))
	field("Recommended version", orDash(st.RecommendedVersion))
	if st.LastResult != nil {
		field("Last result", fmt.Sprintf("%s (%s)", st.LastResult.Message, statusWord(st.LastResult.Success)))
	}
	if st.BackendBreaker != "" {
		field("Backend breaker", st.BackendBreaker)
	}

	fmt.Println()
	header("Active model")
	if st.Active.Exists {
		field("Version", orDash(st.Active.VersionID))
		field("Path", st.Active.Path)
		field("Updated", formatTime(&st.Active.UpdatedAt))
	} else {
		fmt.Println(warnStyle.Render("  no active artifact"))
	}

	if run := st.LatestRun; run != nil {
		fmt.Println()
		header("Latest run")
		field("Run", run.ID)
		field("Status", run.Status)
		field("Trigger", run.Trigger)
		field("Started", formatTime(&run.StartedAt))
		field("Produced", orDash(run.ProducedVersionID))
		if run.Message != "" {
			field("Message", run.Message)
		}
	}

	if res := st.Resources; res != nil {
		fmt.Println()
		header("Resources")
		field("CPU", fmt.Sprintf("%.1f%% of %d cores", res.CPU.UsagePercent, res.CPU.Cores))
		field("Memory", fmt.Sprintf("%.1f%% (%s / %s)", res.Memory.UsagePercent,
			formatBytes(res.Memory.UsedBytes), formatBytes(res.Memory.TotalBytes)))
		paths := make([]string, 0, len(res.Storage))
		for p := range res.Storage {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			d := res.Storage[p]
			field("Disk "+p, fmt.Sprintf("%s free of %s", formatBytes(d.FreeBytes), formatBytes(d.TotalBytes)))
		}
	}

	return nil
}
