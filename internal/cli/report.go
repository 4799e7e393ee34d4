package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haskel/petmood/internal/evaluation"
	"github.com/haskel/petmood/internal/server"
)

var (
	reportPublish int64
	reportVersion int64
	reportCmd     = &cobra.Command{
		Use:   "report",
		Short: "Evaluate the active model on the validation set",
		Long: `Evaluate the active model on the validation split and print the
performance report. With --publish the metrics are also written to the given
registry version. With --registry-id the report previously published on that
registry version is shown instead and nothing is evaluated.`,
		RunE: runReport,
	}
)

var compareCmd = &cobra.Command{
	Use:   "compare <id> <id>...",
	Short: "Compare published scores of registry versions",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCompare,
}

func init() {
	reportCmd.Flags().Int64Var(&reportPublish, "publish", 0, "registry version id to publish the metrics to")
	reportCmd.Flags().Int64Var(&reportVersion, "registry-id", 0, "show the stored report of a registry version")
	reportCmd.MarkFlagsMutuallyExclusive("publish", "registry-id")
	rootCmd.AddCommand(reportCmd, compareCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("format", "text")
	if jsonOut {
		q.Set("format", "json")
	}

	path := "/v1/performance/report"
	if reportVersion > 0 {
		path = "/v1/performance/versions/" + strconv.FormatInt(reportVersion, 10)
	} else if reportPublish > 0 {
		q.Set("publish", strconv.FormatInt(reportPublish, 10))
	}

	env, raw, err := NewClient().Call(http.MethodGet, path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to get report: %w", err)
	}
	if pretty, err := emit(env, raw); !pretty {
		return err
	}

	var resp server.ReportResponse
	if err := decodeData(env, &resp); err != nil {
		return err
	}
	switch {
	case resp.Text != "":
		fmt.Print(resp.Text)
	case resp.Report != nil:
		fmt.Print(evaluation.FormatReport(resp.Report.VersionID, resp.Report))
	}
	if reportPublish > 0 {
		result(resp.Published, fmt.Sprintf("published to registry version %d", reportPublish))
	}
	if !env.Success {
		return fmt.Errorf("%s", env.Message)
	}
	return nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	for _, a := range args {
		if id, err := strconv.ParseInt(a, 10, 64); err != nil || id <= 0 {
			return fmt.Errorf("invalid version id: %s", a)
		}
	}

	env, raw, err := NewClient().Call(http.MethodGet, "/v1/performance/compare?ids="+strings.Join(args, ","), nil)
	if err != nil {
		return fmt.Errorf("failed to compare versions: %w", err)
	}
	if pretty, err := emit(env, raw); !pretty {
		return err
	}

	var c evaluation.VersionComparison
	if err := decodeData(env, &c); err != nil {
		return err
	}

	fmt.Println(tableHdStyle.Render(fmt.Sprintf("%6s  %-10s  %8s  %8s", "ID", "VERSION", "ACCURACY", "F1")))
	for _, v := range c.Versions {
		fmt.Printf("%6d  %-10s  %8.4f  %8.4f\n", v.ID, v.Version, v.ValidationAccuracy, v.F1Score)
	}
	fmt.Println()
	field("Best accuracy", fmt.Sprintf("%s (%.4f)", c.BestAccuracyVersion, c.BestAccuracy))
	field("Best F1", fmt.Sprintf("%s (%.4f)", c.BestF1Version, c.BestF1))
	field("Accuracy", fmt.Sprintf("%.4f ± %.4f", c.MeanAccuracy, c.StdAccuracy))
	field("F1", fmt.Sprintf("%.4f ± %.4f", c.MeanF1, c.StdF1))
	return nil
}
