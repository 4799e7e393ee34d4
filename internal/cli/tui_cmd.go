package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/haskel/petmood/internal/cli/tui"
)

var refreshInterval time.Duration

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive retraining dashboard",
	Long: `Launch a terminal dashboard showing the scheduler phase, the active model,
host resources and recent training runs.

Examples:
  petmood tui                    # Default refresh
  petmood tui --refresh 5s       # Slower refresh
  petmood tui --host 10.0.0.1    # Connect to a remote server`,
	RunE: runTUI,
}

func init() {
	tuiCmd.Flags().DurationVar(&refreshInterval, "refresh", 2*time.Second, "dashboard refresh interval")
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	u, p := GetAuth()
	return tui.Run(tui.Config{
		ServerURL:       GetServerURL(),
		RefreshInterval: refreshInterval,
		User:            u,
		Password:        p,
	})
}
