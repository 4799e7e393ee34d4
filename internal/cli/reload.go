package cli

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the server configuration",
	Long: `Send SIGHUP to the running server. It re-reads the config file and
applies the log level, auth settings and scheduler policy without a restart.`,
	RunE: runReload,
}

func init() {
	reloadCmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file path (overrides config)")
	rootCmd.AddCommand(reloadCmd)
}

func runReload(cmd *cobra.Command, args []string) error {
	pid, err := signalServer(syscall.SIGHUP)
	if err != nil {
		return err
	}
	if jsonOut {
		fmt.Printf(`{"status":"reload_requested","pid":%d}`+"\n", pid)
	} else {
		fmt.Printf("Sent SIGHUP to process %d (configuration reload requested)\n", pid)
	}
	return nil
}
