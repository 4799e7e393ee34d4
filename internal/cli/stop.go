package cli

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running petmood server",
	Long: `Send SIGTERM to the process in the PID file. A cycle in progress is
allowed to finish its current step before the server exits.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file path (overrides config)")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pid, err := signalServer(syscall.SIGTERM)
	if err != nil {
		return err
	}
	if jsonOut {
		fmt.Printf(`{"status":"stopped","pid":%d}`+"\n", pid)
	} else {
		fmt.Printf("Sent SIGTERM to process %d\n", pid)
	}
	return nil
}
