package cli

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/haskel/petmood/internal/backend"
	"github.com/haskel/petmood/internal/retrain"
	"github.com/haskel/petmood/internal/rollback"
	"github.com/haskel/petmood/internal/server"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List registered versions available for rollback",
	RunE:  runVersions,
}

var rollbackReason string

var rollbackCmd = &cobra.Command{
	Use:   "rollback <version-id>",
	Short: "Make a registered model version active again",
	Long: `Roll the active model back to a registered version. The current artifact
is backed up first and restored if any later step fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

var activateCmd = &cobra.Command{
	Use:   "activate <version>",
	Short: "Activate a trained candidate, e.g. the recommended version",
	Args:  cobra.ExactArgs(1),
	RunE:  runActivate,
}

var cleanupKeep int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-backups",
	Short: "Delete old artifact backups, keeping the most recent",
	RunE:  runCleanup,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "reason recorded in the registry")
	cleanupCmd.Flags().IntVar(&cleanupKeep, "keep", -1, "backups to keep (default from server config)")
	rootCmd.AddCommand(versionsCmd, rollbackCmd, activateCmd, cleanupCmd)
}

func runVersions(cmd *cobra.Command, args []string) error {
	env, raw, err := NewClient().Call(http.MethodGet, "/v1/models/versions", nil)
	if err != nil {
		return fmt.Errorf("failed to list versions: %w", err)
	}
	if pretty, err := emit(env, raw); !pretty {
		return err
	}

	var versions []backend.ModelVersion
	if err := decodeData(env, &versions); err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Println("No rollback candidates registered")
		return nil
	}

	fmt.Println(tableHdStyle.Render(fmt.Sprintf("%6s  %-10s  %8s  %8s  %7s  %s",
		"ID", "VERSION", "ACCURACY", "F1", "SAMPLES", "DESCRIPTION")))
	for _, v := range versions {
		fmt.Printf("%6d  %-10s  %8.4f  %8.4f  %7d  %s\n",
			v.ID, v.Version, v.ValidationAccuracy, v.F1Score, v.FeedbackSampleCount, v.Description)
	}
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid version id: %s", args[0])
	}

	env, raw, err := NewClient().Call(http.MethodPost, "/v1/models/rollback", server.RollbackRequest{
		VersionID: id,
		Reason:    rollbackReason,
	})
	if err != nil {
		return fmt.Errorf("failed to roll back: %w", err)
	}
	if pretty, err := emit(env, raw); !pretty {
		return err
	}

	var res rollback.Result
	if err := decodeData(env, &res); err != nil {
		return err
	}
	result(res.Success, res.Message)
	if verbose {
		for _, s := range res.Steps {
			fmt.Printf("  %s %s\n", labelStyle.Render("step"), s)
		}
	}
	if res.BackupPath != "" {
		field("Backup", res.BackupPath)
	}
	if res.Inconsistent {
		fmt.Println(failStyle.Render("  registry and artifact may be out of sync"))
	}
	if !res.Success {
		return fmt.Errorf("rollback failed: %s", res.Message)
	}
	return nil
}

func runActivate(cmd *cobra.Command, args []string) error {
	env, raw, err := NewClient().Call(http.MethodPost, "/v1/models/activate", server.ActivateRequest{VersionID: args[0]})
	if err != nil {
		return fmt.Errorf("failed to activate: %w", err)
	}
	if pretty, err := emit(env, raw); !pretty {
		return err
	}

	var res retrain.ActivationResult
	if err := decodeData(env, &res); err != nil {
		return err
	}
	result(true, env.Message)
	field("Previous", orDash(res.PreviousVersionID))
	field("Backup", orDash(res.BackupPath))
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	var body any
	if cleanupKeep >= 0 {
		body = server.CleanupRequest{Keep: &cleanupKeep}
	}

	env, raw, err := NewClient().Call(http.MethodPost, "/v1/models/backups/cleanup", body)
	if err != nil {
		return fmt.Errorf("failed to clean up backups: %w", err)
	}
	if pretty, err := emit(env, raw); !pretty {
		return err
	}
	result(env.Success, env.Message)
	return nil
}
