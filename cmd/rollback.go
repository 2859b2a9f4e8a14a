package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <deployment-id>",
	Short: "Roll back a succeeded deployment to its previous version",
	Long: `Restore the version that was serving before the given deployment.

The deployment must have succeeded; in-flight deployments are rolled back by
cancelling them instead (Ctrl-C during rollout deploy). The restoration runs
as its own deployment record pointing back at the one it reverts.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	cfg, err := loadRolloutConfig()
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, 0)
	if err != nil {
		return err
	}
	defer eng.close()

	dep, err := eng.store.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("↩️  Rolling back %s: restoring %s for %s/%s\n",
		dep.ID, dep.PreviousVersion, dep.Config.Application, dep.Config.Environment)

	recordID, err := eng.orchestrator.Rollback(context.Background(), dep.ID)
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	record, err := eng.store.Get(recordID)
	if err != nil {
		return err
	}
	for _, warning := range record.Warnings {
		fmt.Printf("⚠️  %s\n", warning)
	}
	fmt.Printf("✅ Restored %s (restoration record: %s)\n", record.TargetVersion, record.ID)
	return nil
}
