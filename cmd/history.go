package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiprail/rollout/internal/store"
	"github.com/shiprail/rollout/pkg/deploy"
)

var (
	historyApp    string
	historyEnv    string
	historyLimit  int
	historyStatus string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View deployment history",
	Long: `View recorded deployments, newest first.

Every rollout attempt is kept as an immutable record, including the ones
that failed, rolled back, or were cancelled. Restoration runs appear as
their own records pointing back at the deployment they reverted.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyApp, "app", "", "Filter by application")
	historyCmd.Flags().StringVarP(&historyEnv, "env", "e", "", "Filter by environment")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of deployments to show")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by status (succeeded, failed, rolled_back, cancelled)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadRolloutConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	opts := store.HistoryOptions{
		Application: historyApp,
		Environment: historyEnv,
		Limit:       historyLimit,
	}
	if historyStatus != "" {
		opts.Status = deploy.Status(historyStatus)
	}

	deployments := st.History(opts)
	if len(deployments) == 0 {
		fmt.Println("No deployments found")
		return nil
	}

	fmt.Printf("\n📋 Deployment History\n\n")
	fmt.Println(strings.Repeat("─", 110))
	fmt.Printf("%-38s %-14s %-12s %-10s %-16s %-10s %-10s\n",
		"ID", "APP/ENV", "VERSION", "STRATEGY", "STATUS", "STARTED", "DURATION")
	fmt.Println(strings.Repeat("─", 110))

	for _, dep := range deployments {
		target := dep.Config.Application + "/" + dep.Config.Environment
		duration := "-"
		if dep.EndedAt != nil {
			duration = dep.EndedAt.Sub(dep.StartedAt).Round(time.Second).String()
		}

		fmt.Printf("%-38s %-14s %-12s %-10s %-16s %-10s %-10s\n",
			dep.ID,
			target,
			dep.TargetVersion,
			dep.Config.Strategy.Kind,
			dep.Status,
			dep.StartedAt.Format("15:04:05"),
			duration,
		)

		if dep.RollbackOf != "" {
			fmt.Printf("    ↩️  restores %s after %s\n", dep.TargetVersion, dep.RollbackOf)
		}
		if dep.Status == deploy.StatusFailed && dep.Error != "" {
			fmt.Printf("    Error: %s\n", dep.Error)
		}
	}

	fmt.Println(strings.Repeat("─", 110))
	fmt.Printf("\nShowing %d deployment(s). Use --limit to show more.\n", len(deployments))
	fmt.Printf("For the full record of one deployment: rollout status <deployment-id>\n\n")

	return nil
}
