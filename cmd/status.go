package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiprail/rollout/pkg/deploy"
)

var statusCmd = &cobra.Command{
	Use:   "status <deployment-id>",
	Short: "Show the full record of a deployment",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadRolloutConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	dep, err := st.Get(args[0])
	if err != nil {
		return err
	}

	printDeployment(dep)
	return nil
}

func printDeployment(dep *deploy.Deployment) {
	fmt.Printf("\nDeployment %s\n", dep.ID)
	fmt.Println(strings.Repeat("─", 72))
	fmt.Printf("%-18s %s/%s\n", "Target:", dep.Config.Application, dep.Config.Environment)
	fmt.Printf("%-18s %s", "Version:", dep.TargetVersion)
	if dep.PreviousVersion != "" {
		fmt.Printf(" (previous: %s)", dep.PreviousVersion)
	}
	fmt.Println()
	fmt.Printf("%-18s %s\n", "Strategy:", dep.Config.Strategy.Kind)
	fmt.Printf("%-18s %s\n", "Status:", formatStatus(dep.Status))
	fmt.Printf("%-18s %s\n", "Started:", dep.StartedAt.Format("2006-01-02 15:04:05"))
	if dep.EndedAt != nil {
		fmt.Printf("%-18s %s (%s)\n", "Ended:",
			dep.EndedAt.Format("2006-01-02 15:04:05"),
			dep.EndedAt.Sub(dep.StartedAt).Round(time.Millisecond))
	}
	if dep.RollbackOf != "" {
		fmt.Printf("%-18s %s\n", "Rollback of:", dep.RollbackOf)
	}
	if dep.Error != "" {
		fmt.Printf("%-18s %s\n", "Error:", dep.Error)
	}

	if len(dep.Stages) > 0 {
		fmt.Println("\nStages:")
		for _, stage := range dep.Stages {
			line := fmt.Sprintf("  %2d. %-24s %s", stage.Index+1, stage.Name, stage.Outcome)
			if stage.Health != nil {
				line += fmt.Sprintf("  health=%s p95=%s", stage.Health.Status, stage.Health.P95Latency.Round(time.Millisecond))
			}
			if stage.QualityScore != nil {
				line += fmt.Sprintf("  score=%.1f", *stage.QualityScore)
			}
			if stage.Reason != "" {
				line += "  " + stage.Reason
			}
			fmt.Println(line)
		}
	}

	if trig := dep.Trigger; trig != nil {
		fmt.Println("\nRollback trigger:")
		fmt.Printf("  opened %s", trig.OpenedAt.Format("15:04:05"))
		if trig.ClosedAt != nil {
			fmt.Printf(", closed %s", trig.ClosedAt.Format("15:04:05"))
		}
		fmt.Println()
		if trig.Breach != "" {
			fmt.Printf("  breached: %s\n", trig.Breach)
		}
	}

	for _, warning := range dep.Warnings {
		fmt.Printf("\n⚠️  %s\n", warning)
	}
	fmt.Println()
}

func formatStatus(status deploy.Status) string {
	switch status {
	case deploy.StatusSucceeded:
		return "✅ " + string(status)
	case deploy.StatusFailed, deploy.StatusRollbackFailed:
		return "❌ " + string(status)
	case deploy.StatusRolledBack:
		return "↩️  " + string(status)
	case deploy.StatusCancelled:
		return "⏹  " + string(status)
	default:
		return "🔄 " + string(status)
	}
}
