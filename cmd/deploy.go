package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiprail/rollout/pkg/deploy"
)

var deployQualityScore float64

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run the configured rollout",
	Long: `Run the rollout described by rollout.yaml from start to finish.

The deployment process:
  1. Resolve the target artifact and evaluate the quality gate
  2. Apply the database migration, if one is configured
  3. Execute the strategy stage by stage with health probing
  4. Watch rollback triggers for the monitoring window
  5. Restore the previous version automatically if anything fails

Press Ctrl-C while stages are executing to cancel; the previous version is
restored before the deployment ends as cancelled.`,
	RunE: runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)
	deployCmd.Flags().Float64Var(&deployQualityScore, "quality-score", 0,
		"Quality score (0-10) reported by the simulated analyzer for the target version; leave unset to model a missing check")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, err := loadRolloutConfig()
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, deployQualityScore)
	if err != nil {
		return err
	}
	defer eng.close()

	dc, err := cfg.DeploymentConfig()
	if err != nil {
		return err
	}

	fmt.Printf("🚀 Deploying %s %s to %s (%s strategy, %d replicas)\n\n",
		dc.Application, dc.TargetVersion, dc.Environment, dc.Strategy.Kind, dc.Replicas)

	ctx := context.Background()
	id, err := eng.orchestrator.RequestDeployment(ctx, dc)
	if err != nil {
		return fmt.Errorf("deployment rejected: %w", err)
	}
	fmt.Printf("Deployment ID: %s\n\n", id)

	// Ctrl-C cancels the rollout; the engine restores the previous version.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\n⏹  Cancelling deployment...")
		if err := eng.orchestrator.Cancel(ctx, id); err != nil {
			fmt.Fprintln(os.Stderr, "Cancel failed:", err)
		}
	}()

	watchDeployment(eng, id)
	eng.orchestrator.Wait(id)

	final, err := eng.orchestrator.GetDeployment(id)
	if err != nil {
		return err
	}
	return printOutcome(final)
}

// watchDeployment prints status transitions and stage results as they land,
// returning once the deployment is terminal.
func watchDeployment(eng *engine, id string) {
	lastStatus := deploy.Status("")
	stagesSeen := 0

	for {
		dep, err := eng.orchestrator.GetDeployment(id)
		if err != nil {
			return
		}

		if dep.Status != lastStatus {
			fmt.Printf("→ %s\n", strings.ToUpper(string(dep.Status)))
			lastStatus = dep.Status
		}

		for ; stagesSeen < len(dep.Stages); stagesSeen++ {
			stage := dep.Stages[stagesSeen]
			marker := "✓"
			if stage.Outcome != deploy.StagePassed {
				marker = "✗"
			}
			line := fmt.Sprintf("  %s %s", marker, stage.Name)
			if stage.Health != nil {
				line += fmt.Sprintf(" (health: %s, error rate: %.2f%%)",
					stage.Health.Status, stage.Health.ErrorRate*100)
			}
			if stage.QualityScore != nil {
				line += fmt.Sprintf(" (score: %.1f)", *stage.QualityScore)
			}
			if stage.Reason != "" {
				line += fmt.Sprintf(" (%s)", stage.Reason)
			}
			fmt.Println(line)
		}

		if dep.Status.IsTerminal() {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func printOutcome(dep *deploy.Deployment) error {
	duration := ""
	if dep.EndedAt != nil {
		duration = fmt.Sprintf(" in %s", dep.EndedAt.Sub(dep.StartedAt).Round(time.Millisecond))
	}

	fmt.Println()
	for _, warning := range dep.Warnings {
		fmt.Printf("⚠️  %s\n", warning)
	}

	switch dep.Status {
	case deploy.StatusSucceeded:
		fmt.Printf("✅ Deployment %s succeeded%s: %s now serves %s\n",
			dep.ID, duration, dep.Config.Application, dep.TargetVersion)
		return nil
	case deploy.StatusRolledBack:
		fmt.Printf("↩️  Deployment %s rolled back%s: %s restored\n", dep.ID, duration, dep.PreviousVersion)
		if dep.Error != "" {
			fmt.Printf("   Cause: %s\n", dep.Error)
		}
		return fmt.Errorf("deployment rolled back")
	case deploy.StatusCancelled:
		fmt.Printf("⏹  Deployment %s cancelled%s\n", dep.ID, duration)
		return fmt.Errorf("deployment cancelled")
	case deploy.StatusRollbackFailed:
		fmt.Printf("🚨 Deployment %s failed AND rollback failed%s, manual intervention required\n", dep.ID, duration)
		if dep.Error != "" {
			fmt.Printf("   Cause: %s\n", dep.Error)
		}
		return fmt.Errorf("rollback failed")
	default:
		fmt.Printf("❌ Deployment %s failed%s\n", dep.ID, duration)
		if dep.Error != "" {
			fmt.Printf("   Cause: %s\n", dep.Error)
		}
		return fmt.Errorf("deployment failed")
	}
}
