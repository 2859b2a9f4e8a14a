package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shiprail/rollout/pkg/deploy"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <deployment-id>",
	Short: "Cancel a deployment left in flight by an interrupted engine",
	Long: `Mark an in-flight deployment record as cancelled and free its
(application, environment) slot.

A live rollout is cancelled with Ctrl-C in the terminal running it; this
command is for records a crashed or killed engine left behind, which would
otherwise block the slot forever. Deployments in the monitoring state cannot
be cancelled; the new version is already serving, so roll it back instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
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

	if dep.Status == deploy.StatusMonitoring {
		return fmt.Errorf("%w: deployment %s is monitoring; use rollout rollback instead",
			deploy.ErrInvalidState, dep.ID)
	}

	dep.Error = "cancelled by operator"
	if err := dep.Transition(deploy.StatusCancelled); err != nil {
		return err
	}
	if err := st.Save(dep); err != nil {
		return err
	}
	st.Release(dep.Config.Application, dep.Config.Environment, dep.ID)

	fmt.Printf("⏹  Deployment %s cancelled; %s/%s is free for a new rollout\n",
		dep.ID, dep.Config.Application, dep.Config.Environment)
	return nil
}
