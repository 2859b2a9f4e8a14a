package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployments that are still in flight",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadRolloutConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	active := st.ListActive()
	if len(active) == 0 {
		fmt.Println("No active deployments")
		return nil
	}

	fmt.Printf("\n🔄 Active Deployments\n\n")
	fmt.Println(strings.Repeat("─", 100))
	fmt.Printf("%-38s %-14s %-12s %-12s %-14s %s\n",
		"ID", "APP/ENV", "VERSION", "STATUS", "STAGE", "STARTED")
	fmt.Println(strings.Repeat("─", 100))

	for _, dep := range active {
		stage := "-"
		if len(dep.Stages) > 0 {
			stage = dep.Stages[len(dep.Stages)-1].Name
		}
		fmt.Printf("%-38s %-14s %-12s %-12s %-14s %s\n",
			dep.ID,
			dep.Config.Application+"/"+dep.Config.Environment,
			dep.TargetVersion,
			dep.Status,
			stage,
			dep.StartedAt.Format("15:04:05"),
		)
	}

	fmt.Println(strings.Repeat("─", 100))
	fmt.Println()
	return nil
}
