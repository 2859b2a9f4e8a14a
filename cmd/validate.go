package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shiprail/rollout/pkg/config"
	"github.com/shiprail/rollout/pkg/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the rollout configuration without deploying",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	v := validator.New()
	if err := v.ValidateConfig(cfg); err != nil {
		return err
	}

	for _, warning := range v.GetWarnings() {
		fmt.Printf("⚠️  %s\n", warning)
	}

	// Resolving into the engine config catches what the file-level checks
	// cannot, e.g. strategy parameter combinations.
	if _, err := cfg.DeploymentConfig(); err != nil {
		return err
	}

	fmt.Printf("✅ Configuration is valid: %s %s → %s (%s)\n",
		cfg.Application.Name, cfg.Application.Version, cfg.Application.Environment, cfg.Strategy.Kind)
	return nil
}
