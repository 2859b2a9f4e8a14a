package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shiprail/rollout/pkg/telemetry"
)

var (
	cfgFile string
	verbose bool
	// Version, GitCommit, and BuildTime are set via ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Staged deployment orchestration with automatic rollback",
	Long: `Rollout drives application deployments through staged strategies
(rolling, blue-green, canary, recreate) with health probing at every stage,
a pre-deploy quality gate, and automatic restoration of the previous version
when anything goes wrong.

Deployments run against a simulated control plane, which makes rollout a
rehearsal and verification tool for deployment plans: the full state machine,
probes, triggers, and rollback paths execute exactly as they would against a
real platform.`,
	Version: Version,
}

// GetVersionInfo returns formatted version information
func GetVersionInfo() string {
	info := fmt.Sprintf("rollout %s", Version)
	if GitCommit != "unknown" && GitCommit != "" {
		info += fmt.Sprintf(" (commit: %s)", GitCommit)
	}
	if BuildTime != "unknown" && BuildTime != "" {
		info += fmt.Sprintf("\nBuilt: %s", BuildTime)
	}
	return info
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := telemetry.Init(telemetry.DefaultConfig()); err != nil && verbose {
		fmt.Fprintln(os.Stderr, "Warning: tracing disabled:", err)
	}

	err := rootCmd.Execute()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	telemetry.Shutdown(shutdownCtx)
	cancel()

	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.SetVersionTemplate(fmt.Sprintf(`rollout {{.Version}}
Commit:  %s
Built:   %s
`, GitCommit, BuildTime))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./rollout.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// findEnvFile searches for .env file in current directory and parent directories
func findEnvFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Search up to 10 levels up
	for i := 0; i < 10; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	envFile := findEnvFile()
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("rollout")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ROLLOUT")

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
