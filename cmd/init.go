package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter rollout.yaml in the current directory",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

const starterConfig = `application:
  name: web
  environment: production
  image: registry.example.com/web:${VERSION}
  version: ${VERSION}
  replicas: 4
  stageTimeout: 5m
  monitoringWindow: 10m

strategy:
  kind: canary
  canary:
    successThreshold: 7.0
    steps:
      - traffic: 10
        hold: 1m
      - traffic: 50
        hold: 2m
      - traffic: 100
        hold: 2m

quality:
  minScore: 7.0
  requireCheck: true

triggers:
  maxErrorRate: 0.05
  maxP95Latency: 500ms

engine:
  stateDir: .rollout/state

# notifications:
#   slack: ${SLACK_WEBHOOK_URL}
`

func runInit(cmd *cobra.Command, args []string) error {
	path := "rollout.yaml"
	if cfgFile != "" {
		path = cfgFile
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}

	if err := os.WriteFile(path, []byte(starterConfig), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Printf("✅ Created %s\n", path)
	fmt.Println("Edit it for your application, then run: rollout validate")
	return nil
}
