// Package config loads and resolves rollout.yaml: the declarative description
// of one application rollout plus engine and notification settings. Durations
// are written as strings ("30s", "5m") and resolved into the engine's
// deployment config.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shiprail/rollout/pkg/deploy"
	"github.com/shiprail/rollout/pkg/notification"
)

// Defaults applied when the file leaves a setting out.
const (
	DefaultStageTimeout     = 5 * time.Minute
	DefaultMonitoringWindow = 10 * time.Minute
	DefaultProbeWindow      = 10 * time.Second
	DefaultMonitorInterval  = 5 * time.Second
)

// Config represents the rollout configuration file
type Config struct {
	Application   ApplicationConfig    `yaml:"application"`
	Strategy      StrategyConfig       `yaml:"strategy"`
	Migration     *MigrationConfig     `yaml:"migration,omitempty"`
	Quality       *QualityConfig       `yaml:"quality,omitempty"`
	Triggers      *TriggersConfig      `yaml:"triggers,omitempty"`
	Engine        *EngineConfig        `yaml:"engine,omitempty"`
	Notifications *NotificationsConfig `yaml:"notifications,omitempty"`
}

// ApplicationConfig identifies what is being deployed and where
type ApplicationConfig struct {
	Name             string `yaml:"name"`
	Environment      string `yaml:"environment"`
	Image            string `yaml:"image"`
	Version          string `yaml:"version"`
	Replicas         int    `yaml:"replicas"`
	StageTimeout     string `yaml:"stageTimeout,omitempty"`     // e.g. "5m"
	MonitoringWindow string `yaml:"monitoringWindow,omitempty"` // e.g. "10m"
}

// StrategyConfig selects and parameterizes the rollout strategy
type StrategyConfig struct {
	Kind      string           `yaml:"kind"` // rolling, blue-green, canary, recreate
	Rolling   *RollingConfig   `yaml:"rolling,omitempty"`
	BlueGreen *BlueGreenConfig `yaml:"blueGreen,omitempty"`
	Canary    *CanaryConfig    `yaml:"canary,omitempty"`
}

// RollingConfig defines rolling strategy parameters
type RollingConfig struct {
	MaxSurge       int `yaml:"maxSurge"`
	MaxUnavailable int `yaml:"maxUnavailable"`
}

// BlueGreenConfig defines blue-green strategy parameters
type BlueGreenConfig struct {
	ValidationTimeout   string `yaml:"validationTimeout"`   // e.g. "2m"
	HealthCheckInterval string `yaml:"healthCheckInterval"` // e.g. "10s"
}

// CanaryConfig defines canary strategy parameters
type CanaryConfig struct {
	Steps            []CanaryStepConfig `yaml:"steps"`
	SuccessThreshold float64            `yaml:"successThreshold"`
}

// CanaryStepConfig is one traffic increment of a canary rollout
type CanaryStepConfig struct {
	Traffic int    `yaml:"traffic"` // percent
	Hold    string `yaml:"hold"`    // e.g. "60s"
}

// MigrationConfig defines the schema change shipped with the rollout
type MigrationConfig struct {
	Version     string `yaml:"version"`
	ApplySQL    string `yaml:"applySql"`
	RollbackSQL string `yaml:"rollbackSql,omitempty"`
}

// QualityConfig defines the pre-deploy quality gate
type QualityConfig struct {
	MinScore     float64 `yaml:"minScore"`
	RequireCheck bool    `yaml:"requireCheck"`
}

// TriggersConfig defines the post-deploy rollback trigger thresholds
type TriggersConfig struct {
	MaxErrorRate    float64 `yaml:"maxErrorRate,omitempty"`
	MaxP95Latency   string  `yaml:"maxP95Latency,omitempty"` // e.g. "500ms"
	MinQualityScore float64 `yaml:"minQualityScore,omitempty"`
}

// EngineConfig defines engine-level settings
type EngineConfig struct {
	StateDir        string `yaml:"stateDir,omitempty"`        // deployment record persistence
	AuditDir        string `yaml:"auditDir,omitempty"`        // audit JSONL files
	ProbeWindow     string `yaml:"probeWindow,omitempty"`     // e.g. "10s"
	MonitorInterval string `yaml:"monitorInterval,omitempty"` // e.g. "5s"
}

// NotificationsConfig defines notification channels
type NotificationsConfig struct {
	Slack   string `yaml:"slack,omitempty"`   // Slack webhook URL
	Discord string `yaml:"discord,omitempty"` // Discord webhook URL
	Webhook string `yaml:"webhook,omitempty"` // Generic webhook URL
}

// expandEnvWithTrim expands environment variables and trims their values
func expandEnvWithTrim(s string) string {
	return os.Expand(s, func(key string) string {
		return strings.TrimSpace(os.Getenv(key))
	})
}

// LoadConfig loads the configuration from a YAML file
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "rollout.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	// A .env next to the config file feeds the ${VAR} expansion below.
	if idx := strings.LastIndexAny(configPath, "/\\"); idx >= 0 {
		loadDotEnv(configPath[:idx] + "/.env")
	} else {
		loadDotEnv(".env")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvWithTrim(string(data))

	var config Config
	decoder := yaml.NewDecoder(strings.NewReader(expandedData))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	envVars, err := LoadEnvFile(path)
	if err != nil {
		return
	}
	for key, value := range envVars {
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
}

// DeploymentConfig resolves the file into the engine's deployment config,
// applying defaults and parsing duration strings. The result has already
// passed the engine's own validation.
func (c *Config) DeploymentConfig() (deploy.Config, error) {
	stageTimeout, err := durationOrDefault(c.Application.StageTimeout, DefaultStageTimeout, "application.stageTimeout")
	if err != nil {
		return deploy.Config{}, err
	}
	window, err := durationOrDefault(c.Application.MonitoringWindow, DefaultMonitoringWindow, "application.monitoringWindow")
	if err != nil {
		return deploy.Config{}, err
	}

	cfg := deploy.Config{
		Application:      c.Application.Name,
		Environment:      c.Application.Environment,
		Replicas:         c.Application.Replicas,
		Image:            c.Application.Image,
		TargetVersion:    c.Application.Version,
		StageTimeout:     stageTimeout,
		MonitoringWindow: window,
	}

	cfg.Strategy, err = c.Strategy.resolve()
	if err != nil {
		return deploy.Config{}, err
	}

	if c.Migration != nil {
		cfg.Migration = &deploy.MigrationSpec{
			Version:     c.Migration.Version,
			ApplySQL:    c.Migration.ApplySQL,
			RollbackSQL: c.Migration.RollbackSQL,
		}
	}
	if c.Quality != nil {
		cfg.Quality = deploy.QualityThresholds{
			MinScore:     c.Quality.MinScore,
			RequireCheck: c.Quality.RequireCheck,
		}
	}
	if c.Triggers != nil {
		p95, err := durationOrDefault(c.Triggers.MaxP95Latency, 0, "triggers.maxP95Latency")
		if err != nil {
			return deploy.Config{}, err
		}
		cfg.Triggers = deploy.TriggerThresholds{
			MaxErrorRate:    c.Triggers.MaxErrorRate,
			MaxP95Latency:   p95,
			MinQualityScore: c.Triggers.MinQualityScore,
		}
	}

	if err := cfg.Validate(); err != nil {
		return deploy.Config{}, err
	}
	return cfg, nil
}

func (s *StrategyConfig) resolve() (deploy.StrategyParams, error) {
	params := deploy.StrategyParams{Kind: deploy.StrategyKind(s.Kind)}

	switch params.Kind {
	case deploy.StrategyRolling:
		if s.Rolling == nil {
			return params, fmt.Errorf("strategy.rolling is required for the rolling strategy")
		}
		params.Rolling = &deploy.RollingParams{
			MaxSurge:       s.Rolling.MaxSurge,
			MaxUnavailable: s.Rolling.MaxUnavailable,
		}
	case deploy.StrategyBlueGreen:
		if s.BlueGreen == nil {
			return params, fmt.Errorf("strategy.blueGreen is required for the blue-green strategy")
		}
		timeout, err := durationOrDefault(s.BlueGreen.ValidationTimeout, 0, "strategy.blueGreen.validationTimeout")
		if err != nil {
			return params, err
		}
		interval, err := durationOrDefault(s.BlueGreen.HealthCheckInterval, 0, "strategy.blueGreen.healthCheckInterval")
		if err != nil {
			return params, err
		}
		params.BlueGreen = &deploy.BlueGreenParams{
			ValidationTimeout:   timeout,
			HealthCheckInterval: interval,
		}
	case deploy.StrategyCanary:
		if s.Canary == nil {
			return params, fmt.Errorf("strategy.canary is required for the canary strategy")
		}
		canary := &deploy.CanaryParams{SuccessThreshold: s.Canary.SuccessThreshold}
		for i, step := range s.Canary.Steps {
			hold, err := durationOrDefault(step.Hold, 0, fmt.Sprintf("strategy.canary.steps[%d].hold", i))
			if err != nil {
				return params, err
			}
			canary.Steps = append(canary.Steps, deploy.CanaryStep{
				TrafficPercent: step.Traffic,
				HoldDuration:   hold,
			})
		}
		params.Canary = canary
	case deploy.StrategyRecreate:
		// no parameters
	}
	return params, nil
}

// EngineSettings resolves the engine section with defaults applied.
type EngineSettings struct {
	StateDir        string
	AuditDir        string
	ProbeWindow     time.Duration
	MonitorInterval time.Duration
}

// EngineSettings returns the resolved engine settings.
func (c *Config) EngineSettings() (EngineSettings, error) {
	settings := EngineSettings{
		ProbeWindow:     DefaultProbeWindow,
		MonitorInterval: DefaultMonitorInterval,
	}
	if c.Engine == nil {
		return settings, nil
	}
	settings.StateDir = c.Engine.StateDir
	settings.AuditDir = c.Engine.AuditDir

	var err error
	settings.ProbeWindow, err = durationOrDefault(c.Engine.ProbeWindow, DefaultProbeWindow, "engine.probeWindow")
	if err != nil {
		return settings, err
	}
	settings.MonitorInterval, err = durationOrDefault(c.Engine.MonitorInterval, DefaultMonitorInterval, "engine.monitorInterval")
	if err != nil {
		return settings, err
	}
	return settings, nil
}

// NotifierConfig maps the notifications section to the notifier's config.
func (c *Config) NotifierConfig() notification.NotifierConfig {
	if c.Notifications == nil {
		return notification.NotifierConfig{}
	}
	return notification.NotifierConfig{
		SlackWebhook:   c.Notifications.Slack,
		DiscordWebhook: c.Notifications.Discord,
		Webhook:        c.Notifications.Webhook,
	}
}

func durationOrDefault(value string, fallback time.Duration, field string) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	return d, nil
}
