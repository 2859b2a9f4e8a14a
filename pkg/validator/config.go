// Package validator performs pre-flight checks on a rollout configuration
// file, collecting every problem instead of stopping at the first one.
// Structural errors fail validation; risky-but-legal settings surface as
// warnings.
package validator

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/shiprail/rollout/pkg/config"
	"github.com/shiprail/rollout/pkg/deploy"
)

// ConfigValidator validates a rollout configuration
type ConfigValidator struct {
	errors   []string
	warnings []string
}

// New creates a new ConfigValidator
func New() *ConfigValidator {
	return &ConfigValidator{
		errors:   make([]string, 0),
		warnings: make([]string, 0),
	}
}

// ValidateConfig validates a complete configuration
func (v *ConfigValidator) ValidateConfig(cfg *config.Config) error {
	v.errors = make([]string, 0)
	v.warnings = make([]string, 0)

	v.validateApplication(&cfg.Application)
	v.validateStrategy(&cfg.Strategy)

	if cfg.Migration != nil {
		v.validateMigration(cfg.Migration)
	}
	if cfg.Quality != nil {
		v.validateQuality(cfg.Quality)
	}
	if cfg.Triggers != nil {
		v.validateTriggers(cfg.Triggers)
	}
	if cfg.Engine != nil {
		v.validateEngine(cfg.Engine)
	}
	if cfg.Notifications != nil {
		v.validateNotifications(cfg.Notifications)
	}

	if len(v.errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(v.errors, "\n  - "))
	}

	return nil
}

// GetWarnings returns all validation warnings
func (v *ConfigValidator) GetWarnings() []string {
	return v.warnings
}

// validateApplication validates the application section
func (v *ConfigValidator) validateApplication(app *config.ApplicationConfig) {
	if app.Name == "" {
		v.errors = append(v.errors, "application.name is required")
	} else if !isValidName(app.Name) {
		v.errors = append(v.errors, fmt.Sprintf("application.name '%s' contains invalid characters (use alphanumeric, hyphens, underscores)", app.Name))
	}

	if app.Environment == "" {
		v.errors = append(v.errors, "application.environment is required")
	} else if !isValidName(app.Environment) {
		v.errors = append(v.errors, fmt.Sprintf("application.environment '%s' contains invalid characters", app.Environment))
	}

	if app.Image == "" {
		v.errors = append(v.errors, "application.image is required")
	}

	if app.Version == "" {
		v.errors = append(v.errors, "application.version is required")
	}

	if app.Replicas < 1 {
		v.errors = append(v.errors, fmt.Sprintf("application.replicas must be at least 1, got %d", app.Replicas))
	}

	v.checkDuration("application.stageTimeout", app.StageTimeout)
	v.checkDuration("application.monitoringWindow", app.MonitoringWindow)

	if app.StageTimeout == "" {
		v.warnings = append(v.warnings, fmt.Sprintf("application.stageTimeout not set, defaulting to %s", config.DefaultStageTimeout))
	}
	if app.MonitoringWindow == "" {
		v.warnings = append(v.warnings, fmt.Sprintf("application.monitoringWindow not set, defaulting to %s", config.DefaultMonitoringWindow))
	}
}

// validateStrategy validates the strategy section
func (v *ConfigValidator) validateStrategy(strategy *config.StrategyConfig) {
	switch deploy.StrategyKind(strategy.Kind) {
	case deploy.StrategyRolling:
		if strategy.Rolling == nil {
			v.errors = append(v.errors, "strategy.rolling is required for the rolling strategy")
			return
		}
		if strategy.Rolling.MaxSurge < 1 {
			v.errors = append(v.errors, "strategy.rolling.maxSurge must be at least 1")
		}
		if strategy.Rolling.MaxUnavailable < 0 {
			v.errors = append(v.errors, "strategy.rolling.maxUnavailable cannot be negative")
		}
	case deploy.StrategyBlueGreen:
		if strategy.BlueGreen == nil {
			v.errors = append(v.errors, "strategy.blueGreen is required for the blue-green strategy")
			return
		}
		v.checkDuration("strategy.blueGreen.validationTimeout", strategy.BlueGreen.ValidationTimeout)
		v.checkDuration("strategy.blueGreen.healthCheckInterval", strategy.BlueGreen.HealthCheckInterval)
	case deploy.StrategyCanary:
		v.validateCanary(strategy.Canary)
	case deploy.StrategyRecreate:
		v.warnings = append(v.warnings, "strategy 'recreate' causes downtime while the old fleet is stopped")
	case "":
		v.errors = append(v.errors, "strategy.kind is required (rolling, blue-green, canary, recreate)")
	default:
		v.errors = append(v.errors, fmt.Sprintf("strategy.kind '%s' is not recognized (use rolling, blue-green, canary, recreate)", strategy.Kind))
	}
}

// validateCanary validates canary strategy parameters
func (v *ConfigValidator) validateCanary(canary *config.CanaryConfig) {
	if canary == nil {
		v.errors = append(v.errors, "strategy.canary is required for the canary strategy")
		return
	}

	if len(canary.Steps) == 0 {
		v.errors = append(v.errors, "strategy.canary.steps must have at least one step")
		return
	}

	previous := 0
	for i, step := range canary.Steps {
		field := fmt.Sprintf("strategy.canary.steps[%d]", i)
		if step.Traffic < 1 || step.Traffic > 100 {
			v.errors = append(v.errors, fmt.Sprintf("%s.traffic must be 1-100, got %d", field, step.Traffic))
		}
		if step.Traffic <= previous {
			v.errors = append(v.errors, fmt.Sprintf("%s.traffic must be greater than the previous step's %d%%", field, previous))
		}
		previous = step.Traffic
		v.checkDuration(field+".hold", step.Hold)
	}

	if last := canary.Steps[len(canary.Steps)-1].Traffic; last != 100 {
		v.warnings = append(v.warnings, fmt.Sprintf("strategy.canary: last step carries %d%% traffic; the rollout promotes to 100%% after it passes", last))
	}

	if canary.SuccessThreshold < 0 || canary.SuccessThreshold > 10 {
		v.errors = append(v.errors, fmt.Sprintf("strategy.canary.successThreshold must be 0-10, got %g", canary.SuccessThreshold))
	}
}

// validateMigration validates the migration section
func (v *ConfigValidator) validateMigration(migration *config.MigrationConfig) {
	if migration.Version == "" {
		v.errors = append(v.errors, "migration.version is required when a migration is configured")
	}
	if migration.ApplySQL == "" {
		v.errors = append(v.errors, "migration.applySql is required when a migration is configured")
	}
	if migration.RollbackSQL == "" {
		v.warnings = append(v.warnings, "migration.rollbackSql is not set; a rollback will skip the schema change and require manual intervention")
	}
}

// validateQuality validates the quality gate section
func (v *ConfigValidator) validateQuality(quality *config.QualityConfig) {
	if quality.MinScore < 0 || quality.MinScore > 10 {
		v.errors = append(v.errors, fmt.Sprintf("quality.minScore must be 0-10, got %g", quality.MinScore))
	}
	if quality.MinScore == 0 && !quality.RequireCheck {
		v.warnings = append(v.warnings, "quality gate is configured but disabled (minScore 0 and requireCheck false)")
	}
}

// validateTriggers validates the rollback trigger section
func (v *ConfigValidator) validateTriggers(triggers *config.TriggersConfig) {
	if triggers.MaxErrorRate < 0 || triggers.MaxErrorRate > 1 {
		v.errors = append(v.errors, fmt.Sprintf("triggers.maxErrorRate must be 0-1, got %g", triggers.MaxErrorRate))
	}
	if triggers.MinQualityScore < 0 || triggers.MinQualityScore > 10 {
		v.errors = append(v.errors, fmt.Sprintf("triggers.minQualityScore must be 0-10, got %g", triggers.MinQualityScore))
	}
	v.checkDuration("triggers.maxP95Latency", triggers.MaxP95Latency)

	if triggers.MaxErrorRate == 0 && triggers.MaxP95Latency == "" && triggers.MinQualityScore == 0 {
		v.warnings = append(v.warnings, "triggers section is present but sets no thresholds; only health checks will trigger a rollback")
	}
}

// validateEngine validates engine settings
func (v *ConfigValidator) validateEngine(engine *config.EngineConfig) {
	v.checkDuration("engine.probeWindow", engine.ProbeWindow)
	v.checkDuration("engine.monitorInterval", engine.MonitorInterval)
}

// validateNotifications validates notification channel URLs
func (v *ConfigValidator) validateNotifications(n *config.NotificationsConfig) {
	v.checkWebhookURL("notifications.slack", n.Slack)
	v.checkWebhookURL("notifications.discord", n.Discord)
	v.checkWebhookURL("notifications.webhook", n.Webhook)

	if n.Slack == "" && n.Discord == "" && n.Webhook == "" {
		v.warnings = append(v.warnings, "notifications section is present but configures no channels")
	}
}

// checkDuration records an error when value is set but not a valid duration
func (v *ConfigValidator) checkDuration(field, value string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		v.errors = append(v.errors, fmt.Sprintf("%s: '%s' is not a valid duration (use forms like 30s, 5m)", field, value))
		return
	}
	if d <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive, got %s", field, value))
	}
}

// checkWebhookURL records an error when value is set but not an http(s) URL
func (v *ConfigValidator) checkWebhookURL(field, value string) {
	if value == "" {
		return
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s: '%s' is not a valid http(s) URL", field, value))
	}
}

// isValidName checks if a name is usable as an application or environment name
func isValidName(name string) bool {
	match, _ := regexp.MatchString(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`, name)
	return match
}
