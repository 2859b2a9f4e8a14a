package validator

import (
	"strings"
	"testing"

	"github.com/shiprail/rollout/pkg/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Application: config.ApplicationConfig{
			Name:             "web",
			Environment:      "production",
			Image:            "registry.local/web",
			Version:          "v2.0.0",
			Replicas:         4,
			StageTimeout:     "2m",
			MonitoringWindow: "10m",
		},
		Strategy: config.StrategyConfig{
			Kind: "rolling",
			Rolling: &config.RollingConfig{
				MaxSurge:       1,
				MaxUnavailable: 0,
			},
		},
	}
}

func TestValidConfigPasses(t *testing.T) {
	v := New()
	if err := v.ValidateConfig(validConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if len(v.GetWarnings()) != 0 {
		t.Errorf("expected no warnings, got %v", v.GetWarnings())
	}
}

func TestValidationCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Application.Name = ""
	cfg.Application.Image = ""
	cfg.Application.Replicas = 0

	err := New().ValidateConfig(cfg)
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	for _, want := range []string{"application.name is required", "application.image is required", "application.replicas"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got:\n%v", want, err)
		}
	}
}

func TestInvalidName(t *testing.T) {
	cfg := validConfig()
	cfg.Application.Name = "web app!"

	err := New().ValidateConfig(cfg)
	if err == nil || !strings.Contains(err.Error(), "invalid characters") {
		t.Fatalf("expected invalid name error, got %v", err)
	}
}

func TestUnknownStrategyKind(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy = config.StrategyConfig{Kind: "yolo"}

	err := New().ValidateConfig(cfg)
	if err == nil || !strings.Contains(err.Error(), "not recognized") {
		t.Fatalf("expected unknown strategy error, got %v", err)
	}
}

func TestRollingZeroSurgeRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.Rolling = &config.RollingConfig{}

	err := New().ValidateConfig(cfg)
	if err == nil || !strings.Contains(err.Error(), "maxSurge must be at least 1") {
		t.Fatalf("expected maxSurge error, got %v", err)
	}
}

func TestCanaryStepsMustIncrease(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy = config.StrategyConfig{
		Kind: "canary",
		Canary: &config.CanaryConfig{
			SuccessThreshold: 7,
			Steps: []config.CanaryStepConfig{
				{Traffic: 50, Hold: "30s"},
				{Traffic: 25, Hold: "30s"},
			},
		},
	}

	err := New().ValidateConfig(cfg)
	if err == nil || !strings.Contains(err.Error(), "greater than the previous step") {
		t.Fatalf("expected non-increasing steps error, got %v", err)
	}
}

func TestCanaryLastStepWarning(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy = config.StrategyConfig{
		Kind: "canary",
		Canary: &config.CanaryConfig{
			SuccessThreshold: 7,
			Steps: []config.CanaryStepConfig{
				{Traffic: 10, Hold: "30s"},
				{Traffic: 50, Hold: "30s"},
			},
		},
	}

	v := New()
	if err := v.ValidateConfig(cfg); err != nil {
		t.Fatalf("expected config to pass with a warning, got %v", err)
	}
	if len(v.GetWarnings()) == 0 {
		t.Fatal("expected a warning about the last canary step")
	}
}

func TestMissingInverseMigrationWarns(t *testing.T) {
	cfg := validConfig()
	cfg.Migration = &config.MigrationConfig{
		Version:  "42",
		ApplySQL: "ALTER TABLE orders ADD COLUMN region TEXT",
	}

	v := New()
	if err := v.ValidateConfig(cfg); err != nil {
		t.Fatalf("expected config to pass, got %v", err)
	}
	found := false
	for _, w := range v.GetWarnings() {
		if strings.Contains(w, "rollbackSql") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected rollbackSql warning, got %v", v.GetWarnings())
	}
}

func TestBadDurationRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Application.StageTimeout = "soon"

	err := New().ValidateConfig(cfg)
	if err == nil || !strings.Contains(err.Error(), "not a valid duration") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestTriggerBoundsChecked(t *testing.T) {
	cfg := validConfig()
	cfg.Triggers = &config.TriggersConfig{
		MaxErrorRate:    1.5,
		MinQualityScore: 11,
	}

	err := New().ValidateConfig(cfg)
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	if !strings.Contains(err.Error(), "maxErrorRate") || !strings.Contains(err.Error(), "minQualityScore") {
		t.Errorf("expected both trigger bounds in error, got %v", err)
	}
}

func TestBadWebhookURLRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Notifications = &config.NotificationsConfig{Slack: "not a url"}

	err := New().ValidateConfig(cfg)
	if err == nil || !strings.Contains(err.Error(), "notifications.slack") {
		t.Fatalf("expected webhook URL error, got %v", err)
	}
}
