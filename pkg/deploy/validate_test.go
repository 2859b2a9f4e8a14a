package deploy

import (
	"errors"
	"testing"
	"time"
)

func baseConfig() Config {
	return Config{
		Application:   "web",
		Environment:   "production",
		Replicas:      4,
		Image:         "registry.local/web",
		TargetVersion: "v2",
		StageTimeout:  time.Minute,
		Strategy: StrategyParams{
			Kind:    StrategyRolling,
			Rolling: &RollingParams{MaxSurge: 1, MaxUnavailable: 0},
		},
	}
}

func TestValidateAcceptsBaseConfig(t *testing.T) {
	cfg := baseConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing application", func(c *Config) { c.Application = "" }, "application"},
		{"missing environment", func(c *Config) { c.Environment = "" }, "environment"},
		{"missing image", func(c *Config) { c.Image = "" }, "image"},
		{"missing version", func(c *Config) { c.TargetVersion = "" }, "targetVersion"},
		{"zero replicas", func(c *Config) { c.Replicas = 0 }, "replicas"},
		{"zero stage timeout", func(c *Config) { c.StageTimeout = 0 }, "stageTimeout"},
		{"quality score out of range", func(c *Config) { c.Quality.MinScore = 11 }, "quality.minScore"},
		{"unknown strategy", func(c *Config) { c.Strategy = StrategyParams{Kind: "yolo"} }, "strategy.kind"},
		{"rolling without params", func(c *Config) { c.Strategy.Rolling = nil }, "strategy.rolling"},
		{"rolling zero surge", func(c *Config) { c.Strategy.Rolling.MaxSurge = 0 }, "strategy.rolling.maxSurge"},
		{"rolling unavailable too high", func(c *Config) { c.Strategy.Rolling.MaxUnavailable = 4 }, "strategy.rolling.maxUnavailable"},
		{"blue-green without params", func(c *Config) {
			c.Strategy = StrategyParams{Kind: StrategyBlueGreen}
		}, "strategy.blueGreen"},
		{"blue-green interval exceeds timeout", func(c *Config) {
			c.Strategy = StrategyParams{Kind: StrategyBlueGreen, BlueGreen: &BlueGreenParams{
				ValidationTimeout:   10 * time.Second,
				HealthCheckInterval: time.Minute,
			}}
		}, "strategy.blueGreen.healthCheckInterval"},
		{"canary without steps", func(c *Config) {
			c.Strategy = StrategyParams{Kind: StrategyCanary, Canary: &CanaryParams{}}
		}, "strategy.canary.steps"},
		{"canary non-increasing steps", func(c *Config) {
			c.Strategy = StrategyParams{Kind: StrategyCanary, Canary: &CanaryParams{
				Steps: []CanaryStep{
					{TrafficPercent: 50, HoldDuration: time.Second},
					{TrafficPercent: 25, HoldDuration: time.Second},
				},
			}}
		}, "strategy.canary.steps"},
		{"canary traffic above 100", func(c *Config) {
			c.Strategy = StrategyParams{Kind: StrategyCanary, Canary: &CanaryParams{
				Steps: []CanaryStep{{TrafficPercent: 150, HoldDuration: time.Second}},
			}}
		}, "strategy.canary.steps"},
		{"canary threshold out of range", func(c *Config) {
			c.Strategy = StrategyParams{Kind: StrategyCanary, Canary: &CanaryParams{
				SuccessThreshold: 12,
				Steps:            []CanaryStep{{TrafficPercent: 100, HoldDuration: time.Second}},
			}}
		}, "strategy.canary.successThreshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %s, got %s (%v)", tt.field, verr.Field, verr)
			}
		})
	}
}

func TestValidateRecreateNeedsNoParams(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy = StrategyParams{Kind: StrategyRecreate}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected recreate to validate without params, got %v", err)
	}
}
