package deploy

// Validate checks a deployment config for internal consistency. It returns
// the first *ValidationError found, or nil when the config is usable.
func (c *Config) Validate() error {
	if c.Application == "" {
		return &ValidationError{Field: "application", Reason: "is required"}
	}
	if c.Environment == "" {
		return &ValidationError{Field: "environment", Reason: "is required"}
	}
	if c.Image == "" {
		return &ValidationError{Field: "image", Reason: "is required"}
	}
	if c.TargetVersion == "" {
		return &ValidationError{Field: "targetVersion", Reason: "is required"}
	}
	if c.Replicas < 1 {
		return &ValidationError{Field: "replicas", Reason: "must be at least 1"}
	}
	if c.StageTimeout <= 0 {
		return &ValidationError{Field: "stageTimeout", Reason: "must be positive"}
	}
	if c.Quality.MinScore < 0 || c.Quality.MinScore > 10 {
		return &ValidationError{Field: "quality.minScore", Reason: "must be within 0-10"}
	}
	return c.Strategy.validate(c.Replicas)
}

func (p *StrategyParams) validate(replicas int) error {
	switch p.Kind {
	case StrategyRolling:
		if p.Rolling == nil {
			return &ValidationError{Field: "strategy.rolling", Reason: "parameters are required for the rolling strategy"}
		}
		if p.Rolling.MaxSurge < 1 {
			return &ValidationError{Field: "strategy.rolling.maxSurge", Reason: "must be at least 1"}
		}
		if p.Rolling.MaxUnavailable < 0 || p.Rolling.MaxUnavailable >= replicas {
			return &ValidationError{Field: "strategy.rolling.maxUnavailable", Reason: "must be between 0 and replicas-1"}
		}
	case StrategyBlueGreen:
		if p.BlueGreen == nil {
			return &ValidationError{Field: "strategy.blueGreen", Reason: "parameters are required for the blue-green strategy"}
		}
		if p.BlueGreen.ValidationTimeout <= 0 {
			return &ValidationError{Field: "strategy.blueGreen.validationTimeout", Reason: "must be positive"}
		}
		if p.BlueGreen.HealthCheckInterval <= 0 {
			return &ValidationError{Field: "strategy.blueGreen.healthCheckInterval", Reason: "must be positive"}
		}
		if p.BlueGreen.HealthCheckInterval > p.BlueGreen.ValidationTimeout {
			return &ValidationError{Field: "strategy.blueGreen.healthCheckInterval", Reason: "must not exceed validationTimeout"}
		}
	case StrategyCanary:
		if p.Canary == nil || len(p.Canary.Steps) == 0 {
			return &ValidationError{Field: "strategy.canary.steps", Reason: "at least one step is required"}
		}
		if p.Canary.SuccessThreshold < 0 || p.Canary.SuccessThreshold > 10 {
			return &ValidationError{Field: "strategy.canary.successThreshold", Reason: "must be within 0-10"}
		}
		prev := 0
		for _, step := range p.Canary.Steps {
			if step.TrafficPercent <= 0 || step.TrafficPercent > 100 {
				return &ValidationError{Field: "strategy.canary.steps", Reason: "trafficPercent must be within 1-100"}
			}
			if step.TrafficPercent <= prev {
				return &ValidationError{Field: "strategy.canary.steps", Reason: "trafficPercent must strictly increase between steps"}
			}
			if step.HoldDuration <= 0 {
				return &ValidationError{Field: "strategy.canary.steps", Reason: "holdDuration must be positive"}
			}
			prev = step.TrafficPercent
		}
	case StrategyRecreate:
		// no parameters
	default:
		return &ValidationError{Field: "strategy.kind", Reason: "unknown strategy " + string(p.Kind)}
	}
	return nil
}
