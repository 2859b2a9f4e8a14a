package strategy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shiprail/rollout/pkg/controlplane"
	"github.com/shiprail/rollout/pkg/deploy"
	"github.com/shiprail/rollout/pkg/probe"
	"github.com/shiprail/rollout/pkg/strategy"
)

type fixture struct {
	sim      *controlplane.Simulator
	analyzer *controlplane.StaticAnalyzer
	env      *strategy.Environment
	dep      *deploy.Deployment
}

// newFixture seeds a serving v1 fleet and prepares a deployment of v2.
func newFixture(t *testing.T, cfg deploy.Config) *fixture {
	t.Helper()
	sim := controlplane.NewSimulator()
	sim.Seed(controlplane.Target{
		Application: cfg.Application,
		Environment: cfg.Environment,
		Version:     "v1",
	}, cfg.Replicas)
	sim.SetHealth("v2", deploy.Healthy)

	analyzer := &controlplane.StaticAnalyzer{}
	analyzer.SetCheck("v2", &deploy.QualityCheck{ID: "qc-1", Score: 9.0, Passed: true, CommitRef: "abc1234"})

	env := &strategy.Environment{
		Control: sim,
		Prober: probe.NewProber(
			probe.WithCheck(sim.Check),
			probe.WithSampleInterval(time.Millisecond),
		),
		Analyzer:    analyzer,
		ProbeWindow: 5 * time.Millisecond,
	}
	dep := &deploy.Deployment{
		ID:              "dep-1",
		Config:          cfg,
		Status:          deploy.StatusInProgress,
		PreviousVersion: "v1",
		TargetVersion:   "v2",
		StartedAt:       time.Now(),
	}
	return &fixture{sim: sim, analyzer: analyzer, env: env, dep: dep}
}

func baseConfig(params deploy.StrategyParams) deploy.Config {
	return deploy.Config{
		Application:   "web",
		Environment:   "production",
		Replicas:      4,
		Image:         "registry.example.com/web",
		TargetVersion: "v2",
		Strategy:      params,
		StageTimeout:  2 * time.Second,
	}
}

func TestNew_SelectsStrategyOnce(t *testing.T) {
	kinds := []deploy.StrategyKind{
		deploy.StrategyRolling, deploy.StrategyBlueGreen, deploy.StrategyCanary, deploy.StrategyRecreate,
	}
	for _, kind := range kinds {
		s, err := strategy.New(kind)
		if err != nil {
			t.Fatalf("New(%s): %v", kind, err)
		}
		if s.Name() != kind {
			t.Fatalf("New(%s) returned strategy named %s", kind, s.Name())
		}
	}
	if _, err := strategy.New("weighted-random"); err == nil {
		t.Fatal("expected error for unknown strategy kind")
	}
}

func TestRolling_FourSequentialStages(t *testing.T) {
	cfg := baseConfig(deploy.StrategyParams{
		Kind:    deploy.StrategyRolling,
		Rolling: &deploy.RollingParams{MaxSurge: 1, MaxUnavailable: 0},
	})
	f := newFixture(t, cfg)

	s := &strategy.Rolling{}
	if err := s.Execute(context.Background(), f.env, f.dep); err != nil {
		t.Fatalf("rolling execution failed: %v", err)
	}

	if len(f.dep.Stages) != 4 {
		t.Fatalf("replicas=4 maxSurge=1 must produce 4 stages, got %d", len(f.dep.Stages))
	}
	for _, stage := range f.dep.Stages {
		if stage.Outcome != deploy.StagePassed {
			t.Fatalf("stage %s outcome %s", stage.Name, stage.Outcome)
		}
	}

	// Replay the action log and check the surge invariant at every point:
	// new + old <= replicas + maxSurge, available >= replicas - maxUnavailable.
	newCount, oldCount := 0, cfg.Replicas
	for _, action := range f.sim.Actions() {
		if action.Op != "scale" {
			continue
		}
		switch action.Target.Version {
		case "v2":
			newCount = action.Value
		case "v1":
			oldCount = action.Value
		}
		if newCount+oldCount > cfg.Replicas+1 {
			t.Fatalf("surge invariant violated: new=%d old=%d", newCount, oldCount)
		}
		if newCount+oldCount < cfg.Replicas {
			t.Fatalf("availability invariant violated: new=%d old=%d", newCount, oldCount)
		}
	}

	v2 := controlplane.Target{Application: "web", Environment: "production", Version: "v2"}
	v1 := controlplane.Target{Application: "web", Environment: "production", Version: "v1"}
	if f.sim.Replicas(v2) != 4 || f.sim.Replicas(v1) != 0 {
		t.Fatalf("expected full replacement, got v2=%d v1=%d", f.sim.Replicas(v2), f.sim.Replicas(v1))
	}
	if f.sim.TrafficPercent(v2) != 100 {
		t.Fatalf("expected 100%% traffic on v2, got %d", f.sim.TrafficPercent(v2))
	}
}

func TestRolling_MaxUnavailableReleasesHeadroom(t *testing.T) {
	cfg := baseConfig(deploy.StrategyParams{
		Kind:    deploy.StrategyRolling,
		Rolling: &deploy.RollingParams{MaxSurge: 2, MaxUnavailable: 1},
	})
	f := newFixture(t, cfg)

	s := &strategy.Rolling{}
	if err := s.Execute(context.Background(), f.env, f.dep); err != nil {
		t.Fatalf("rolling execution failed: %v", err)
	}

	// The scale-down uses the maxUnavailable slack: after a surge probes
	// healthy, the old fleet may drop one replica below the delta, but
	// availability never falls under replicas - maxUnavailable.
	sawSlack := false
	newCount, oldCount := 0, cfg.Replicas
	for _, action := range f.sim.Actions() {
		if action.Op != "scale" {
			continue
		}
		switch action.Target.Version {
		case "v2":
			newCount = action.Value
		case "v1":
			oldCount = action.Value
		}
		if avail := newCount + oldCount; avail < cfg.Replicas-1 {
			t.Fatalf("availability dropped to %d, floor is %d", avail, cfg.Replicas-1)
		}
		if newCount+oldCount == cfg.Replicas-1 {
			sawSlack = true
		}
	}
	if !sawSlack {
		t.Fatal("expected the scale-down to release the maxUnavailable headroom")
	}

	v1 := controlplane.Target{Application: "web", Environment: "production", Version: "v1"}
	if got := f.sim.Replicas(v1); got != 0 {
		t.Fatalf("expected old fleet fully retired, got %d replicas", got)
	}
}

func TestRolling_UnhealthySurgeAborts(t *testing.T) {
	cfg := baseConfig(deploy.StrategyParams{
		Kind:    deploy.StrategyRolling,
		Rolling: &deploy.RollingParams{MaxSurge: 2, MaxUnavailable: 1},
	})
	f := newFixture(t, cfg)
	f.sim.SetHealth("v2", deploy.Unhealthy)

	s := &strategy.Rolling{}
	err := s.Execute(context.Background(), f.env, f.dep)
	if err == nil {
		t.Fatal("expected failure when surged replicas are unhealthy")
	}

	// The old fleet must not have been scaled down after the failed probe.
	v1 := controlplane.Target{Application: "web", Environment: "production", Version: "v1"}
	if f.sim.Replicas(v1) != cfg.Replicas {
		t.Fatalf("old fleet was scaled down despite failed stage: %d", f.sim.Replicas(v1))
	}
}

func TestCanary_AbortReturnsTrafficToZero(t *testing.T) {
	cfg := baseConfig(deploy.StrategyParams{
		Kind: deploy.StrategyCanary,
		Canary: &deploy.CanaryParams{
			Steps: []deploy.CanaryStep{
				{TrafficPercent: 10, HoldDuration: 2 * time.Millisecond},
				{TrafficPercent: 50, HoldDuration: 2 * time.Millisecond},
				{TrafficPercent: 100, HoldDuration: 2 * time.Millisecond},
			},
			SuccessThreshold: 8,
		},
	})
	f := newFixture(t, cfg)

	// Quality drops below the promotion threshold once 50% is reached.
	steps := 0
	f.env.OnStage = func(dep *deploy.Deployment, result deploy.StageResult) {
		steps++
		if steps == 1 {
			f.analyzer.SetCheck("v2", &deploy.QualityCheck{ID: "qc-2", Score: 5.5, CommitRef: "abc1234"})
		}
	}

	s := &strategy.Canary{}
	err := s.Execute(context.Background(), f.env, f.dep)
	if err == nil {
		t.Fatal("expected canary abort at the 50% step")
	}

	v2 := controlplane.Target{Application: "web", Environment: "production", Version: "v2"}
	if got := f.sim.TrafficPercent(v2); got != 0 {
		t.Fatalf("aborted canary must return to exactly 0%% traffic, got %d%%", got)
	}

	// Traffic percentages must be monotonically non-decreasing up to the abort.
	prev := 0
	for _, action := range f.sim.Actions() {
		if action.Op != "shift-traffic" || action.Target.Version != "v2" {
			continue
		}
		if action.Value != 0 && action.Value < prev {
			t.Fatalf("traffic went backwards before abort: %d after %d", action.Value, prev)
		}
		if action.Value != 0 {
			prev = action.Value
		}
	}
}

func TestCanary_FullPromotion(t *testing.T) {
	cfg := baseConfig(deploy.StrategyParams{
		Kind: deploy.StrategyCanary,
		Canary: &deploy.CanaryParams{
			Steps: []deploy.CanaryStep{
				{TrafficPercent: 25, HoldDuration: 2 * time.Millisecond},
				{TrafficPercent: 100, HoldDuration: 2 * time.Millisecond},
			},
			SuccessThreshold: 8,
		},
	})
	f := newFixture(t, cfg)

	s := &strategy.Canary{}
	if err := s.Execute(context.Background(), f.env, f.dep); err != nil {
		t.Fatalf("canary execution failed: %v", err)
	}
	v2 := controlplane.Target{Application: "web", Environment: "production", Version: "v2"}
	if f.sim.TrafficPercent(v2) != 100 {
		t.Fatalf("expected full promotion, got %d%%", f.sim.TrafficPercent(v2))
	}
	if len(f.dep.Stages) != 2 {
		t.Fatalf("expected 2 recorded stages, got %d", len(f.dep.Stages))
	}
}

func TestBlueGreen_FailedValidationNeverCutsOver(t *testing.T) {
	cfg := baseConfig(deploy.StrategyParams{
		Kind: deploy.StrategyBlueGreen,
		BlueGreen: &deploy.BlueGreenParams{
			ValidationTimeout:   20 * time.Millisecond,
			HealthCheckInterval: 5 * time.Millisecond,
		},
	})
	f := newFixture(t, cfg)
	f.sim.SetHealth("v2", deploy.Unhealthy)

	s := &strategy.BlueGreen{}
	err := s.Execute(context.Background(), f.env, f.dep)
	if err == nil {
		t.Fatal("expected failure when green never validates")
	}

	v1 := controlplane.Target{Application: "web", Environment: "production", Version: "v1"}
	v2 := controlplane.Target{Application: "web", Environment: "production", Version: "v2"}
	if f.sim.TrafficPercent(v1) != 100 {
		t.Fatalf("blue traffic must be untouched, got %d%%", f.sim.TrafficPercent(v1))
	}
	if f.sim.Replicas(v2) != 0 {
		t.Fatalf("green must be discarded after failed validation, got %d replicas", f.sim.Replicas(v2))
	}
	for _, action := range f.sim.Actions() {
		if action.Op == "swap" {
			t.Fatal("cutover must never happen when validation fails")
		}
	}
}

func TestBlueGreen_SuccessfulCutoverAndTeardown(t *testing.T) {
	cfg := baseConfig(deploy.StrategyParams{
		Kind: deploy.StrategyBlueGreen,
		BlueGreen: &deploy.BlueGreenParams{
			ValidationTimeout:   10 * time.Millisecond,
			HealthCheckInterval: 2 * time.Millisecond,
		},
	})
	f := newFixture(t, cfg)

	s := &strategy.BlueGreen{}
	if err := s.Execute(context.Background(), f.env, f.dep); err != nil {
		t.Fatalf("blue-green execution failed: %v", err)
	}

	v1 := controlplane.Target{Application: "web", Environment: "production", Version: "v1"}
	v2 := controlplane.Target{Application: "web", Environment: "production", Version: "v2"}
	if f.sim.TrafficPercent(v2) != 100 {
		t.Fatalf("expected all traffic on green, got %d%%", f.sim.TrafficPercent(v2))
	}
	if f.sim.Replicas(v1) != 0 {
		t.Fatalf("expected blue torn down, got %d replicas", f.sim.Replicas(v1))
	}
	if f.dep.BlueWarm {
		t.Fatal("blue must not be marked warm after teardown")
	}
}

func TestRecreate_SingleStage(t *testing.T) {
	cfg := baseConfig(deploy.StrategyParams{Kind: deploy.StrategyRecreate})
	f := newFixture(t, cfg)

	s := &strategy.Recreate{DrainWait: time.Millisecond}
	if err := s.Execute(context.Background(), f.env, f.dep); err != nil {
		t.Fatalf("recreate execution failed: %v", err)
	}
	if len(f.dep.Stages) != 1 {
		t.Fatalf("recreate must record exactly one stage, got %d", len(f.dep.Stages))
	}

	// Old fleet goes to zero before the new one comes up.
	var sawOldDown bool
	for _, action := range f.sim.Actions() {
		if action.Op == "scale" && action.Target.Version == "v1" && action.Value == 0 {
			sawOldDown = true
		}
		if action.Op == "scale" && action.Target.Version == "v2" && action.Value > 0 && !sawOldDown {
			t.Fatal("new fleet scaled up before old fleet drained")
		}
	}
}

func TestStageTimeoutTreatedAsFailure(t *testing.T) {
	cfg := baseConfig(deploy.StrategyParams{Kind: deploy.StrategyRecreate})
	cfg.StageTimeout = 5 * time.Millisecond
	f := newFixture(t, cfg)

	// A drain longer than the stage timeout forces the deadline to fire.
	s := &strategy.Recreate{DrainWait: time.Hour}
	err := s.Execute(context.Background(), f.env, f.dep)
	var timeout *deploy.StageTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected StageTimeoutError, got %v", err)
	}
}
