package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shiprail/rollout/pkg/deploy"
	"github.com/shiprail/rollout/pkg/gate"
)

// BlueGreen stands up the full new fleet ("green") with zero live traffic,
// validates it for validationTimeout, then cuts traffic over atomically.
// Blue stays warm for another validationTimeout before teardown, so a
// rollback right after cutover is a single swap back.
type BlueGreen struct{}

func (s *BlueGreen) Name() deploy.StrategyKind { return deploy.StrategyBlueGreen }

func (s *BlueGreen) Execute(ctx context.Context, env *Environment, dep *deploy.Deployment) error {
	cfg := dep.Config
	params := cfg.Strategy.BlueGreen

	green := target(dep, dep.TargetVersion)
	blue := target(dep, dep.PreviousVersion)

	// Stage 1: stand up green and validate it with zero traffic impact.
	err := runStage(ctx, dep, "blue-green-validate", cfg.StageTimeout+params.ValidationTimeout, func(stageCtx context.Context) error {
		if err := env.Control.Scale(stageCtx, green, cfg.Replicas); err != nil {
			return &deploy.StageFailureError{Stage: "blue-green-validate", Reason: fmt.Sprintf("stand up green: %v", err)}
		}

		snap, gateResult, err := s.validate(stageCtx, env, dep, params)
		result := deploy.StageResult{
			Name:    "blue-green-validate",
			Action:  fmt.Sprintf("stand up %d green replicas, validate for %s", cfg.Replicas, params.ValidationTimeout),
			Health:  snap,
			Outcome: deploy.StagePassed,
		}
		if gateResult != nil {
			result.QualityScore = &gateResult.Score
			result.GatePassed = &gateResult.Passed
		}
		if err != nil {
			result.Outcome = deploy.StageFailed
			result.Reason = err.Error()
			env.record(dep, result)
			// Rollback before cutover is free: discard green, blue
			// never stopped serving.
			_ = env.Control.Scale(stageCtx, green, 0)
			return err
		}
		env.record(dep, result)
		return nil
	})
	if err != nil {
		return err
	}

	// Stage 2: atomic cutover, then keep blue warm before teardown.
	return runStage(ctx, dep, "blue-green-cutover", cfg.StageTimeout+params.ValidationTimeout, func(stageCtx context.Context) error {
		if err := env.Control.Swap(stageCtx, blue, green); err != nil {
			return &deploy.StageFailureError{Stage: "blue-green-cutover", Reason: fmt.Sprintf("cutover: %v", err)}
		}
		dep.BlueWarm = true
		env.record(dep, deploy.StageResult{
			Name:    "blue-green-cutover",
			Action:  fmt.Sprintf("swap traffic %s -> %s", dep.PreviousVersion, dep.TargetVersion),
			Outcome: deploy.StagePassed,
		})

		if err := holdFor(stageCtx, params.ValidationTimeout); err != nil {
			return err
		}

		snap, err := env.probeFleet(stageCtx, green)
		if err != nil {
			return err
		}
		if snap.Status == deploy.Unhealthy {
			reason := healthReason(snap)
			env.record(dep, deploy.StageResult{
				Name:    "blue-green-teardown",
				Action:  "verify green before blue teardown",
				Health:  snap,
				Outcome: deploy.StageFailed,
				Reason:  reason,
			})
			return &deploy.StageFailureError{Stage: "blue-green-teardown", Reason: reason}
		}

		if dep.PreviousVersion != "" {
			if err := env.Control.Scale(stageCtx, blue, 0); err != nil {
				return &deploy.StageFailureError{Stage: "blue-green-teardown", Reason: fmt.Sprintf("tear down blue: %v", err)}
			}
		}
		dep.BlueWarm = false
		env.record(dep, deploy.StageResult{
			Name:    "blue-green-teardown",
			Action:  fmt.Sprintf("tear down %s", dep.PreviousVersion),
			Health:  snap,
			Outcome: deploy.StagePassed,
		})
		return nil
	})
}

// validate polls green's health every healthCheckInterval until it passes
// both health and quality, or validationTimeout elapses.
func (s *BlueGreen) validate(ctx context.Context, env *Environment, dep *deploy.Deployment, params *deploy.BlueGreenParams) (*deploy.HealthSnapshot, *gate.Result, error) {
	green := target(dep, dep.TargetVersion)
	deadline := time.Now().Add(params.ValidationTimeout)

	var lastSnap *deploy.HealthSnapshot
	var lastGate *gate.Result

	for {
		snap, err := env.probeFleet(ctx, green)
		if err != nil {
			return lastSnap, lastGate, err
		}
		lastSnap = snap

		check, err := env.Analyzer.Latest(ctx, dep.Config.Application, dep.TargetVersion)
		if err != nil {
			return lastSnap, lastGate, &deploy.ProbeUnavailableError{Cause: err}
		}
		gateResult := gate.Evaluate(check, dep.Config.Quality)
		lastGate = &gateResult

		if snap.Status == deploy.Healthy && gateResult.Passed {
			return lastSnap, lastGate, nil
		}

		if time.Until(deadline) <= params.HealthCheckInterval {
			reason := healthReason(snap)
			if !gateResult.Passed {
				reason = fmt.Sprintf("%s; quality gate: %v", reason, gateResult.Reasons)
			}
			return lastSnap, lastGate, &deploy.StageFailureError{
				Stage:  "blue-green-validate",
				Reason: fmt.Sprintf("green failed validation within %s: %s", params.ValidationTimeout, reason),
			}
		}
		if err := holdFor(ctx, params.HealthCheckInterval); err != nil {
			return lastSnap, lastGate, err
		}
	}
}
