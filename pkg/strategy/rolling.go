package strategy

import (
	"context"
	"fmt"

	"github.com/shiprail/rollout/pkg/deploy"
)

// Rolling replaces the fleet in increments of maxSurge. Each stage scales
// the new version up, probes only the replicas added in that stage, then
// scales the old version down. Available replicas never drop below
// replicas - maxUnavailable, and new+old never exceeds replicas + maxSurge.
type Rolling struct{}

func (s *Rolling) Name() deploy.StrategyKind { return deploy.StrategyRolling }

func (s *Rolling) Execute(ctx context.Context, env *Environment, dep *deploy.Deployment) error {
	cfg := dep.Config
	params := cfg.Strategy.Rolling
	replicas := cfg.Replicas

	newTarget := target(dep, dep.TargetVersion)
	oldTarget := target(dep, dep.PreviousVersion)

	stages := (replicas + params.MaxSurge - 1) / params.MaxSurge

	for i := 0; i < stages; i++ {
		newCount := (i + 1) * params.MaxSurge
		if newCount > replicas {
			newCount = replicas
		}
		prevCount := i * params.MaxSurge
		name := fmt.Sprintf("rolling-%d/%d", i+1, stages)

		err := runStage(ctx, dep, name, cfg.StageTimeout, func(stageCtx context.Context) error {
			if err := env.Control.Scale(stageCtx, newTarget, newCount); err != nil {
				return &deploy.StageFailureError{Stage: name, Reason: fmt.Sprintf("scale up: %v", err)}
			}

			// Probe only the replicas this stage added, bounding the
			// blast radius of a bad stage to the surge size.
			endpoints, err := env.Control.Endpoints(stageCtx, newTarget)
			if err != nil {
				return &deploy.ProbeUnavailableError{Cause: err}
			}
			added := endpoints
			if len(endpoints) > prevCount {
				added = endpoints[prevCount:]
			}
			snap, err := env.probeEndpoints(stageCtx, added)
			if err != nil {
				return err
			}

			result := deploy.StageResult{
				Name:    name,
				Action:  fmt.Sprintf("scale %s to %d replicas", dep.TargetVersion, newCount),
				Health:  snap,
				Outcome: deploy.StagePassed,
			}
			if snap.Status != deploy.Healthy {
				result.Outcome = deploy.StageFailed
				result.Reason = healthReason(snap)
				env.record(dep, result)
				return &deploy.StageFailureError{Stage: name, Reason: result.Reason}
			}

			// Old replicas come down only after the surge probed healthy.
			// The scale-down may release up to maxUnavailable replicas of
			// extra headroom, keeping availability at or above
			// replicas - maxUnavailable.
			oldCount := replicas - newCount - params.MaxUnavailable
			if oldCount < 0 {
				oldCount = 0
			}
			if dep.PreviousVersion != "" {
				if err := env.Control.Scale(stageCtx, oldTarget, oldCount); err != nil {
					return &deploy.StageFailureError{Stage: name, Reason: fmt.Sprintf("scale down: %v", err)}
				}
			}

			env.record(dep, result)
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := env.Control.ShiftTraffic(ctx, newTarget, 100); err != nil {
		return &deploy.StageFailureError{Stage: "rolling-cutover", Reason: fmt.Sprintf("shift traffic: %v", err)}
	}
	return nil
}
