package strategy

import (
	"context"
	"fmt"

	"github.com/shiprail/rollout/pkg/deploy"
	"github.com/shiprail/rollout/pkg/gate"
)

// Canary shifts live traffic to the new version in configured increments.
// Each step holds, probes, and checks the quality score against the success
// threshold; any degraded or unhealthy verdict, or a sub-threshold score,
// aborts the canary and returns traffic to exactly 0% on the new version.
type Canary struct{}

func (s *Canary) Name() deploy.StrategyKind { return deploy.StrategyCanary }

func (s *Canary) Execute(ctx context.Context, env *Environment, dep *deploy.Deployment) error {
	cfg := dep.Config
	params := cfg.Strategy.Canary
	newTarget := target(dep, dep.TargetVersion)

	if err := env.Control.Scale(ctx, newTarget, cfg.Replicas); err != nil {
		return &deploy.StageFailureError{Stage: "canary-scale", Reason: fmt.Sprintf("stand up canary fleet: %v", err)}
	}

	for _, step := range params.Steps {
		name := fmt.Sprintf("canary-%d%%", step.TrafficPercent)

		err := runStage(ctx, dep, name, cfg.StageTimeout+step.HoldDuration, func(stageCtx context.Context) error {
			if err := env.Control.ShiftTraffic(stageCtx, newTarget, step.TrafficPercent); err != nil {
				return &deploy.StageFailureError{Stage: name, Reason: fmt.Sprintf("shift traffic: %v", err)}
			}
			if err := holdFor(stageCtx, step.HoldDuration); err != nil {
				return err
			}

			snap, err := env.probeFleet(stageCtx, newTarget)
			if err != nil {
				return err
			}
			check, err := env.Analyzer.Latest(stageCtx, cfg.Application, dep.TargetVersion)
			if err != nil {
				return &deploy.ProbeUnavailableError{Cause: err}
			}

			result := deploy.StageResult{
				Name:    name,
				Action:  fmt.Sprintf("shift %d%% traffic to %s, hold %s", step.TrafficPercent, dep.TargetVersion, step.HoldDuration),
				Health:  snap,
				Outcome: deploy.StagePassed,
			}
			if check != nil {
				result.QualityScore = &check.Score
			}
			promoted := gate.MeetsThreshold(check, params.SuccessThreshold)
			result.GatePassed = &promoted

			if snap.Status != deploy.Healthy || !promoted {
				reason := healthReason(snap)
				if !promoted {
					reason = fmt.Sprintf("%s; quality below promotion threshold %.1f", reason, params.SuccessThreshold)
				}
				result.Outcome = deploy.StageFailed
				result.Reason = reason
				env.record(dep, result)
				return &deploy.StageFailureError{Stage: name, Reason: reason}
			}

			env.record(dep, result)
			return nil
		})
		if err != nil {
			// Never leave a partial split: the abort path returns the
			// new version to exactly 0% before surfacing the failure.
			s.abort(ctx, env, dep)
			return err
		}
	}

	last := params.Steps[len(params.Steps)-1]
	if last.TrafficPercent < 100 {
		if err := env.Control.ShiftTraffic(ctx, newTarget, 100); err != nil {
			s.abort(ctx, env, dep)
			return &deploy.StageFailureError{Stage: "canary-promote", Reason: fmt.Sprintf("full promotion: %v", err)}
		}
	}
	return nil
}

// abort resets new-version traffic to 0%. Runs on a fresh context so a
// cancelled or expired stage context cannot leave traffic split.
func (s *Canary) abort(ctx context.Context, env *Environment, dep *deploy.Deployment) {
	resetCtx := context.WithoutCancel(ctx)
	_ = env.Control.ShiftTraffic(resetCtx, target(dep, dep.TargetVersion), 0)
}
