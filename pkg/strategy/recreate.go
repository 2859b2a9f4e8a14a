package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shiprail/rollout/pkg/deploy"
)

// Recreate is the single-stage strategy: scale the old version to zero, wait
// for connections to drain, scale the new version to full count, probe once.
// No intermediate traffic splitting; highest risk.
type Recreate struct {
	// DrainWait overrides the post-scale-down drain pause. Zero means the
	// default of 5 seconds.
	DrainWait time.Duration
}

func (s *Recreate) Name() deploy.StrategyKind { return deploy.StrategyRecreate }

func (s *Recreate) Execute(ctx context.Context, env *Environment, dep *deploy.Deployment) error {
	cfg := dep.Config
	newTarget := target(dep, dep.TargetVersion)
	oldTarget := target(dep, dep.PreviousVersion)

	drain := s.DrainWait
	if drain == 0 {
		drain = 5 * time.Second
	}

	return runStage(ctx, dep, "recreate", cfg.StageTimeout, func(stageCtx context.Context) error {
		if dep.PreviousVersion != "" {
			if err := env.Control.Scale(stageCtx, oldTarget, 0); err != nil {
				return &deploy.StageFailureError{Stage: "recreate", Reason: fmt.Sprintf("scale down %s: %v", dep.PreviousVersion, err)}
			}
			if err := holdFor(stageCtx, drain); err != nil {
				return err
			}
		}

		if err := env.Control.Scale(stageCtx, newTarget, cfg.Replicas); err != nil {
			return &deploy.StageFailureError{Stage: "recreate", Reason: fmt.Sprintf("scale up %s: %v", dep.TargetVersion, err)}
		}
		if err := env.Control.ShiftTraffic(stageCtx, newTarget, 100); err != nil {
			return &deploy.StageFailureError{Stage: "recreate", Reason: fmt.Sprintf("shift traffic: %v", err)}
		}

		snap, err := env.probeFleet(stageCtx, newTarget)
		if err != nil {
			return err
		}
		result := deploy.StageResult{
			Name:    "recreate",
			Action:  fmt.Sprintf("replace %s with %d replicas of %s", dep.PreviousVersion, cfg.Replicas, dep.TargetVersion),
			Health:  snap,
			Outcome: deploy.StagePassed,
		}
		if snap.Status != deploy.Healthy {
			result.Outcome = deploy.StageFailed
			result.Reason = healthReason(snap)
			env.record(dep, result)
			return &deploy.StageFailureError{Stage: "recreate", Reason: result.Reason}
		}
		env.record(dep, result)
		return nil
	})
}
