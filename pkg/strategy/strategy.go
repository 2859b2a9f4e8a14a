// Package strategy implements stage sequencing for the four rollout
// strategies: rolling, blue-green, canary, and recreate. A strategy executes
// one stage at a time against the control plane and decides continue or
// abort from health and quality feedback after each stage.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shiprail/rollout/pkg/controlplane"
	"github.com/shiprail/rollout/pkg/deploy"
	"github.com/shiprail/rollout/pkg/probe"
	"github.com/shiprail/rollout/pkg/telemetry"
)

// Strategy executes a deployment's stages. Execute returns nil when all
// stages completed and traffic is fully on the new version; any error means
// the rollout must be aborted and rolled back. Stage actions are strictly
// sequential: stage N+1 never begins before stage N's evaluation completes.
type Strategy interface {
	Name() deploy.StrategyKind
	Execute(ctx context.Context, env *Environment, dep *deploy.Deployment) error
}

// Environment bundles the collaborators a strategy drives. The orchestrator
// owns it; strategies only read it.
type Environment struct {
	Control     controlplane.ControlPlane
	Prober      *probe.Prober
	Analyzer    controlplane.QualityAnalyzer
	ProbeWindow time.Duration

	// OnStage, when set, is invoked after each recorded stage so the
	// caller can persist and audit progress.
	OnStage func(dep *deploy.Deployment, result deploy.StageResult)
}

// New selects the strategy implementation for a kind. Selection happens once
// at orchestrator entry, never re-dispatched per call.
func New(kind deploy.StrategyKind) (Strategy, error) {
	switch kind {
	case deploy.StrategyRolling:
		return &Rolling{}, nil
	case deploy.StrategyBlueGreen:
		return &BlueGreen{}, nil
	case deploy.StrategyCanary:
		return &Canary{}, nil
	case deploy.StrategyRecreate:
		return &Recreate{}, nil
	default:
		return nil, &deploy.ValidationError{Field: "strategy.kind", Reason: fmt.Sprintf("unknown strategy %q", kind)}
	}
}

// record appends a stage result to the deployment and notifies the caller.
func (e *Environment) record(dep *deploy.Deployment, result deploy.StageResult) {
	dep.RecordStage(result)
	if e.OnStage != nil {
		e.OnStage(dep, dep.Stages[len(dep.Stages)-1])
	}
}

// target builds the control-plane target for a version of the deployment.
func target(dep *deploy.Deployment, version string) controlplane.Target {
	return controlplane.Target{
		Application: dep.Config.Application,
		Environment: dep.Config.Environment,
		Version:     version,
	}
}

// probeFleet lists a fleet's endpoints and probes them for the environment's
// window. Endpoint-listing failures surface as inconclusive health.
func (e *Environment) probeFleet(ctx context.Context, t controlplane.Target) (*deploy.HealthSnapshot, error) {
	endpoints, err := e.Control.Endpoints(ctx, t)
	if err != nil {
		var unavailable *deploy.ProbeUnavailableError
		if errors.As(err, &unavailable) {
			return nil, err
		}
		return nil, &deploy.ProbeUnavailableError{Cause: err}
	}
	return e.probeEndpoints(ctx, endpoints)
}

// probeEndpoints probes an explicit endpoint set, bounding blast-radius
// checks to the replicas a stage actually touched.
func (e *Environment) probeEndpoints(ctx context.Context, endpoints []deploy.Endpoint) (*deploy.HealthSnapshot, error) {
	snap, err := e.Prober.Probe(ctx, endpoints, e.ProbeWindow)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// runStage executes fn under the per-stage timeout, inside its own trace
// span. A stage whose verdict never resolves within the timeout is treated
// identically to an explicit failure; success is never assumed on timeout.
func runStage(ctx context.Context, dep *deploy.Deployment, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stageCtx, span := telemetry.TraceStage(stageCtx, dep.ID, name)
	defer span.End()

	err := fn(stageCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = &deploy.StageTimeoutError{Stage: name, Timeout: timeout}
	}
	telemetry.RecordError(stageCtx, err)
	return err
}

// holdFor waits the given duration, interruptible by cancellation.
func holdFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// healthReason summarizes why a snapshot fails a stage.
func healthReason(snap *deploy.HealthSnapshot) string {
	return fmt.Sprintf("aggregate health %s (error rate %.2f, p95 %s)",
		snap.Status, snap.ErrorRate, snap.P95Latency)
}
