// Package rollback implements the rollback coordinator: restoring service to
// the last known good version after a failed or breached deployment. A
// rollback produces a new deployment record rather than mutating history.
package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shiprail/rollout/pkg/controlplane"
	"github.com/shiprail/rollout/pkg/deploy"
	"github.com/shiprail/rollout/pkg/probe"
	"github.com/shiprail/rollout/pkg/resilience"
)

// WarningManualMigration is surfaced when the original deployment migrated
// the schema but declared no inverse migration. Application traffic is still
// restored, but the schema mismatch needs an operator.
const WarningManualMigration = "ManualMigrationInterventionRequired"

// Coordinator restores a rolled-back deployment's previous version.
type Coordinator struct {
	control     controlplane.ControlPlane
	migrations  controlplane.MigrationRunner
	prober      *probe.Prober
	probeWindow time.Duration
	maxAttempts uint64
	retryDelay  time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithProbeWindow sets the health confirmation window after restoration.
func WithProbeWindow(d time.Duration) Option {
	return func(c *Coordinator) { c.probeWindow = d }
}

// WithMaxAttempts bounds restoration retries. Restoration must not flap
// indefinitely; after the budget it becomes RollbackFailedError.
func WithMaxAttempts(n uint64) Option {
	return func(c *Coordinator) { c.maxAttempts = n }
}

// WithRetryDelay sets the initial backoff between restoration attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.retryDelay = d }
}

// NewCoordinator creates a rollback coordinator.
func NewCoordinator(control controlplane.ControlPlane, migrations controlplane.MigrationRunner, prober *probe.Prober, opts ...Option) *Coordinator {
	c := &Coordinator{
		control:     control,
		migrations:  migrations,
		prober:      prober,
		probeWindow: 10 * time.Second,
		maxAttempts: 3,
		retryDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rollback restores the previous version of the given deployment and returns
// a new deployment record with RollbackOf set. The schema is restored before
// application traffic, so application code never runs against a schema it
// does not expect. The returned record is terminal: succeeded when
// restoration confirmed healthy, failed otherwise (alongside a
// RollbackFailedError).
func (c *Coordinator) Rollback(ctx context.Context, original *deploy.Deployment) (*deploy.Deployment, error) {
	record := &deploy.Deployment{
		ID:              uuid.NewString(),
		Config:          original.Config,
		Status:          deploy.StatusInProgress,
		PreviousVersion: original.TargetVersion,
		TargetVersion:   original.PreviousVersion,
		RollbackOf:      original.ID,
		StartedAt:       time.Now(),
	}

	if original.PreviousVersion == "" {
		err := fmt.Errorf("deployment %s has no previous version to restore", original.ID)
		c.finish(record, err.Error())
		return record, &deploy.RollbackFailedError{DeploymentID: original.ID, Attempts: 0, Cause: err}
	}

	// Inverse migration first, inside the same transactional boundary as
	// the original migration.
	if spec := original.Config.Migration; spec != nil {
		if spec.RollbackSQL != "" {
			if err := c.migrations.Rollback(ctx, *spec); err != nil {
				merr := &deploy.MigrationError{Version: spec.Version, Cause: err}
				record.RecordStage(deploy.StageResult{
					Name:    "migration-rollback",
					Action:  fmt.Sprintf("apply inverse migration %s", spec.Version),
					Outcome: deploy.StageFailed,
					Reason:  merr.Error(),
				})
				c.finish(record, merr.Error())
				return record, &deploy.RollbackFailedError{DeploymentID: original.ID, Attempts: 0, Cause: merr}
			}
			record.RecordStage(deploy.StageResult{
				Name:    "migration-rollback",
				Action:  fmt.Sprintf("apply inverse migration %s", spec.Version),
				Outcome: deploy.StagePassed,
			})
		} else {
			record.Warn(WarningManualMigration)
			record.RecordStage(deploy.StageResult{
				Name:    "migration-rollback",
				Action:  fmt.Sprintf("migration %s declares no inverse", spec.Version),
				Outcome: deploy.StageSkipped,
				Reason:  WarningManualMigration,
			})
		}
	}

	attempts := 0
	restore := func() error {
		attempts++
		return c.restore(ctx, original, record)
	}
	err := resilience.Retry(ctx, restore,
		resilience.WithMaxRetries(c.maxAttempts-1),
		resilience.WithInitialDelay(c.retryDelay),
	)
	if err != nil {
		c.finish(record, err.Error())
		return record, &deploy.RollbackFailedError{DeploymentID: original.ID, Attempts: attempts, Cause: err}
	}

	record.Status = deploy.StatusSucceeded
	now := time.Now()
	record.EndedAt = &now
	return record, nil
}

// restore moves traffic back to the previous version and confirms health.
func (c *Coordinator) restore(ctx context.Context, original, record *deploy.Deployment) error {
	previous := controlplane.Target{
		Application: original.Config.Application,
		Environment: original.Config.Environment,
		Version:     original.PreviousVersion,
	}
	bad := controlplane.Target{
		Application: original.Config.Application,
		Environment: original.Config.Environment,
		Version:     original.TargetVersion,
	}

	if original.Config.Strategy.Kind == deploy.StrategyBlueGreen && original.BlueWarm {
		// Blue is still standing: restoration is a single swap back.
		if err := c.control.Swap(ctx, bad, previous); err != nil {
			return fmt.Errorf("swap back to %s: %w", original.PreviousVersion, err)
		}
		record.RecordStage(deploy.StageResult{
			Name:    "restore-swap",
			Action:  fmt.Sprintf("swap traffic back to warm blue %s", original.PreviousVersion),
			Outcome: deploy.StagePassed,
		})
	} else {
		// Recreate-style restoration.
		if err := c.control.Scale(ctx, previous, original.Config.Replicas); err != nil {
			return fmt.Errorf("scale %s back up: %w", original.PreviousVersion, err)
		}
		if err := c.control.ShiftTraffic(ctx, previous, 100); err != nil {
			return fmt.Errorf("shift traffic back to %s: %w", original.PreviousVersion, err)
		}
		if err := c.control.Scale(ctx, bad, 0); err != nil {
			return fmt.Errorf("scale %s down: %w", original.TargetVersion, err)
		}
		record.RecordStage(deploy.StageResult{
			Name:    "restore-recreate",
			Action:  fmt.Sprintf("restore %d replicas of %s, retire %s", original.Config.Replicas, original.PreviousVersion, original.TargetVersion),
			Outcome: deploy.StagePassed,
		})
	}

	endpoints, err := c.control.Endpoints(ctx, previous)
	if err != nil {
		return &deploy.ProbeUnavailableError{Cause: err}
	}
	snap, err := c.prober.Probe(ctx, endpoints, c.probeWindow)
	if err != nil {
		return err
	}
	result := deploy.StageResult{
		Name:    "restore-verify",
		Action:  fmt.Sprintf("confirm health of %s", original.PreviousVersion),
		Health:  &snap,
		Outcome: deploy.StagePassed,
	}
	if snap.Status == deploy.Unhealthy {
		result.Outcome = deploy.StageFailed
		result.Reason = fmt.Sprintf("restored fleet unhealthy (error rate %.2f)", snap.ErrorRate)
		record.RecordStage(result)
		return fmt.Errorf("restored fleet %s failed health check", original.PreviousVersion)
	}
	record.RecordStage(result)
	return nil
}

func (c *Coordinator) finish(record *deploy.Deployment, reason string) {
	record.Status = deploy.StatusFailed
	record.Error = reason
	now := time.Now()
	record.EndedAt = &now
}
