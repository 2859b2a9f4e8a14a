// Package orchestrator drives the deployment state machine. It owns every
// status transition, claims the active slot for an (application, environment)
// pair, hands stage execution to the selected strategy, watches the
// post-deploy monitoring window, and escalates failures to the rollback
// coordinator. It is the sole decision point for state transitions; strategies
// and probes only report.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shiprail/rollout/internal/store"
	"github.com/shiprail/rollout/pkg/audit"
	"github.com/shiprail/rollout/pkg/controlplane"
	"github.com/shiprail/rollout/pkg/deploy"
	"github.com/shiprail/rollout/pkg/gate"
	"github.com/shiprail/rollout/pkg/notification"
	"github.com/shiprail/rollout/pkg/probe"
	"github.com/shiprail/rollout/pkg/rollback"
	"github.com/shiprail/rollout/pkg/strategy"
	"github.com/shiprail/rollout/pkg/telemetry"
)

// Collaborators are the external systems the orchestrator drives.
type Collaborators struct {
	Control    controlplane.ControlPlane
	Artifacts  controlplane.ArtifactResolver
	Analyzer   controlplane.QualityAnalyzer
	Migrations controlplane.MigrationRunner
}

// Orchestrator runs deployments. Each requested deployment executes on its
// own goroutine; the orchestrator serializes external cancel and rollback
// requests per deployment while unrelated pairs proceed independently.
type Orchestrator struct {
	store       *store.Store
	control     controlplane.ControlPlane
	artifacts   controlplane.ArtifactResolver
	analyzer    controlplane.QualityAnalyzer
	migrations  controlplane.MigrationRunner
	prober      *probe.Prober
	coordinator *rollback.Coordinator
	sink        audit.Sink
	notifier    *notification.Notifier

	probeWindow     time.Duration
	monitorInterval time.Duration

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// run tracks one in-flight deployment. The run goroutine is the only writer
// of the deployment record; external requests reach it through cancel and
// the rollback request channel.
type run struct {
	dep      *deploy.Deployment
	cancel   context.CancelFunc
	done     chan struct{}
	rollback chan chan rollbackReply
}

type rollbackReply struct {
	id  string
	err error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProber replaces the default HTTP prober.
func WithProber(p *probe.Prober) Option {
	return func(o *Orchestrator) { o.prober = p }
}

// WithCoordinator replaces the default rollback coordinator.
func WithCoordinator(c *rollback.Coordinator) Option {
	return func(o *Orchestrator) { o.coordinator = c }
}

// WithAuditSink sets the append-only audit destination.
func WithAuditSink(s audit.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithNotifier enables operator notifications.
func WithNotifier(n *notification.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithProbeWindow sets the observation window for stage and monitor probes.
func WithProbeWindow(d time.Duration) Option {
	return func(o *Orchestrator) { o.probeWindow = d }
}

// WithMonitorInterval sets how often the monitoring window re-checks the
// rollback trigger thresholds.
func WithMonitorInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.monitorInterval = d }
}

// New creates an orchestrator over the given record store and collaborators.
func New(st *store.Store, c Collaborators, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:           st,
		control:         c.Control,
		artifacts:       c.Artifacts,
		analyzer:        c.Analyzer,
		migrations:      c.Migrations,
		sink:            audit.NewNoopSink(),
		probeWindow:     10 * time.Second,
		monitorInterval: 5 * time.Second,
		runs:            make(map[string]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.prober == nil {
		o.prober = probe.NewProber()
	}
	if o.coordinator == nil {
		o.coordinator = rollback.NewCoordinator(o.control, o.migrations, o.prober,
			rollback.WithProbeWindow(o.probeWindow))
	}
	return o
}

// RequestDeployment validates the config, atomically claims the active slot
// for its (application, environment) pair, and starts the rollout
// asynchronously. It returns the new deployment ID, deploy.ErrConflict when
// the pair already has an active deployment, or a ValidationError before any
// side effect.
func (o *Orchestrator) RequestDeployment(ctx context.Context, cfg deploy.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	dep := &deploy.Deployment{
		ID:            uuid.NewString(),
		Config:        cfg,
		Status:        deploy.StatusPending,
		TargetVersion: cfg.TargetVersion,
		StartedAt:     time.Now(),
	}
	if prev, err := o.store.LatestSucceeded(cfg.Application, cfg.Environment); err == nil {
		dep.PreviousVersion = prev.TargetVersion
	}

	if err := o.store.Claim(cfg.Application, cfg.Environment, dep.ID); err != nil {
		return "", err
	}
	if err := o.store.Save(dep); err != nil {
		o.store.Release(cfg.Application, cfg.Environment, dep.ID)
		return "", err
	}
	o.audit(audit.NewEntry(audit.EventDeploymentRequested, dep))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		dep:      dep,
		cancel:   cancel,
		done:     make(chan struct{}),
		rollback: make(chan chan rollbackReply, 1),
	}
	o.mu.Lock()
	o.runs[dep.ID] = r
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(r.done)
		o.execute(runCtx, r)
	}()

	return dep.ID, nil
}

// GetDeployment returns a snapshot of the deployment record.
func (o *Orchestrator) GetDeployment(id string) (*deploy.Deployment, error) {
	return o.store.Get(id)
}

// ListActive returns all non-terminal deployments, optionally filtered by
// application and environment.
func (o *Orchestrator) ListActive(application, environment string) []*deploy.Deployment {
	var result []*deploy.Deployment
	for _, dep := range o.store.ListActive() {
		if application != "" && dep.Config.Application != application {
			continue
		}
		if environment != "" && dep.Config.Environment != environment {
			continue
		}
		result = append(result, dep)
	}
	return result
}

// History returns past deployment records matching opts.
func (o *Orchestrator) History(opts store.HistoryOptions) []*deploy.Deployment {
	return o.store.History(opts)
}

// Cancel stops a deployment. Pending and validating deployments stop
// immediately with no side effects; an in-progress deployment is unwound
// through the rollback coordinator before it settles as cancelled. Once
// traffic has shifted and the deployment is monitoring, cancellation becomes
// a rollback: the previous version is restored and the deployment settles as
// rolled back. Terminal deployments return deploy.ErrInvalidState.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	o.mu.Lock()
	r, running := o.runs[id]
	o.mu.Unlock()

	dep, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("%w: cannot cancel deployment %s in state %s", deploy.ErrInvalidState, id, dep.Status)
	}

	if dep.Status == deploy.StatusMonitoring {
		reply := make(chan rollbackReply, 1)
		select {
		case r.rollback <- reply:
		default:
			return fmt.Errorf("%w: rollback already requested for deployment %s", deploy.ErrConflict, id)
		}
		select {
		case res := <-reply:
			return res.err
		case <-r.done:
			return fmt.Errorf("%w: deployment %s completed before the cancellation was serviced", deploy.ErrInvalidState, id)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if !dep.Status.Cancellable() {
		return fmt.Errorf("%w: cannot cancel deployment %s in state %s", deploy.ErrInvalidState, id, dep.Status)
	}
	// The status snapshot may trail the run: a cancel accepted here during
	// late in_progress lands in the monitor loop's interrupt branch, which
	// also rolls back.
	r.cancel()
	return nil
}

// Rollback rolls a deployment back to its previous version, returning the ID
// of the new deployment record that documents the restoration. A deployment
// in its monitoring window is rolled back in place; a succeeded deployment is
// restored directly. Anything else returns deploy.ErrInvalidState.
func (o *Orchestrator) Rollback(ctx context.Context, id string) (string, error) {
	o.mu.Lock()
	r, running := o.runs[id]
	o.mu.Unlock()

	dep, err := o.store.Get(id)
	if err != nil {
		return "", err
	}

	if running {
		if dep.Status != deploy.StatusMonitoring {
			return "", fmt.Errorf("%w: deployment %s is %s; cancel it instead", deploy.ErrInvalidState, id, dep.Status)
		}
		reply := make(chan rollbackReply, 1)
		select {
		case r.rollback <- reply:
		default:
			return "", fmt.Errorf("%w: rollback already requested for deployment %s", deploy.ErrConflict, id)
		}
		select {
		case res := <-reply:
			return res.id, res.err
		case <-r.done:
			return "", fmt.Errorf("%w: deployment %s completed before the rollback was serviced", deploy.ErrInvalidState, id)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if dep.Status != deploy.StatusSucceeded {
		return "", fmt.Errorf("%w: cannot roll back deployment %s in state %s", deploy.ErrInvalidState, id, dep.Status)
	}

	// The restoration is itself an active operation on the pair.
	token := uuid.NewString()
	if err := o.store.Claim(dep.Config.Application, dep.Config.Environment, token); err != nil {
		return "", err
	}
	defer o.store.Release(dep.Config.Application, dep.Config.Environment, token)

	return o.restore(ctx, dep, "operator-requested rollback")
}

// Wait blocks until the deployment's run goroutine has finished. Deployments
// that already finished return immediately.
func (o *Orchestrator) Wait(id string) {
	o.mu.Lock()
	r, ok := o.runs[id]
	o.mu.Unlock()
	if ok {
		<-r.done
	}
}

// Shutdown waits for all in-flight deployments to finish, or until ctx
// expires. It does not cancel them.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs one deployment from PENDING to a terminal state.
func (o *Orchestrator) execute(ctx context.Context, r *run) {
	dep := r.dep
	cfg := dep.Config

	ctx, span := telemetry.TraceDeployment(ctx, dep.ID, cfg.Application, cfg.Environment, string(cfg.Strategy.Kind))
	defer span.End()

	defer o.store.Release(cfg.Application, cfg.Environment, dep.ID)
	defer func() {
		o.mu.Lock()
		delete(o.runs, dep.ID)
		o.mu.Unlock()
	}()

	if ctx.Err() != nil {
		o.finishCancelled(dep)
		return
	}

	if err := o.moveTo(dep, deploy.StatusValidating, ""); err != nil {
		o.fail(dep, err)
		return
	}
	if err := o.validate(ctx, dep); err != nil {
		if ctx.Err() != nil {
			o.finishCancelled(dep)
			return
		}
		o.fail(dep, err)
		return
	}

	if err := o.moveTo(dep, deploy.StatusInProgress, audit.EventDeploymentStarted); err != nil {
		o.fail(dep, err)
		return
	}
	o.notify(notification.DeployStartedEvent(cfg.Application, cfg.Environment, dep.ID, dep.TargetVersion))

	if err := o.advance(ctx, dep); err != nil {
		if ctx.Err() != nil {
			o.cancelInProgress(dep)
			return
		}
		telemetry.RecordError(ctx, err)
		o.unwind(ctx, dep, err)
		return
	}

	if err := o.moveTo(dep, deploy.StatusMonitoring, ""); err != nil {
		o.fail(dep, err)
		return
	}
	o.monitor(ctx, r)
}

// validate runs the pre-deploy checks: artifact resolution and, when
// configured, the quality gate. Failures here happen before any control-plane
// side effect.
func (o *Orchestrator) validate(ctx context.Context, dep *deploy.Deployment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	artifact, err := o.artifacts.Resolve(ctx, dep.TargetVersion)
	if err != nil {
		return &deploy.ValidationError{Field: "targetVersion", Reason: fmt.Sprintf("cannot resolve artifact: %v", err)}
	}
	dep.RecordStage(deploy.StageResult{
		Name:    "validate-artifact",
		Action:  fmt.Sprintf("resolved %s", artifact.Image),
		Outcome: deploy.StagePassed,
	})

	if dep.Config.Quality.RequireCheck || dep.Config.Quality.MinScore > 0 {
		check, cerr := o.analyzer.Latest(ctx, dep.Config.Application, dep.TargetVersion)
		if cerr != nil {
			check = nil
		}
		if check != nil {
			dep.QualityCheckID = check.ID
		}
		result := gate.Evaluate(check, dep.Config.Quality)
		passed := result.Passed
		stage := deploy.StageResult{
			Name:         "quality-gate",
			Action:       fmt.Sprintf("evaluate quality of %s", dep.TargetVersion),
			QualityScore: &result.Score,
			GatePassed:   &passed,
			Outcome:      deploy.StagePassed,
		}
		if !passed {
			stage.Outcome = deploy.StageFailed
			stage.Reason = strings.Join(result.Reasons, "; ")
			dep.RecordStage(stage)
			return &deploy.StageFailureError{Stage: "quality-gate", Reason: stage.Reason}
		}
		dep.RecordStage(stage)
	}

	return o.store.Save(dep)
}

// advance applies the schema migration, then hands stage execution to the
// strategy selected once for the deployment's kind.
func (o *Orchestrator) advance(ctx context.Context, dep *deploy.Deployment) error {
	if spec := dep.Config.Migration; spec != nil {
		mctx, span := telemetry.TraceMigration(ctx, spec.Version, false)
		err := o.migrations.Apply(mctx, *spec)
		span.End()
		if err != nil {
			merr := &deploy.MigrationError{Version: spec.Version, Cause: err}
			dep.RecordStage(deploy.StageResult{
				Name:    "migration-apply",
				Action:  fmt.Sprintf("apply migration %s", spec.Version),
				Outcome: deploy.StageFailed,
				Reason:  merr.Error(),
			})
			o.store.Save(dep)
			return merr
		}
		dep.RecordStage(deploy.StageResult{
			Name:    "migration-apply",
			Action:  fmt.Sprintf("apply migration %s", spec.Version),
			Outcome: deploy.StagePassed,
		})
		o.store.Save(dep)
	}

	strat, err := strategy.New(dep.Config.Strategy.Kind)
	if err != nil {
		return err
	}

	env := &strategy.Environment{
		Control:     o.control,
		Prober:      o.prober,
		Analyzer:    o.analyzer,
		ProbeWindow: o.probeWindow,
		OnStage: func(d *deploy.Deployment, result deploy.StageResult) {
			o.store.Save(d)
			entry := audit.NewEntry(audit.EventStageCompleted, d)
			entry.Stage = &result
			entry.Reason = result.Reason
			o.audit(entry)
		},
	}
	return strat.Execute(ctx, env, dep)
}

// monitor holds the deployment in its monitoring window, re-checking the
// rollback trigger until the window elapses, a threshold breaches, or an
// operator requests a rollback.
func (o *Orchestrator) monitor(ctx context.Context, r *run) {
	dep := r.dep
	dep.Trigger = &deploy.RollbackTrigger{
		Thresholds: dep.Config.Triggers,
		Active:     true,
		OpenedAt:   time.Now(),
	}
	o.store.Save(dep)

	window := time.NewTimer(dep.Config.MonitoringWindow)
	defer window.Stop()
	ticker := time.NewTicker(o.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-window.C:
			o.closeTrigger(dep, "")
			dep.Error = ""
			if err := o.moveTo(dep, deploy.StatusSucceeded, audit.EventDeploymentSucceeded); err != nil {
				o.fail(dep, err)
				return
			}
			o.notify(notification.DeploySucceededEvent(
				dep.Config.Application, dep.Config.Environment, dep.ID, dep.TargetVersion,
				time.Since(dep.StartedAt)))
			return

		case reply := <-r.rollback:
			o.closeTrigger(dep, "operator-requested")
			id, err := o.rollBack(ctx, dep, "operator-requested rollback")
			reply <- rollbackReply{id: id, err: err}
			return

		case <-ctx.Done():
			// The window cannot finish its watch; treat the verdict as
			// inconclusive and restore rather than leave new traffic
			// unmonitored.
			o.closeTrigger(dep, "monitoring interrupted")
			o.rollBack(ctx, dep, "monitoring interrupted")
			return

		case <-ticker.C:
			breach := o.checkTrigger(ctx, dep)
			if breach == "" {
				continue
			}
			o.closeTrigger(dep, breach)
			entry := audit.NewEntry(audit.EventTriggerBreached, dep)
			entry.Reason = breach
			o.audit(entry)
			o.notify(notification.TriggerBreachedEvent(
				dep.Config.Application, dep.Config.Environment, dep.ID, breach))
			o.rollBack(ctx, dep, breach)
			return
		}
	}
}

// checkTrigger probes the live fleet and compares it against the trigger
// thresholds. It returns the breach reason, or empty when all is well.
// Probe unavailability is inconclusive and counts as a breach; health is
// never assumed.
func (o *Orchestrator) checkTrigger(ctx context.Context, dep *deploy.Deployment) string {
	th := dep.Trigger.Thresholds
	target := controlplane.Target{
		Application: dep.Config.Application,
		Environment: dep.Config.Environment,
		Version:     dep.TargetVersion,
	}

	endpoints, err := o.control.Endpoints(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return ""
		}
		return fmt.Sprintf("health probes unavailable: %v", err)
	}
	snap, err := o.prober.Probe(ctx, endpoints, o.probeWindow)
	if err != nil {
		if ctx.Err() != nil {
			return ""
		}
		return fmt.Sprintf("health probes unavailable: %v", err)
	}

	if snap.Status == deploy.Unhealthy {
		return fmt.Sprintf("fleet unhealthy (error rate %.2f)", snap.ErrorRate)
	}
	if th.MaxErrorRate > 0 && snap.ErrorRate > th.MaxErrorRate {
		return fmt.Sprintf("error rate %.2f exceeds ceiling %.2f", snap.ErrorRate, th.MaxErrorRate)
	}
	if th.MaxP95Latency > 0 && snap.P95Latency > th.MaxP95Latency {
		return fmt.Sprintf("p95 latency %s exceeds ceiling %s", snap.P95Latency, th.MaxP95Latency)
	}
	if th.MinQualityScore > 0 {
		check, cerr := o.analyzer.Latest(ctx, dep.Config.Application, dep.TargetVersion)
		if cerr == nil && check != nil && check.Score < th.MinQualityScore {
			return fmt.Sprintf("quality score %.1f below floor %.1f", check.Score, th.MinQualityScore)
		}
	}
	return ""
}

// unwind handles a stage failure during IN_PROGRESS: roll back to the
// previous version, or retire the new fleet when there is nothing to
// restore.
func (o *Orchestrator) unwind(ctx context.Context, dep *deploy.Deployment, cause error) {
	if dep.PreviousVersion == "" {
		o.retire(ctx, dep)
		o.fail(dep, cause)
		return
	}
	dep.Error = cause.Error()
	if err := o.moveTo(dep, deploy.StatusRollingBack, audit.EventRollbackStarted); err != nil {
		o.fail(dep, err)
		return
	}
	o.notify(notification.Event{
		Type:         notification.EventRollbackStarted,
		Application:  dep.Config.Application,
		Environment:  dep.Config.Environment,
		DeploymentID: dep.ID,
		Message:      fmt.Sprintf("Rolling back `%s` in `%s`: %s", dep.Config.Application, dep.Config.Environment, cause),
	})

	record, rerr := o.coordinator.Rollback(context.WithoutCancel(ctx), dep)
	o.store.Save(record)
	o.afterRollback(dep, record, rerr)
}

// afterRollback settles the original deployment once the coordinator is done.
func (o *Orchestrator) afterRollback(dep *deploy.Deployment, record *deploy.Deployment, rerr error) {
	if rerr != nil {
		o.moveTo(dep, deploy.StatusRollbackFailed, audit.EventRollbackFailed)
		o.notify(notification.RollbackFailedEvent(
			dep.Config.Application, dep.Config.Environment, dep.ID, rerr))
		return
	}
	for _, warning := range record.Warnings {
		if warning == rollback.WarningManualMigration {
			dep.Warn(warning)
			o.notify(notification.Event{
				Type:         notification.EventManualMigration,
				Application:  dep.Config.Application,
				Environment:  dep.Config.Environment,
				DeploymentID: dep.ID,
				Message:      "Schema restored by hand required: the rolled-back deployment declared no inverse migration",
			})
		}
	}
	o.moveTo(dep, deploy.StatusRolledBack, audit.EventRollbackCompleted)
	o.notify(notification.Event{
		Type:         notification.EventRollbackDone,
		Application:  dep.Config.Application,
		Environment:  dep.Config.Environment,
		DeploymentID: dep.ID,
		Version:      dep.PreviousVersion,
		Message:      fmt.Sprintf("Restored `%s` in `%s` to version `%s`", dep.Config.Application, dep.Config.Environment, dep.PreviousVersion),
	})
}

// rollBack transitions a monitored deployment into ROLLING_BACK and runs the
// coordinator. It returns the restoration record's ID.
func (o *Orchestrator) rollBack(ctx context.Context, dep *deploy.Deployment, reason string) (string, error) {
	if dep.PreviousVersion == "" {
		err := fmt.Errorf("deployment %s has no previous version to restore", dep.ID)
		o.retire(ctx, dep)
		o.fail(dep, err)
		return "", &deploy.RollbackFailedError{DeploymentID: dep.ID, Attempts: 0, Cause: err}
	}

	dep.Error = reason
	if err := o.moveTo(dep, deploy.StatusRollingBack, audit.EventRollbackStarted); err != nil {
		o.fail(dep, err)
		return "", err
	}

	rctx, rspan := telemetry.TraceRollback(context.WithoutCancel(ctx), dep.ID, dep.PreviousVersion)
	record, rerr := o.coordinator.Rollback(rctx, dep)
	rspan.End()
	o.store.Save(record)
	o.afterRollback(dep, record, rerr)
	return record.ID, rerr
}

// restore rolls back an already-terminal deployment, producing and storing
// the restoration record without touching the original's terminal status.
func (o *Orchestrator) restore(ctx context.Context, dep *deploy.Deployment, reason string) (string, error) {
	entry := audit.NewEntry(audit.EventRollbackStarted, dep)
	entry.Reason = reason
	o.audit(entry)

	rctx, span := telemetry.TraceRollback(ctx, dep.ID, dep.PreviousVersion)
	record, rerr := o.coordinator.Rollback(rctx, dep)
	span.End()
	o.store.Save(record)

	if rerr != nil {
		o.audit(audit.NewEntry(audit.EventRollbackFailed, record))
		o.notify(notification.RollbackFailedEvent(
			dep.Config.Application, dep.Config.Environment, dep.ID, rerr))
		return record.ID, rerr
	}
	o.audit(audit.NewEntry(audit.EventRollbackCompleted, record))
	o.notify(notification.Event{
		Type:         notification.EventRollbackDone,
		Application:  dep.Config.Application,
		Environment:  dep.Config.Environment,
		DeploymentID: dep.ID,
		Version:      dep.PreviousVersion,
		Message:      fmt.Sprintf("Restored `%s` in `%s` to version `%s`", dep.Config.Application, dep.Config.Environment, dep.PreviousVersion),
	})
	return record.ID, nil
}

// cancelInProgress unwinds an operator-cancelled deployment. Partial changes
// are restored through the coordinator; the deployment itself settles as
// cancelled, with the restoration documented in its own record.
func (o *Orchestrator) cancelInProgress(dep *deploy.Deployment) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if dep.PreviousVersion == "" {
		o.retire(ctx, dep)
	} else {
		record, rerr := o.coordinator.Rollback(ctx, dep)
		o.store.Save(record)
		if rerr != nil {
			dep.Warn(fmt.Sprintf("restoration after cancel failed: %v", rerr))
			o.notify(notification.RollbackFailedEvent(
				dep.Config.Application, dep.Config.Environment, dep.ID, rerr))
		}
	}
	o.finishCancelled(dep)
}

// retire scales the abandoned target fleet down when no previous version
// exists to restore.
func (o *Orchestrator) retire(ctx context.Context, dep *deploy.Deployment) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	target := controlplane.Target{
		Application: dep.Config.Application,
		Environment: dep.Config.Environment,
		Version:     dep.TargetVersion,
	}
	if err := o.control.Scale(rctx, target, 0); err != nil {
		dep.Warn(fmt.Sprintf("failed to scale down %s: %v", dep.TargetVersion, err))
	}
}

func (o *Orchestrator) finishCancelled(dep *deploy.Deployment) {
	dep.Error = "cancelled by operator"
	o.moveTo(dep, deploy.StatusCancelled, audit.EventDeploymentCancelled)
	o.notify(notification.Event{
		Type:         notification.EventDeployCancelled,
		Application:  dep.Config.Application,
		Environment:  dep.Config.Environment,
		DeploymentID: dep.ID,
		Version:      dep.TargetVersion,
		Message:      fmt.Sprintf("Deployment of `%s` to `%s` cancelled", dep.Config.Application, dep.Config.Environment),
	})
}

// fail settles the deployment as failed. A transition error is recorded on
// the deployment and persisted so the record never silently stalls in a
// non-terminal state.
func (o *Orchestrator) fail(dep *deploy.Deployment, cause error) {
	dep.Error = cause.Error()
	if err := o.moveTo(dep, deploy.StatusFailed, audit.EventDeploymentFailed); err != nil {
		dep.Warn(fmt.Sprintf("could not settle as failed: %v", err))
		o.store.Save(dep)
	}
	o.notify(notification.DeployFailedEvent(
		dep.Config.Application, dep.Config.Environment, dep.ID, dep.TargetVersion, cause))
}

// moveTo transitions the deployment, persists it, and audits the event.
func (o *Orchestrator) moveTo(dep *deploy.Deployment, to deploy.Status, event audit.EventType) error {
	if err := dep.Transition(to); err != nil {
		return err
	}
	if err := o.store.Save(dep); err != nil {
		return err
	}
	if event != "" {
		o.audit(audit.NewEntry(event, dep))
	}
	return nil
}

func (o *Orchestrator) closeTrigger(dep *deploy.Deployment, breach string) {
	trig := dep.Trigger
	if trig == nil {
		return
	}
	now := time.Now()
	trig.Active = false
	trig.ClosedAt = &now
	trig.Breach = breach
	o.store.Save(dep)
}

func (o *Orchestrator) audit(entry *audit.Entry) {
	o.sink.Record(entry)
}

func (o *Orchestrator) notify(event notification.Event) {
	if o.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	o.notifier.Notify(ctx, event)
}
