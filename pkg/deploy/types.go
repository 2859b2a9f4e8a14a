// Package deploy defines the core data model of the rollout engine:
// deployment configuration, the deployment aggregate, strategy parameters,
// health and quality records, and the status state machine.
package deploy

import (
	"time"
)

// StrategyKind identifies the rollout strategy for a deployment.
type StrategyKind string

const (
	StrategyRolling   StrategyKind = "rolling"
	StrategyBlueGreen StrategyKind = "blue-green"
	StrategyCanary    StrategyKind = "canary"
	StrategyRecreate  StrategyKind = "recreate"
)

// RollingParams configures the rolling strategy.
type RollingParams struct {
	MaxSurge       int `yaml:"maxSurge" json:"maxSurge"`             // replicas added per stage
	MaxUnavailable int `yaml:"maxUnavailable" json:"maxUnavailable"` // replicas that may be down during a stage
}

// BlueGreenParams configures the blue-green strategy.
type BlueGreenParams struct {
	ValidationTimeout   time.Duration `yaml:"validationTimeout" json:"validationTimeout"`
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval" json:"healthCheckInterval"`
}

// CanaryStep is one traffic increment of a canary rollout.
type CanaryStep struct {
	TrafficPercent int           `yaml:"trafficPercent" json:"trafficPercent"`
	HoldDuration   time.Duration `yaml:"holdDuration" json:"holdDuration"`
}

// CanaryParams configures the canary strategy.
type CanaryParams struct {
	Steps            []CanaryStep `yaml:"steps" json:"steps"`
	SuccessThreshold float64      `yaml:"successThreshold" json:"successThreshold"` // minimum quality score to promote
}

// StrategyParams is the tagged union of strategy-specific parameters.
// Exactly the variant matching Kind must be set; the others stay nil.
// Recreate carries no parameters.
type StrategyParams struct {
	Kind      StrategyKind     `yaml:"kind" json:"kind"`
	Rolling   *RollingParams   `yaml:"rolling,omitempty" json:"rolling,omitempty"`
	BlueGreen *BlueGreenParams `yaml:"blueGreen,omitempty" json:"blueGreen,omitempty"`
	Canary    *CanaryParams    `yaml:"canary,omitempty" json:"canary,omitempty"`
}

// MigrationSpec describes a database schema change tied to a deployment.
// RollbackSQL is the inverse migration; when empty, an automatic rollback
// cannot restore the schema and operators are warned instead.
type MigrationSpec struct {
	Version     string `yaml:"version" json:"version"`
	ApplySQL    string `yaml:"applySql" json:"applySql"`
	RollbackSQL string `yaml:"rollbackSql,omitempty" json:"rollbackSql,omitempty"`
}

// QualityThresholds configures the pre-deploy quality gate.
type QualityThresholds struct {
	MinScore     float64 `yaml:"minScore" json:"minScore"` // 0-10
	RequireCheck bool    `yaml:"requireCheck" json:"requireCheck"`
}

// TriggerThresholds configures the post-deploy rollback trigger.
// A zero ceiling disables that particular signal.
type TriggerThresholds struct {
	MaxErrorRate    float64       `yaml:"maxErrorRate" json:"maxErrorRate"`
	MaxP95Latency   time.Duration `yaml:"maxP95Latency" json:"maxP95Latency"`
	MinQualityScore float64       `yaml:"minQualityScore" json:"minQualityScore"`
}

// Config is the immutable deployment configuration. It is created by an
// operator or CI system per release intent; the engine only reads it.
type Config struct {
	Application      string            `yaml:"application" json:"application"`
	Environment      string            `yaml:"environment" json:"environment"`
	Replicas         int               `yaml:"replicas" json:"replicas"`
	Image            string            `yaml:"image" json:"image"`
	TargetVersion    string            `yaml:"targetVersion" json:"targetVersion"`
	Strategy         StrategyParams    `yaml:"strategy" json:"strategy"`
	StageTimeout     time.Duration     `yaml:"stageTimeout" json:"stageTimeout"`
	MonitoringWindow time.Duration     `yaml:"monitoringWindow" json:"monitoringWindow"`
	Migration        *MigrationSpec    `yaml:"migration,omitempty" json:"migration,omitempty"`
	Quality          QualityThresholds `yaml:"quality" json:"quality"`
	Triggers         TriggerThresholds `yaml:"triggers" json:"triggers"`
}

// HealthStatus classifies a probed target or an aggregate snapshot.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// Endpoint identifies one probeable replica of a deployed version.
type Endpoint struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Version string `json:"version"`
}

// TargetHealth is the per-endpoint result of a probe window.
type TargetHealth struct {
	Endpoint  Endpoint      `json:"endpoint"`
	Status    HealthStatus  `json:"status"`
	ErrorRate float64       `json:"errorRate"`
	P95       time.Duration `json:"p95"`
	Samples   int           `json:"samples"`
}

// HealthSnapshot aggregates the health of a set of endpoints over one
// observation window. The aggregate status is unhealthy if any target was
// unhealthy for the full window, degraded if any target is degraded or the
// aggregate error rate exceeds the soft ceiling, healthy otherwise.
type HealthSnapshot struct {
	Status     HealthStatus   `json:"status"`
	Targets    []TargetHealth `json:"targets"`
	ErrorRate  float64        `json:"errorRate"`
	P95Latency time.Duration  `json:"p95Latency"`
	Window     time.Duration  `json:"window"`
	ObservedAt time.Time      `json:"observedAt"`
}

// QualityCheck is a precomputed code/artifact quality record produced by an
// external analyzer and consumed read-only by the quality gate.
type QualityCheck struct {
	ID        string    `json:"id"`
	Score     float64   `json:"score"` // 0-10
	Passed    bool      `json:"passed"`
	Blockers  []string  `json:"blockers,omitempty"`
	CommitRef string    `json:"commitRef"`
	CreatedAt time.Time `json:"createdAt"`
}

// StageOutcome classifies how a stage ended.
type StageOutcome string

const (
	StagePassed  StageOutcome = "passed"
	StageFailed  StageOutcome = "failed"
	StageTimeout StageOutcome = "timeout"
	StageSkipped StageOutcome = "skipped"
)

// StageResult is the audit record of one executed stage.
type StageResult struct {
	Index        int             `json:"index"`
	Name         string          `json:"name"`
	Action       string          `json:"action"`
	Health       *HealthSnapshot `json:"health,omitempty"`
	QualityScore *float64        `json:"qualityScore,omitempty"`
	GatePassed   *bool           `json:"gatePassed,omitempty"`
	Outcome      StageOutcome    `json:"outcome"`
	Reason       string          `json:"reason,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// RollbackTrigger holds the live-metric thresholds watched during the
// monitoring window. It exists only for the lifetime of one deployment:
// created when the window opens, deactivated when it closes or fires.
type RollbackTrigger struct {
	Thresholds TriggerThresholds `json:"thresholds"`
	Active     bool              `json:"active"`
	OpenedAt   time.Time         `json:"openedAt"`
	ClosedAt   *time.Time        `json:"closedAt,omitempty"`
	Breach     string            `json:"breach,omitempty"` // reason the trigger fired, if it did
}

// Deployment is the mutable aggregate for one rollout attempt. It is created
// when a rollout is requested, mutated only by the engine, and becomes
// immutable once its status is terminal.
type Deployment struct {
	ID                string           `json:"id"`
	Config            Config           `json:"config"`
	Status            Status           `json:"status"`
	CurrentStageIndex int              `json:"currentStageIndex"`
	PreviousVersion   string           `json:"previousVersion"`
	TargetVersion     string           `json:"targetVersion"`
	StartedAt         time.Time        `json:"startedAt"`
	EndedAt           *time.Time       `json:"endedAt,omitempty"`
	QualityCheckID    string           `json:"qualityCheckId,omitempty"`
	RollbackOf        string           `json:"rollbackOfDeploymentId,omitempty"`
	Stages            []StageResult    `json:"stages,omitempty"`
	Trigger           *RollbackTrigger `json:"trigger,omitempty"`
	BlueWarm          bool             `json:"blueWarm,omitempty"` // blue fleet still standing after a blue-green cutover
	Warnings          []string         `json:"warnings,omitempty"`
	Error             string           `json:"error,omitempty"`
}

// RecordStage appends a stage result and advances the stage cursor.
func (d *Deployment) RecordStage(r StageResult) {
	r.Index = len(d.Stages)
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	d.Stages = append(d.Stages, r)
	d.CurrentStageIndex = r.Index
}

// Warn records an operator-facing warning without failing the deployment.
func (d *Deployment) Warn(msg string) {
	d.Warnings = append(d.Warnings, msg)
}
