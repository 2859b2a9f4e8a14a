// Package controlplane defines the collaborator interfaces the engine drives:
// the orchestration platform (scale, traffic shifting, fleet swap), artifact
// resolution, migration execution, and quality analysis. Concrete platform
// mechanics live behind these interfaces; the engine never assumes a specific
// external binary or API is present.
package controlplane

import (
	"context"

	"github.com/shiprail/rollout/pkg/deploy"
)

// Target identifies one versioned fleet of an application in an environment.
type Target struct {
	Application string `json:"application"`
	Environment string `json:"environment"`
	Version     string `json:"version"`
}

// ArtifactRef is a resolved, deployable artifact reference.
type ArtifactRef struct {
	Image   string `json:"image"`
	Version string `json:"version"`
	Digest  string `json:"digest,omitempty"`
}

// ControlPlane abstracts the orchestration platform. Implementations must be
// safe for concurrent use; the engine may scale and probe different
// deployments in parallel.
type ControlPlane interface {
	// Scale sets the replica count for a versioned fleet.
	Scale(ctx context.Context, target Target, replicas int) error

	// ShiftTraffic routes the given percentage of live traffic to the
	// target version. The remainder stays on whatever served it before.
	ShiftTraffic(ctx context.Context, target Target, percent int) error

	// Swap atomically cuts all live traffic from blue to green.
	Swap(ctx context.Context, blue, green Target) error

	// Endpoints lists the probeable replicas of a versioned fleet.
	Endpoints(ctx context.Context, target Target) ([]deploy.Endpoint, error)
}

// ArtifactResolver resolves a version string to a deployable artifact.
// Build and push logic is out of scope.
type ArtifactResolver interface {
	Resolve(ctx context.Context, version string) (ArtifactRef, error)
}

// MigrationRunner executes transactional schema changes.
type MigrationRunner interface {
	Apply(ctx context.Context, spec deploy.MigrationSpec) error
	Rollback(ctx context.Context, spec deploy.MigrationSpec) error
}

// QualityAnalyzer serves precomputed quality checks, consumed read-only.
type QualityAnalyzer interface {
	Latest(ctx context.Context, application, version string) (*deploy.QualityCheck, error)
}
