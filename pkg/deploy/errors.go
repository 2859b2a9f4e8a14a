package deploy

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates that a requested deployment does not exist.
	ErrNotFound = errors.New("deployment not found")

	// ErrConflict indicates that another deployment is already active for
	// the same (application, environment) pair.
	ErrConflict = errors.New("active deployment exists")

	// ErrInvalidState indicates an operation that is not legal in the
	// deployment's current state, e.g. cancelling a terminal deployment.
	ErrInvalidState = errors.New("invalid deployment state")
)

// ValidationError rejects a deployment config before any side effect.
// Safe to retry after fixing the input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid config: %s", e.Reason)
	}
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// StageTimeoutError marks a stage whose health or quality verdict never
// resolved within the per-stage timeout. Treated identically to an explicit
// stage failure: abort and roll back, never assume success.
type StageTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %q timed out after %s", e.Stage, e.Timeout)
}

// StageFailureError marks a stage that completed with a failing verdict.
// Recoverable via rollback, never via blind retry of the same stage.
type StageFailureError struct {
	Stage  string
	Reason string
}

func (e *StageFailureError) Error() string {
	return fmt.Sprintf("stage %q failed: %s", e.Stage, e.Reason)
}

// ProbeUnavailableError means health could not be determined at all, for
// example because the control-plane API is down. Inconclusive health
// escalates to abort+rollback rather than proceed.
type ProbeUnavailableError struct {
	Cause error
}

func (e *ProbeUnavailableError) Error() string {
	return fmt.Sprintf("health prober unavailable: %v", e.Cause)
}

func (e *ProbeUnavailableError) Unwrap() error { return e.Cause }

// MigrationError marks a failed schema change. It always halts forward
// progress; the inverse migration is attempted before anything else.
type MigrationError struct {
	Version string
	Cause   error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s failed: %v", e.Version, e.Cause)
}

func (e *MigrationError) Unwrap() error { return e.Cause }

// RollbackFailedError is fatal: restoration itself failed health checks.
// Requires human intervention and must not be retried indefinitely.
type RollbackFailedError struct {
	DeploymentID string
	Attempts     int
	Cause        error
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("rollback of deployment %s failed after %d attempts: %v",
		e.DeploymentID, e.Attempts, e.Cause)
}

func (e *RollbackFailedError) Unwrap() error { return e.Cause }
