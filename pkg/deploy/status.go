package deploy

import (
	"fmt"
	"time"
)

// Status is the deployment state machine state. Transitions are monotonic:
// no transition re-enters an earlier state, and terminal states admit none.
type Status string

const (
	StatusPending        Status = "pending"
	StatusValidating     Status = "validating"
	StatusInProgress     Status = "in_progress"
	StatusMonitoring     Status = "monitoring"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusRollingBack    Status = "rolling_back"
	StatusRolledBack     Status = "rolled_back"
	StatusRollbackFailed Status = "rollback_failed"
	StatusCancelled      Status = "cancelled"
)

// transitions is the full set of legal state transitions.
var transitions = map[Status][]Status{
	StatusPending:     {StatusValidating, StatusCancelled, StatusFailed},
	StatusValidating:  {StatusInProgress, StatusFailed, StatusCancelled},
	StatusInProgress:  {StatusMonitoring, StatusRollingBack, StatusFailed, StatusCancelled},
	StatusMonitoring:  {StatusSucceeded, StatusRollingBack, StatusFailed},
	StatusRollingBack: {StatusRolledBack, StatusRollbackFailed},
}

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusRolledBack, StatusRollbackFailed, StatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether a deployment in this state may be cancelled
// outright. Once traffic has shifted (monitoring or later) cancellation must
// become a rollback instead.
func (s Status) Cancellable() bool {
	switch s {
	case StatusPending, StatusValidating, StatusInProgress:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal transition.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the deployment to the given status, stamping EndedAt on
// terminal states. It returns ErrInvalidState when the transition is illegal.
func (d *Deployment) Transition(to Status) error {
	if !d.Status.CanTransition(to) {
		return fmt.Errorf("%w: cannot transition deployment %s from %s to %s",
			ErrInvalidState, d.ID, d.Status, to)
	}
	d.Status = to
	if to.IsTerminal() {
		now := time.Now()
		d.EndedAt = &now
	}
	return nil
}
