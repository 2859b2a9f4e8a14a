package deploy

import (
	"errors"
	"testing"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusValidating, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusInProgress, false},
		{StatusPending, StatusSucceeded, false},
		{StatusValidating, StatusInProgress, true},
		{StatusValidating, StatusFailed, true},
		{StatusValidating, StatusCancelled, true},
		{StatusValidating, StatusMonitoring, false},
		{StatusInProgress, StatusMonitoring, true},
		{StatusInProgress, StatusRollingBack, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusSucceeded, false},
		{StatusMonitoring, StatusSucceeded, true},
		{StatusMonitoring, StatusRollingBack, true},
		{StatusMonitoring, StatusCancelled, false},
		{StatusMonitoring, StatusFailed, true},
		{StatusRollingBack, StatusRolledBack, true},
		{StatusRollingBack, StatusRollbackFailed, true},
		{StatusRollingBack, StatusSucceeded, false},
		{StatusSucceeded, StatusRollingBack, false},
		{StatusFailed, StatusPending, false},
		{StatusCancelled, StatusValidating, false},
		{StatusRolledBack, StatusMonitoring, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s: expected allowed=%v, got %v", tt.from, tt.to, tt.allowed, got)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []Status{StatusSucceeded, StatusFailed, StatusRolledBack, StatusRollbackFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	inFlight := []Status{StatusPending, StatusValidating, StatusInProgress, StatusMonitoring, StatusRollingBack}
	for _, s := range inFlight {
		if s.IsTerminal() {
			t.Errorf("expected %s to be in flight", s)
		}
	}
}

func TestCancellable(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusValidating, StatusInProgress} {
		if !s.Cancellable() {
			t.Errorf("expected %s to be cancellable", s)
		}
	}
	for _, s := range []Status{StatusMonitoring, StatusRollingBack, StatusSucceeded, StatusCancelled} {
		if s.Cancellable() {
			t.Errorf("expected %s not to be cancellable", s)
		}
	}
}

func TestTransitionStampsEndedAt(t *testing.T) {
	dep := &Deployment{ID: "d1", Status: StatusMonitoring}

	if err := dep.Transition(StatusSucceeded); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if dep.EndedAt == nil {
		t.Fatal("expected EndedAt to be set on a terminal transition")
	}
}

func TestIllegalTransitionWrapsErrInvalidState(t *testing.T) {
	dep := &Deployment{ID: "d1", Status: StatusSucceeded}

	err := dep.Transition(StatusRollingBack)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if dep.Status != StatusSucceeded {
		t.Errorf("status changed on illegal transition: %s", dep.Status)
	}
}

func TestRecordStageAdvancesCursor(t *testing.T) {
	dep := &Deployment{ID: "d1", Status: StatusInProgress}

	dep.RecordStage(StageResult{Name: "rolling-1/4", Outcome: StagePassed})
	dep.RecordStage(StageResult{Name: "rolling-2/4", Outcome: StagePassed})

	if len(dep.Stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(dep.Stages))
	}
	if dep.Stages[1].Index != 1 || dep.CurrentStageIndex != 1 {
		t.Errorf("expected cursor at index 1, got stage index %d cursor %d",
			dep.Stages[1].Index, dep.CurrentStageIndex)
	}
	if dep.Stages[0].Timestamp.IsZero() {
		t.Error("expected stage timestamp to be stamped")
	}
}
