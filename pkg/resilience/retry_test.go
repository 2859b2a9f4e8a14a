package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shiprail/rollout/pkg/deploy"
	"github.com/shiprail/rollout/pkg/resilience"
)

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := resilience.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, resilience.WithInitialDelay(time.Millisecond), resilience.WithMaxRetries(5))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_PermanentErrorStopsImmediately(t *testing.T) {
	attempts := 0
	verr := &deploy.ValidationError{Field: "replicas", Reason: "must be at least 1"}
	err := resilience.Retry(context.Background(), func() error {
		attempts++
		return verr
	}, resilience.WithInitialDelay(time.Millisecond), resilience.WithMaxRetries(5))
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("validation errors must not be retried, got %d attempts", attempts)
	}
}

func TestRetry_BoundedAttempts(t *testing.T) {
	attempts := 0
	err := resilience.Retry(context.Background(), func() error {
		attempts++
		return errors.New("still down")
	}, resilience.WithInitialDelay(time.Millisecond), resilience.WithMaxRetries(2))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected initial attempt plus 2 retries, got %d", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- resilience.Retry(ctx, func() error {
			attempts++
			return errors.New("transient")
		}, resilience.WithInitialDelay(time.Hour))
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not interrupt the retry wait")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", errors.New("connection refused"), true},
		{"conflict", deploy.ErrConflict, false},
		{"invalid state", deploy.ErrInvalidState, false},
		{"stage failure", &deploy.StageFailureError{Stage: "canary-50", Reason: "unhealthy"}, false},
		{"context deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resilience.IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := resilience.NewBreaker("test", resilience.WithFailureThreshold(2))
	fail := func() error { return errors.New("down") }
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	if !b.Open() {
		t.Fatal("expected breaker to open after threshold failures")
	}
	err := b.Execute(func() error { return nil })
	if !resilience.IsBreakerOpen(err) {
		t.Fatalf("expected open-circuit error, got %v", err)
	}
}
