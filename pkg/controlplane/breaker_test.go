package controlplane

import (
	"context"
	"errors"
	"testing"

	"github.com/shiprail/rollout/pkg/deploy"
	"github.com/shiprail/rollout/pkg/resilience"
)

func TestBreakerPassesThrough(t *testing.T) {
	sim := NewSimulator()
	cp := NewBreakerControlPlane(sim)
	target := Target{Application: "web", Environment: "production", Version: "v1"}

	if err := cp.Scale(context.Background(), target, 3); err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if got := sim.Replicas(target); got != 3 {
		t.Errorf("expected 3 replicas, got %d", got)
	}

	endpoints, err := cp.Endpoints(context.Background(), target)
	if err != nil {
		t.Fatalf("Endpoints: %v", err)
	}
	if len(endpoints) != 3 {
		t.Errorf("expected 3 endpoints, got %d", len(endpoints))
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	sim := NewSimulator()
	cp := NewBreakerControlPlane(sim, resilience.WithFailureThreshold(2))
	target := Target{Application: "web", Environment: "production", Version: "v1"}
	boom := errors.New("platform api down")

	for i := 0; i < 2; i++ {
		sim.FailNext("scale", boom)
		if err := cp.Scale(context.Background(), target, 1); !errors.Is(err, boom) {
			t.Fatalf("expected injected error, got %v", err)
		}
	}

	// Circuit is open now; the call fails fast without reaching the platform.
	err := cp.Scale(context.Background(), target, 1)
	if !resilience.IsBreakerOpen(err) {
		t.Fatalf("expected open breaker, got %v", err)
	}
}

func TestBreakerOpenEndpointsIsProbeUnavailable(t *testing.T) {
	sim := NewSimulator()
	cp := NewBreakerControlPlane(sim, resilience.WithFailureThreshold(1))
	target := Target{Application: "web", Environment: "production", Version: "v1"}

	sim.FailNext("endpoints", errors.New("platform api down"))
	if _, err := cp.Endpoints(context.Background(), target); err == nil {
		t.Fatal("expected injected failure")
	}

	_, err := cp.Endpoints(context.Background(), target)
	var unavailable *deploy.ProbeUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ProbeUnavailableError from open circuit, got %v", err)
	}
}
