package controlplane

import (
	"context"
	"fmt"

	"github.com/shiprail/rollout/pkg/deploy"
	"github.com/shiprail/rollout/pkg/resilience"
)

// BreakerControlPlane decorates a ControlPlane with a circuit breaker. When
// the platform API is down the breaker opens and calls fail fast; endpoint
// listing failures surface as ProbeUnavailableError so callers treat health
// as unknown rather than healthy.
type BreakerControlPlane struct {
	inner   ControlPlane
	breaker *resilience.Breaker
}

// NewBreakerControlPlane wraps cp with a named circuit breaker.
func NewBreakerControlPlane(cp ControlPlane, opts ...resilience.BreakerOption) *BreakerControlPlane {
	return &BreakerControlPlane{
		inner:   cp,
		breaker: resilience.NewBreaker("control-plane", opts...),
	}
}

func (b *BreakerControlPlane) Scale(ctx context.Context, target Target, replicas int) error {
	return b.breaker.Execute(func() error {
		return b.inner.Scale(ctx, target, replicas)
	})
}

func (b *BreakerControlPlane) ShiftTraffic(ctx context.Context, target Target, percent int) error {
	return b.breaker.Execute(func() error {
		return b.inner.ShiftTraffic(ctx, target, percent)
	})
}

func (b *BreakerControlPlane) Swap(ctx context.Context, blue, green Target) error {
	return b.breaker.Execute(func() error {
		return b.inner.Swap(ctx, blue, green)
	})
}

func (b *BreakerControlPlane) Endpoints(ctx context.Context, target Target) ([]deploy.Endpoint, error) {
	var endpoints []deploy.Endpoint
	err := b.breaker.Execute(func() error {
		var innerErr error
		endpoints, innerErr = b.inner.Endpoints(ctx, target)
		return innerErr
	})
	if err != nil {
		if resilience.IsBreakerOpen(err) {
			return nil, &deploy.ProbeUnavailableError{Cause: fmt.Errorf("control plane circuit open: %w", err)}
		}
		return nil, err
	}
	return endpoints, nil
}
