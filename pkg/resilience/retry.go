// Package resilience provides reliability patterns for control-plane and
// restoration operations: bounded retries with exponential backoff and a
// circuit breaker wrapper.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shiprail/rollout/pkg/deploy"
)

// RetryOption configures retry behavior.
type RetryOption func(*retryConfig)

type retryConfig struct {
	maxElapsed   time.Duration
	maxRetries   uint64
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	onRetry      func(err error, next time.Duration)
	classifier   func(error) bool // true when the error is retryable
}

// WithMaxElapsed caps the total time spent across all attempts.
func WithMaxElapsed(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.maxElapsed = d }
}

// WithMaxRetries caps the number of retry attempts.
func WithMaxRetries(n uint64) RetryOption {
	return func(c *retryConfig) { c.maxRetries = n }
}

// WithInitialDelay sets the first backoff interval.
func WithInitialDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.initialDelay = d }
}

// WithMaxDelay caps a single backoff interval.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.maxDelay = d }
}

// WithOnRetry sets a callback invoked before each retry wait.
func WithOnRetry(fn func(err error, next time.Duration)) RetryOption {
	return func(c *retryConfig) { c.onRetry = fn }
}

// WithClassifier overrides the default retryable-error classification.
func WithClassifier(fn func(error) bool) RetryOption {
	return func(c *retryConfig) { c.classifier = fn }
}

// Retry executes an operation with exponential backoff until it succeeds,
// the error is classified permanent, the retry budget is exhausted, or the
// context is cancelled.
func Retry(ctx context.Context, operation func() error, opts ...RetryOption) error {
	cfg := &retryConfig{
		maxElapsed:   2 * time.Minute,
		initialDelay: time.Second,
		maxDelay:     30 * time.Second,
		multiplier:   2.0,
		classifier:   IsRetryable,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.initialDelay
	b.MaxInterval = cfg.maxDelay
	b.Multiplier = cfg.multiplier
	b.MaxElapsedTime = cfg.maxElapsed

	var bo backoff.BackOff = b
	if cfg.maxRetries > 0 {
		bo = backoff.WithMaxRetries(b, cfg.maxRetries)
	}
	bo = backoff.WithContext(bo, ctx)

	wrapped := func() error {
		err := operation()
		if err == nil {
			return nil
		}
		if !cfg.classifier(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if cfg.onRetry != nil {
		return backoff.RetryNotify(wrapped, bo, cfg.onRetry)
	}
	return backoff.Retry(wrapped, bo)
}

// IsRetryable reports whether an error is worth retrying. Input and state
// errors are permanent; everything else is assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, deploy.ErrInvalidState) || errors.Is(err, deploy.ErrConflict) || errors.Is(err, deploy.ErrNotFound) {
		return false
	}
	var verr *deploy.ValidationError
	if errors.As(err, &verr) {
		return false
	}
	var serr *deploy.StageFailureError
	if errors.As(err, &serr) {
		// A failing verdict is recovered via rollback, not by replaying
		// the same stage.
		return false
	}
	return true
}
