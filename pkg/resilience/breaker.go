package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrBreakerOpen is returned when the circuit is open and calls are refused.
var ErrBreakerOpen = gobreaker.ErrOpenState

// Breaker wraps sony/gobreaker with engine defaults. One breaker guards one
// collaborator (the control plane, the probe transport) so that a down
// collaborator is reported as unavailable instead of hammered.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// BreakerOption configures a Breaker.
type BreakerOption func(*gobreaker.Settings)

// WithMaxRequests sets how many requests pass through in half-open state.
func WithMaxRequests(n uint32) BreakerOption {
	return func(s *gobreaker.Settings) { s.MaxRequests = n }
}

// WithInterval sets the closed-state window for clearing failure counts.
func WithInterval(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) { s.Interval = d }
}

// WithOpenTimeout sets how long the breaker stays open before half-open.
func WithOpenTimeout(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) { s.Timeout = d }
}

// WithFailureThreshold sets the consecutive failures that trip the breaker.
func WithFailureThreshold(n uint32) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= n
		}
	}
}

// WithOnStateChange sets a callback for breaker state transitions.
func WithOnStateChange(fn func(name, from, to string)) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.OnStateChange = func(name string, from, to gobreaker.State) {
			fn(name, from.String(), to.String())
		}
	}
}

// NewBreaker creates a circuit breaker with engine defaults: 3 half-open
// requests, 60s stat window, 30s open timeout, trip after 5 consecutive
// failures.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}
	return &Breaker{
		cb:   gobreaker.NewCircuitBreaker[any](settings),
		name: name,
	}
}

// Execute runs an operation through the breaker. It returns ErrBreakerOpen
// (possibly wrapped) when the circuit refuses the call.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// Open reports whether the circuit currently refuses calls.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Name returns the breaker's identifying name.
func (b *Breaker) Name() string { return b.name }

// IsBreakerOpen reports whether err came from an open or overloaded circuit.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
