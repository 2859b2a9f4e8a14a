// Package probe implements the health prober: parallel observation of a set
// of endpoints over a window, aggregated into a single health snapshot. The
// prober is purely observational; it never mutates deployment state.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shiprail/rollout/pkg/deploy"
	"github.com/shiprail/rollout/pkg/telemetry"
)

// CheckFunc samples one endpoint once. A returned error counts as a failed
// sample for that endpoint, not as a prober error.
type CheckFunc func(ctx context.Context, ep deploy.Endpoint) (time.Duration, error)

// Prober polls endpoints and aggregates health over an observation window.
type Prober struct {
	check            CheckFunc
	sampleInterval   time.Duration
	softErrorCeiling float64       // aggregate error rate above which health degrades
	degradedLatency  time.Duration // per-sample latency above which a target degrades; 0 disables
}

// Option configures a Prober.
type Option func(*Prober)

// WithCheck replaces the endpoint check function.
func WithCheck(fn CheckFunc) Option {
	return func(p *Prober) { p.check = fn }
}

// WithSampleInterval sets the delay between samples of one endpoint.
func WithSampleInterval(d time.Duration) Option {
	return func(p *Prober) { p.sampleInterval = d }
}

// WithSoftErrorCeiling sets the aggregate error rate that degrades an
// otherwise healthy snapshot.
func WithSoftErrorCeiling(rate float64) Option {
	return func(p *Prober) { p.softErrorCeiling = rate }
}

// WithDegradedLatency sets the per-sample latency above which a target is
// considered degraded.
func WithDegradedLatency(d time.Duration) Option {
	return func(p *Prober) { p.degradedLatency = d }
}

// NewProber creates a prober. The default check performs an HTTP GET against
// the endpoint URL with a 10s timeout.
func NewProber(opts ...Option) *Prober {
	p := &Prober{
		check:            httpCheck(10 * time.Second),
		sampleInterval:   5 * time.Second,
		softErrorCeiling: 0.05,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// httpCheck returns a CheckFunc backed by a plain HTTP client. Any response
// is a successful sample; transport errors and 5xx responses fail it.
func httpCheck(timeout time.Duration) CheckFunc {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context, ep deploy.Endpoint) (time.Duration, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
		if err != nil {
			return 0, err
		}
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return 0, fmt.Errorf("endpoint %s returned %d", ep.ID, resp.StatusCode)
		}
		return time.Since(start), nil
	}
}

// Probe observes all targets in parallel for the given window and returns
// the aggregate snapshot. Each endpoint gets its own goroutine; results are
// joined at a barrier bounded by the window. An unreachable target counts as
// unhealthy; only the prober's own inability to observe anything surfaces as
// ProbeUnavailableError.
func (p *Prober) Probe(ctx context.Context, targets []deploy.Endpoint, window time.Duration) (deploy.HealthSnapshot, error) {
	if len(targets) == 0 {
		return deploy.HealthSnapshot{}, &deploy.ProbeUnavailableError{
			Cause: fmt.Errorf("no endpoints to probe"),
		}
	}

	deadline := time.Now().Add(window)
	probeCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	probeCtx, span := telemetry.TraceProbe(probeCtx, len(targets), window)
	defer span.End()

	results := make([]deploy.TargetHealth, len(targets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(probeCtx)
	for i, ep := range targets {
		i, ep := i, ep
		g.Go(func() error {
			th := p.observe(gctx, ep, deadline)
			mu.Lock()
			results[i] = th
			mu.Unlock()
			return nil
		})
	}
	// The group never returns an error; failed samples are aggregated,
	// not propagated individually.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		// The caller's context (not the window deadline) was cancelled.
		return deploy.HealthSnapshot{}, err
	}

	return p.aggregate(results, window), nil
}

// observe samples one endpoint repeatedly until the deadline.
func (p *Prober) observe(ctx context.Context, ep deploy.Endpoint, deadline time.Time) deploy.TargetHealth {
	var latencies []time.Duration
	samples, failures := 0, 0

	for {
		latency, err := p.check(ctx, ep)
		samples++
		if err != nil {
			failures++
		} else {
			latencies = append(latencies, latency)
		}

		remaining := time.Until(deadline)
		if remaining <= p.sampleInterval {
			break
		}
		select {
		case <-ctx.Done():
			return p.classify(ep, samples, failures, latencies)
		case <-time.After(p.sampleInterval):
		}
	}

	return p.classify(ep, samples, failures, latencies)
}

func (p *Prober) classify(ep deploy.Endpoint, samples, failures int, latencies []time.Duration) deploy.TargetHealth {
	th := deploy.TargetHealth{
		Endpoint: ep,
		Samples:  samples,
		P95:      percentile95(latencies),
	}
	if samples > 0 {
		th.ErrorRate = float64(failures) / float64(samples)
	}
	switch {
	case samples == 0 || failures == samples:
		// Unreachable for the full window.
		th.Status = deploy.Unhealthy
	case failures > 0:
		th.Status = deploy.Degraded
	case p.degradedLatency > 0 && th.P95 > p.degradedLatency:
		th.Status = deploy.Degraded
	default:
		th.Status = deploy.Healthy
	}
	return th
}

// aggregate folds per-target results into the snapshot verdict.
func (p *Prober) aggregate(targets []deploy.TargetHealth, window time.Duration) deploy.HealthSnapshot {
	snapshot := deploy.HealthSnapshot{
		Targets:    targets,
		Window:     window,
		ObservedAt: time.Now(),
		Status:     deploy.Healthy,
	}

	var allLatencies []time.Duration
	totalSamples, totalFailures := 0, 0
	anyDegraded, anyUnhealthy := false, false

	for _, th := range targets {
		totalSamples += th.Samples
		totalFailures += int(th.ErrorRate*float64(th.Samples) + 0.5)
		if th.P95 > 0 {
			allLatencies = append(allLatencies, th.P95)
		}
		switch th.Status {
		case deploy.Unhealthy:
			anyUnhealthy = true
		case deploy.Degraded:
			anyDegraded = true
		}
	}

	if totalSamples > 0 {
		snapshot.ErrorRate = float64(totalFailures) / float64(totalSamples)
	}
	snapshot.P95Latency = percentile95(allLatencies)

	switch {
	case anyUnhealthy:
		snapshot.Status = deploy.Unhealthy
	case anyDegraded || snapshot.ErrorRate > p.softErrorCeiling:
		snapshot.Status = deploy.Degraded
	}
	return snapshot
}

// percentile95 returns the p95 of a latency sample set.
func percentile95(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted)*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx]
}
