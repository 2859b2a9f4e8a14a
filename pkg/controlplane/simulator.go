package controlplane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shiprail/rollout/pkg/deploy"
)

// Action records one control-plane operation applied to the simulator.
type Action struct {
	Op      string // "scale", "shift-traffic", "swap"
	Target  Target
	Value   int // replicas or traffic percent
	Applied time.Time
}

// Simulator is an in-memory control plane. It models versioned fleets,
// traffic weights, and per-version endpoint health, and records every action
// applied to it. It backs the engine in tests and in dry-run mode, where no
// real platform is attached.
type Simulator struct {
	mu       sync.Mutex
	replicas map[Target]int
	traffic  map[string]map[string]int // app/env -> version -> percent
	health   map[string]deploy.HealthStatus
	latency  map[string]time.Duration
	failNext map[string]error // op name -> error to inject once
	actions  []Action
	baseURL  string
}

// NewSimulator creates an empty simulated control plane.
func NewSimulator() *Simulator {
	return &Simulator{
		replicas: make(map[Target]int),
		traffic:  make(map[string]map[string]int),
		health:   make(map[string]deploy.HealthStatus),
		latency:  make(map[string]time.Duration),
		failNext: make(map[string]error),
		baseURL:  "sim://",
	}
}

func pairKey(t Target) string {
	return t.Application + "/" + t.Environment
}

// Seed registers an already-serving fleet: full replicas, 100% traffic,
// healthy endpoints. Used to model the version running before a rollout.
func (s *Simulator) Seed(target Target, replicas int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replicas[target] = replicas
	s.setTrafficLocked(target, 100)
	s.health[target.Version] = deploy.Healthy
}

// SetHealth overrides the health reported by every endpoint of a version.
func (s *Simulator) SetHealth(version string, status deploy.HealthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[version] = status
}

// SetLatency sets the latency reported by endpoints of a version.
func (s *Simulator) SetLatency(version string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency[version] = d
}

// FailNext injects one error for the named operation ("scale",
// "shift-traffic", "swap", "endpoints").
func (s *Simulator) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = err
}

func (s *Simulator) takeInjected(op string) error {
	if err, ok := s.failNext[op]; ok {
		delete(s.failNext, op)
		return err
	}
	return nil
}

// Scale sets the replica count of a fleet.
func (s *Simulator) Scale(ctx context.Context, target Target, replicas int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeInjected("scale"); err != nil {
		return err
	}
	if replicas < 0 {
		return fmt.Errorf("scale %s to %d: negative replica count", target.Version, replicas)
	}
	s.replicas[target] = replicas
	s.actions = append(s.actions, Action{Op: "scale", Target: target, Value: replicas, Applied: time.Now()})
	return nil
}

// ShiftTraffic routes percent of traffic to the target version; the rest
// stays with the other versions of the pair, proportionally unchanged.
func (s *Simulator) ShiftTraffic(ctx context.Context, target Target, percent int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeInjected("shift-traffic"); err != nil {
		return err
	}
	if percent < 0 || percent > 100 {
		return fmt.Errorf("shift traffic to %d%%: out of range", percent)
	}
	s.setTrafficLocked(target, percent)
	s.actions = append(s.actions, Action{Op: "shift-traffic", Target: target, Value: percent, Applied: time.Now()})
	return nil
}

func (s *Simulator) setTrafficLocked(target Target, percent int) {
	key := pairKey(target)
	weights, ok := s.traffic[key]
	if !ok {
		weights = make(map[string]int)
		s.traffic[key] = weights
	}
	remainder := 100 - percent
	for version := range weights {
		if version != target.Version {
			if len(weights) > 1 {
				weights[version] = remainder
			}
		}
	}
	weights[target.Version] = percent
}

// Swap atomically moves all traffic from blue to green.
func (s *Simulator) Swap(ctx context.Context, blue, green Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeInjected("swap"); err != nil {
		return err
	}
	key := pairKey(green)
	weights, ok := s.traffic[key]
	if !ok {
		weights = make(map[string]int)
		s.traffic[key] = weights
	}
	weights[blue.Version] = 0
	weights[green.Version] = 100
	s.actions = append(s.actions, Action{Op: "swap", Target: green, Value: 100, Applied: time.Now()})
	return nil
}

// Endpoints lists one endpoint per replica of the fleet.
func (s *Simulator) Endpoints(ctx context.Context, target Target) ([]deploy.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeInjected("endpoints"); err != nil {
		return nil, err
	}
	count := s.replicas[target]
	endpoints := make([]deploy.Endpoint, 0, count)
	for i := 0; i < count; i++ {
		endpoints = append(endpoints, deploy.Endpoint{
			ID:      fmt.Sprintf("%s-%s-%d", target.Application, target.Version, i),
			URL:     fmt.Sprintf("%s%s/%s/%s/%d", s.baseURL, target.Application, target.Environment, target.Version, i),
			Version: target.Version,
		})
	}
	return endpoints, nil
}

// Check reports the simulated health of an endpoint. It satisfies the
// prober's check function: an error means the sample failed.
func (s *Simulator) Check(ctx context.Context, ep deploy.Endpoint) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	status := s.health[ep.Version]
	latency, ok := s.latency[ep.Version]
	s.mu.Unlock()
	if !ok {
		latency = 5 * time.Millisecond
	}
	switch status {
	case deploy.Unhealthy:
		return 0, fmt.Errorf("endpoint %s: connection refused", ep.ID)
	case deploy.Degraded:
		// Degraded endpoints answer slowly but do answer.
		return latency * 10, nil
	default:
		return latency, nil
	}
}

// Replicas returns the current replica count of a fleet.
func (s *Simulator) Replicas(target Target) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replicas[target]
}

// TrafficPercent returns the traffic weight of a version for a pair.
func (s *Simulator) TrafficPercent(target Target) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	weights, ok := s.traffic[pairKey(target)]
	if !ok {
		return 0
	}
	return weights[target.Version]
}

// Actions returns a copy of all recorded actions.
func (s *Simulator) Actions() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Action, len(s.actions))
	copy(out, s.actions)
	return out
}

// StaticResolver resolves versions against a fixed image repository.
type StaticResolver struct {
	Repository string
}

// Resolve returns an artifact reference of the form repository:version.
func (r StaticResolver) Resolve(ctx context.Context, version string) (ArtifactRef, error) {
	if version == "" {
		return ArtifactRef{}, fmt.Errorf("resolve artifact: empty version")
	}
	return ArtifactRef{
		Image:   fmt.Sprintf("%s:%s", r.Repository, version),
		Version: version,
	}, nil
}

// RecordingMigrationRunner is an in-memory MigrationRunner that records the
// migrations applied and rolled back, with optional failure injection.
type RecordingMigrationRunner struct {
	mu           sync.Mutex
	Applied      []deploy.MigrationSpec
	RolledBack   []deploy.MigrationSpec
	FailApply    error
	FailRollback error
}

func (m *RecordingMigrationRunner) Apply(ctx context.Context, spec deploy.MigrationSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailApply != nil {
		return m.FailApply
	}
	m.Applied = append(m.Applied, spec)
	return nil
}

func (m *RecordingMigrationRunner) Rollback(ctx context.Context, spec deploy.MigrationSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRollback != nil {
		return m.FailRollback
	}
	m.RolledBack = append(m.RolledBack, spec)
	return nil
}

// StaticAnalyzer serves quality checks from a fixed map keyed by version.
type StaticAnalyzer struct {
	mu     sync.Mutex
	Checks map[string]*deploy.QualityCheck
}

// SetCheck registers or replaces the quality check for a version.
func (a *StaticAnalyzer) SetCheck(version string, check *deploy.QualityCheck) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Checks == nil {
		a.Checks = make(map[string]*deploy.QualityCheck)
	}
	a.Checks[version] = check
}

// Latest returns the check for a version, or nil when none exists.
func (a *StaticAnalyzer) Latest(ctx context.Context, application, version string) (*deploy.QualityCheck, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Checks[version], nil
}
