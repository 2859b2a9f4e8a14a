// Package store keeps deployment records and enforces the single active
// deployment per (application, environment) pair. Records live in memory;
// an optional directory persists them as JSON for inspection and restart.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shiprail/rollout/pkg/deploy"
)

// MaxHistoryEntries is the maximum number of terminal deployment records
// retained per store. Older terminal records are pruned; in-flight records
// are never pruned.
const MaxHistoryEntries = 50

type pair struct {
	application string
	environment string
}

// Store is an in-memory deployment record store with optional file
// persistence. All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	byID   map[string]*deploy.Deployment
	active map[pair]string // pair -> deployment ID holding the claim
	dir    string
}

// Option configures a Store.
type Option func(*Store)

// WithDir enables JSON file persistence under dir. Existing records in the
// directory are loaded when the store is created.
func WithDir(dir string) Option {
	return func(s *Store) { s.dir = dir }
}

// New creates a store. With WithDir set, previously persisted records are
// loaded; in-flight records found on disk reclaim their active pair so a
// restarted engine does not double-deploy.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		byID:   make(map[string]*deploy.Deployment),
		active: make(map[pair]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to initialize state directory: %w", err)
		}
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Claim atomically reserves the (application, environment) pair for the
// given deployment ID. Returns deploy.ErrConflict if another deployment
// already holds the pair. Claiming a pair already held by the same ID is
// a no-op.
func (s *Store) Claim(application, environment, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pair{application, environment}
	if holder, ok := s.active[key]; ok {
		if holder == id {
			return nil
		}
		return fmt.Errorf("%s/%s has active deployment %s: %w", application, environment, holder, deploy.ErrConflict)
	}
	s.active[key] = id
	return nil
}

// Release frees the (application, environment) pair if it is held by the
// given deployment ID. Releasing a pair held by someone else is a no-op.
func (s *Store) Release(application, environment, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pair{application, environment}
	if s.active[key] == id {
		delete(s.active, key)
	}
}

// Save records the current state of a deployment. A copy is stored so
// callers can keep mutating their record without racing readers.
func (s *Store) Save(dep *deploy.Deployment) error {
	if dep.ID == "" {
		return fmt.Errorf("deployment has no ID")
	}

	s.mu.Lock()
	snap := clone(dep)
	s.byID[dep.ID] = snap
	s.prune()
	s.mu.Unlock()

	if s.dir != "" {
		return s.persist(snap)
	}
	return nil
}

// Get returns a snapshot of the deployment with the given ID, or
// deploy.ErrNotFound.
func (s *Store) Get(id string) (*deploy.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dep, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("deployment %s: %w", id, deploy.ErrNotFound)
	}
	return clone(dep), nil
}

// ListActive returns snapshots of all non-terminal deployments, newest first.
func (s *Store) ListActive() []*deploy.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*deploy.Deployment
	for _, dep := range s.byID {
		if !dep.Status.IsTerminal() {
			result = append(result, clone(dep))
		}
	}
	sortNewestFirst(result)
	return result
}

// HistoryOptions filters deployment history queries.
type HistoryOptions struct {
	Application string        // filter by application name
	Environment string        // filter by environment name
	Status      deploy.Status // filter by status
	Since       time.Time     // only deployments started after this time
	Limit       int           // max records to return; 0 means no limit
}

// History returns deployment record snapshots matching opts, newest first.
func (s *Store) History(opts HistoryOptions) []*deploy.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*deploy.Deployment
	for _, dep := range s.byID {
		if opts.Application != "" && dep.Config.Application != opts.Application {
			continue
		}
		if opts.Environment != "" && dep.Config.Environment != opts.Environment {
			continue
		}
		if opts.Status != "" && dep.Status != opts.Status {
			continue
		}
		if !opts.Since.IsZero() && dep.StartedAt.Before(opts.Since) {
			continue
		}
		result = append(result, clone(dep))
	}

	sortNewestFirst(result)
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result
}

// LatestSucceeded returns the most recent succeeded deployment for the
// given application and environment, or deploy.ErrNotFound.
func (s *Store) LatestSucceeded(application, environment string) (*deploy.Deployment, error) {
	deps := s.History(HistoryOptions{
		Application: application,
		Environment: environment,
		Status:      deploy.StatusSucceeded,
		Limit:       1,
	})
	if len(deps) == 0 {
		return nil, fmt.Errorf("no succeeded deployment for %s/%s: %w", application, environment, deploy.ErrNotFound)
	}
	return deps[0], nil
}

// prune drops the oldest terminal records beyond MaxHistoryEntries.
// Caller holds the lock.
func (s *Store) prune() {
	var terminal []*deploy.Deployment
	for _, dep := range s.byID {
		if dep.Status.IsTerminal() {
			terminal = append(terminal, dep)
		}
	}
	if len(terminal) <= MaxHistoryEntries {
		return
	}
	sortNewestFirst(terminal)
	for _, dep := range terminal[MaxHistoryEntries:] {
		delete(s.byID, dep.ID)
		if s.dir != "" {
			os.Remove(s.recordPath(dep.ID))
		}
	}
}

func (s *Store) persist(dep *deploy.Deployment) error {
	data, err := json.MarshalIndent(dep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize deployment record: %w", err)
	}

	// Write to a temp file, then rename into place so readers never see
	// a partial record.
	final := s.recordPath(dep.ID)
	tmp := fmt.Sprintf("%s.tmp-%d", final, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write deployment record: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move deployment record: %w", err)
	}
	return nil
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read state directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read deployment record %s: %w", entry.Name(), err)
		}
		var dep deploy.Deployment
		if err := json.Unmarshal(data, &dep); err != nil {
			return fmt.Errorf("failed to parse deployment record %s: %w", entry.Name(), err)
		}
		s.byID[dep.ID] = &dep
		if !dep.Status.IsTerminal() {
			s.active[pair{dep.Config.Application, dep.Config.Environment}] = dep.ID
		}
	}
	return nil
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func sortNewestFirst(deps []*deploy.Deployment) {
	sort.Slice(deps, func(i, j int) bool {
		return deps[i].StartedAt.After(deps[j].StartedAt)
	})
}

func clone(dep *deploy.Deployment) *deploy.Deployment {
	out := *dep
	if dep.EndedAt != nil {
		t := *dep.EndedAt
		out.EndedAt = &t
	}
	if dep.Trigger != nil {
		trig := *dep.Trigger
		out.Trigger = &trig
	}
	out.Stages = append([]deploy.StageResult(nil), dep.Stages...)
	out.Warnings = append([]string(nil), dep.Warnings...)
	return &out
}
