// Package audit provides the append-only record of deployment lifecycle
// events. Entries are written once and never mutated.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shiprail/rollout/pkg/deploy"
)

// EventType represents the type of audit event
type EventType string

const (
	EventDeploymentRequested EventType = "deployment.requested"
	EventDeploymentStarted   EventType = "deployment.started"
	EventStageCompleted      EventType = "deployment.stage"
	EventDeploymentSucceeded EventType = "deployment.succeeded"
	EventDeploymentFailed    EventType = "deployment.failed"
	EventDeploymentCancelled EventType = "deployment.cancelled"
	EventRollbackStarted     EventType = "rollback.started"
	EventRollbackCompleted   EventType = "rollback.completed"
	EventRollbackFailed      EventType = "rollback.failed"
	EventTriggerBreached     EventType = "trigger.breached"
)

// Entry represents one audit event
type Entry struct {
	ID           string              `json:"id"`
	Type         EventType           `json:"type"`
	DeploymentID string              `json:"deploymentId"`
	Application  string              `json:"application"`
	Environment  string              `json:"environment"`
	Status       deploy.Status       `json:"status,omitempty"`
	Stage        *deploy.StageResult `json:"stage,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	Actor        string              `json:"actor,omitempty"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// Sink is an append-only destination for audit entries
type Sink interface {
	Record(entry *Entry) error
	Close() error
}

// NewEntry builds an entry for a deployment, stamped with a fresh ID
func NewEntry(typ EventType, dep *deploy.Deployment) *Entry {
	return &Entry{
		ID:           uuid.NewString(),
		Type:         typ,
		DeploymentID: dep.ID,
		Application:  dep.Config.Application,
		Environment:  dep.Config.Environment,
		Status:       dep.Status,
		Actor:        currentActor(),
		Timestamp:    time.Now(),
	}
}

// currentActor resolves who initiated the operation. Falls back to the
// process owner when no explicit actor is set.
func currentActor() string {
	if actor := os.Getenv("ROLLOUT_ACTOR"); actor != "" {
		return actor
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "unknown"
}

// FileSink appends entries to daily JSONL files
type FileSink struct {
	basePath string
	mu       sync.Mutex
	enabled  bool
}

// NewFileSink creates a file-based audit sink rooted at basePath.
// With an empty basePath it defaults to ~/.rollout/audit.
func NewFileSink(basePath string) (*FileSink, error) {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		basePath = filepath.Join(home, ".rollout", "audit")
	}

	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	return &FileSink{
		basePath: basePath,
		enabled:  true,
	}, nil
}

// Record appends an entry to the current day's file
func (s *FileSink) Record(entry *Entry) error {
	if !s.enabled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fileName := filepath.Join(
		s.basePath,
		entry.Timestamp.Format("2006-01-02")+".jsonl",
	)

	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	if err := encoder.Encode(entry); err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	return nil
}

// Close disables the sink
func (s *FileSink) Close() error {
	s.enabled = false
	return nil
}

// MemorySink retains entries in memory, mostly for tests
type MemorySink struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewMemorySink creates an in-memory audit sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends an entry
func (s *MemorySink) Record(entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of everything recorded so far
func (s *MemorySink) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Entry(nil), s.entries...)
}

// Close does nothing
func (s *MemorySink) Close() error {
	return nil
}

// NoopSink discards everything
type NoopSink struct{}

// NewNoopSink creates a discard sink
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

// Record does nothing
func (n *NoopSink) Record(entry *Entry) error {
	return nil
}

// Close does nothing
func (n *NoopSink) Close() error {
	return nil
}
