package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestSeverityClassification(t *testing.T) {
	tests := []struct {
		typ  EventType
		want Severity
	}{
		{EventDeployStarted, SeverityInfo},
		{EventDeploySucceeded, SeverityInfo},
		{EventRollbackStarted, SeverityInfo},
		{EventRollbackDone, SeverityInfo},
		{EventDeployFailed, SeverityWarning},
		{EventTriggerBreached, SeverityWarning},
		{EventManualMigration, SeverityWarning},
		{EventRollbackFailed, SeverityCritical},
	}

	for _, tt := range tests {
		if got := severityFor(tt.typ); got != tt.want {
			t.Errorf("severityFor(%s): expected %s, got %s", tt.typ, tt.want, got)
		}
	}
}

func TestNotifyPostsToWebhook(t *testing.T) {
	var mu sync.Mutex
	var received []Event

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var event Event
		if err := json.Unmarshal(body, &event); err != nil {
			t.Errorf("bad webhook payload: %v", err)
		}
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(NotifierConfig{Webhook: server.URL})
	event := DeployStartedEvent("web", "production", "dep-1", "v2")

	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(received))
	}
	got := received[0]
	if got.Type != EventDeployStarted || got.Application != "web" || got.Version != "v2" {
		t.Errorf("unexpected event delivered: %+v", got)
	}
	if got.Severity != SeverityInfo {
		t.Errorf("expected info severity stamped, got %s", got.Severity)
	}
	if got.Timestamp.IsZero() {
		t.Error("expected timestamp stamped before delivery")
	}
}

func TestNotifyAggregatesChannelFailures(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	n := NewNotifier(NotifierConfig{
		SlackWebhook: broken.URL,
		Webhook:      healthy.URL,
	})

	err := n.Notify(context.Background(), RollbackFailedEvent("web", "production", "dep-1", context.DeadlineExceeded))
	if err == nil {
		t.Fatal("expected the failed channel to surface an error")
	}
	if !strings.Contains(err.Error(), "slack") {
		t.Errorf("expected slack named in the error, got %v", err)
	}
	if strings.Contains(err.Error(), "webhook:") {
		t.Errorf("healthy channel should not appear in the error, got %v", err)
	}
}

func TestRollbackFailedEventIsCritical(t *testing.T) {
	event := RollbackFailedEvent("web", "production", "dep-1", context.DeadlineExceeded)
	if event.Severity != SeverityCritical {
		t.Errorf("expected critical severity, got %s", event.Severity)
	}
	if event.Error == "" {
		t.Error("expected the cause recorded on the event")
	}
}
