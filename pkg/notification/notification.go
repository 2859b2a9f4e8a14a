// Package notification delivers deployment lifecycle events to operator
// channels. A failed rollback is the one event that must always reach a
// human, so it is sent at critical severity.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// EventType represents the type of deployment event
type EventType string

const (
	EventDeployStarted    EventType = "deploy_started"
	EventDeploySucceeded  EventType = "deploy_succeeded"
	EventDeployFailed     EventType = "deploy_failed"
	EventDeployCancelled  EventType = "deploy_cancelled"
	EventRollbackStarted  EventType = "rollback_started"
	EventRollbackDone     EventType = "rollback_done"
	EventRollbackFailed   EventType = "rollback_failed"
	EventTriggerBreached  EventType = "trigger_breached"
	EventManualMigration  EventType = "manual_migration_required"
)

// Severity classifies how urgently an event needs operator attention
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a notification event
type Event struct {
	Type         EventType         `json:"type"`
	Severity     Severity          `json:"severity"`
	Application  string            `json:"application"`
	Environment  string            `json:"environment"`
	DeploymentID string            `json:"deploymentId,omitempty"`
	Version      string            `json:"version,omitempty"`
	Message      string            `json:"message"`
	Details      map[string]string `json:"details,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Duration     time.Duration     `json:"duration,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// NotifierConfig holds configuration for notifications
type NotifierConfig struct {
	SlackWebhook   string `yaml:"slackWebhook,omitempty"`
	DiscordWebhook string `yaml:"discordWebhook,omitempty"`
	Webhook        string `yaml:"webhook,omitempty"` // generic JSON webhook
}

// Notifier handles sending notifications
type Notifier struct {
	config NotifierConfig
	client *http.Client
}

// NewNotifier creates a new notifier
func NewNotifier(config NotifierConfig) *Notifier {
	return &Notifier{
		config: config,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify sends an event to all configured channels. Delivery failures on
// one channel do not block the others.
func (n *Notifier) Notify(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = severityFor(event.Type)
	}

	var errors []string

	if n.config.SlackWebhook != "" {
		if err := n.sendSlack(ctx, event); err != nil {
			errors = append(errors, fmt.Sprintf("slack: %v", err))
		}
	}

	if n.config.DiscordWebhook != "" {
		if err := n.sendDiscord(ctx, event); err != nil {
			errors = append(errors, fmt.Sprintf("discord: %v", err))
		}
	}

	if n.config.Webhook != "" {
		if err := n.postJSON(ctx, n.config.Webhook, event); err != nil {
			errors = append(errors, fmt.Sprintf("webhook: %v", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// sendSlack sends a notification to Slack
func (n *Notifier) sendSlack(ctx context.Context, event Event) error {
	fields := []map[string]string{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Application:*\n%s", event.Application)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Environment:*\n%s", event.Environment)},
	}
	if event.Version != "" {
		fields = append(fields, map[string]string{"type": "mrkdwn", "text": fmt.Sprintf("*Version:*\n%s", event.Version)})
	}
	if event.DeploymentID != "" {
		fields = append(fields, map[string]string{"type": "mrkdwn", "text": fmt.Sprintf("*Deployment:*\n%s", event.DeploymentID)})
	}

	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]string{
				"type":  "plain_text",
				"text":  eventTitle(event.Type),
				"emoji": "true",
			},
		},
		{
			"type":   "section",
			"fields": fields,
		},
		{
			"type": "section",
			"text": map[string]string{
				"type": "mrkdwn",
				"text": event.Message,
			},
		},
	}

	if event.Error != "" {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]string{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Error:*\n```%s```", event.Error),
			},
		})
	}

	blocks = append(blocks, map[string]interface{}{
		"type": "context",
		"elements": []map[string]string{
			{"type": "mrkdwn", "text": fmt.Sprintf("<!date^%d^{date_short_pretty} at {time}|%s>",
				event.Timestamp.Unix(), event.Timestamp.Format(time.RFC3339))},
		},
	})

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":  eventColor(event.Severity),
				"blocks": blocks,
			},
		},
	}

	return n.postJSON(ctx, n.config.SlackWebhook, payload)
}

// sendDiscord sends a notification to Discord
func (n *Notifier) sendDiscord(ctx context.Context, event Event) error {
	fields := []map[string]interface{}{
		{"name": "Application", "value": event.Application, "inline": true},
		{"name": "Environment", "value": event.Environment, "inline": true},
	}

	if event.Version != "" {
		fields = append(fields, map[string]interface{}{"name": "Version", "value": event.Version, "inline": true})
	}
	if event.Error != "" {
		fields = append(fields, map[string]interface{}{"name": "Error", "value": fmt.Sprintf("```%s```", event.Error), "inline": false})
	}
	if event.Duration > 0 {
		fields = append(fields, map[string]interface{}{"name": "Duration", "value": event.Duration.Round(time.Second).String(), "inline": true})
	}

	embed := map[string]interface{}{
		"title":       eventTitle(event.Type),
		"description": event.Message,
		"color":       eventColorInt(event.Severity),
		"fields":      fields,
		"timestamp":   event.Timestamp.Format(time.RFC3339),
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	return n.postJSON(ctx, n.config.DiscordWebhook, payload)
}

// postJSON sends a JSON payload to a URL
func (n *Notifier) postJSON(ctx context.Context, url string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func severityFor(eventType EventType) Severity {
	switch eventType {
	case EventRollbackFailed:
		return SeverityCritical
	case EventDeployFailed, EventTriggerBreached, EventManualMigration:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// eventColor returns a hex color for the severity (Slack)
func eventColor(severity Severity) string {
	switch severity {
	case SeverityCritical:
		return "#dc3545" // Red
	case SeverityWarning:
		return "#ffc107" // Yellow
	default:
		return "#36a64f" // Green
	}
}

// eventColorInt returns an integer color for Discord
func eventColorInt(severity Severity) int {
	switch severity {
	case SeverityCritical:
		return 0xdc3545 // Red
	case SeverityWarning:
		return 0xffc107 // Yellow
	default:
		return 0x36a64f // Green
	}
}

// eventTitle returns a human-readable title for the event type
func eventTitle(eventType EventType) string {
	switch eventType {
	case EventDeployStarted:
		return "Deployment Started"
	case EventDeploySucceeded:
		return "Deployment Succeeded"
	case EventDeployFailed:
		return "Deployment Failed"
	case EventDeployCancelled:
		return "Deployment Cancelled"
	case EventRollbackStarted:
		return "Rollback Started"
	case EventRollbackDone:
		return "Rollback Completed"
	case EventRollbackFailed:
		return "ROLLBACK FAILED - Manual Intervention Required"
	case EventTriggerBreached:
		return "Rollback Trigger Breached"
	case EventManualMigration:
		return "Manual Migration Intervention Required"
	default:
		return "Rollout Notification"
	}
}

// Helper functions to create common events

// DeployStartedEvent creates a deploy started event
func DeployStartedEvent(application, env, deploymentID, version string) Event {
	return Event{
		Type:         EventDeployStarted,
		Application:  application,
		Environment:  env,
		DeploymentID: deploymentID,
		Version:      version,
		Message:      fmt.Sprintf("Starting deployment of `%s` version `%s` to `%s`", application, version, env),
		Timestamp:    time.Now(),
	}
}

// DeploySucceededEvent creates a deploy succeeded event
func DeploySucceededEvent(application, env, deploymentID, version string, duration time.Duration) Event {
	return Event{
		Type:         EventDeploySucceeded,
		Application:  application,
		Environment:  env,
		DeploymentID: deploymentID,
		Version:      version,
		Message:      fmt.Sprintf("Successfully deployed `%s` version `%s` to `%s`", application, version, env),
		Duration:     duration,
		Timestamp:    time.Now(),
	}
}

// DeployFailedEvent creates a deploy failed event
func DeployFailedEvent(application, env, deploymentID, version string, err error) Event {
	return Event{
		Type:         EventDeployFailed,
		Application:  application,
		Environment:  env,
		DeploymentID: deploymentID,
		Version:      version,
		Message:      fmt.Sprintf("Failed to deploy `%s` version `%s` to `%s`", application, version, env),
		Error:        err.Error(),
		Timestamp:    time.Now(),
	}
}

// RollbackFailedEvent creates the critical operator alert for a rollback
// that could not restore the previous version.
func RollbackFailedEvent(application, env, deploymentID string, err error) Event {
	return Event{
		Type:         EventRollbackFailed,
		Severity:     SeverityCritical,
		Application:  application,
		Environment:  env,
		DeploymentID: deploymentID,
		Message:      fmt.Sprintf("Rollback of `%s` in `%s` failed; the environment needs manual restoration", application, env),
		Error:        err.Error(),
		Timestamp:    time.Now(),
	}
}

// TriggerBreachedEvent creates a monitoring trigger breach event
func TriggerBreachedEvent(application, env, deploymentID, breach string) Event {
	return Event{
		Type:         EventTriggerBreached,
		Application:  application,
		Environment:  env,
		DeploymentID: deploymentID,
		Message:      fmt.Sprintf("Rollback trigger breached for `%s` in `%s`: %s", application, env, breach),
		Details:      map[string]string{"breach": breach},
		Timestamp:    time.Now(),
	}
}
