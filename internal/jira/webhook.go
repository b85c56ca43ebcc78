package jira

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tuannvm/jira-pulse/internal/models"
)

// jiraTimeLayout is the timestamp format the REST API uses in changelogs.
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// ErrNoIssue is returned for webhook payloads without an issue key.
var ErrNoIssue = errors.New("webhook payload has no issue")

// WebhookPayload represents the standard Jira webhook payload structure
type WebhookPayload struct {
	Timestamp    int64             `json:"timestamp"`
	WebhookEvent string            `json:"webhookEvent"`
	Issue        models.Issue      `json:"issue"`
	User         models.User       `json:"user"`
	Changelog    *WebhookChangelog `json:"changelog,omitempty"`
}

// WebhookChangelog is the single change group carried by an update event.
type WebhookChangelog struct {
	ID    string                 `json:"id"`
	Items []models.ChangelogItem `json:"items"`
}

// WebhookEvent is a webhook delivery reshaped into a search-style issue
// whose changelog holds the delivered change group.
type WebhookEvent struct {
	Event     string
	Timestamp string
	Issue     models.Issue
}

// ParseWebhook converts a Jira webhook payload into a WebhookEvent.
func ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var hook WebhookPayload
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("failed to decode webhook: %w", err)
	}
	if strings.TrimSpace(hook.Issue.Key) == "" {
		return nil, ErrNoIssue
	}

	at := time.Now()
	if hook.Timestamp > 0 {
		at = time.UnixMilli(hook.Timestamp)
	}
	timestamp := at.UTC().Format(jiraTimeLayout)

	issue := hook.Issue
	issue.Changelog = models.Changelog{Histories: []models.History{}}
	if hook.Changelog != nil && len(hook.Changelog.Items) > 0 {
		issue.Changelog.Histories = append(issue.Changelog.Histories, models.History{
			Created: timestamp,
			Items:   hook.Changelog.Items,
		})
	}

	return &WebhookEvent{
		Event:     eventType(hook.WebhookEvent),
		Timestamp: timestamp,
		Issue:     issue,
	}, nil
}

// eventType extracts the simplified event type from the full webhook event
func eventType(webhookEvent string) string {
	switch webhookEvent {
	case "jira:issue_created":
		return "created"
	case "jira:issue_updated":
		return "updated"
	case "jira:issue_deleted":
		return "deleted"
	default:
		if parts := strings.Split(webhookEvent, ":"); len(parts) > 1 {
			return parts[1]
		}
		return webhookEvent
	}
}
