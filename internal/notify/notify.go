// Package notify publishes post-commit verification notifications to downstream consumers.
// Delivery is best effort; the event ledger stays the source of truth.
package notify

import (
	"context"
	"errors"
	"time"
)

// Topics
const (
	TopicStatusChanged   = "idv.verification.status_changed"
	TopicAnomaly         = "idv.verification.anomaly"
	TopicEventFailed     = "idv.event.failed"
	TopicWebhookRejected = "idv.webhook.rejected"
	TopicBacklogAlert    = "idv.backlog.alert"
)

// Publisher sends one JSON-encodable event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// StatusChanged is emitted when a record's status advances.
type StatusChanged struct {
	SubjectRef string    `json:"subject_ref"`
	Vendor     string    `json:"vendor"`
	EventID    string    `json:"event_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	IsVerified bool      `json:"is_verified"`
	At         time.Time `json:"at"`
}

// AnomalyFlagged is emitted when a subject needs manual review.
type AnomalyFlagged struct {
	SubjectRef string    `json:"subject_ref"`
	Vendor     string    `json:"vendor"`
	EventID    string    `json:"event_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// EventFailed is the alert raised when an event is excluded from retry.
type EventFailed struct {
	RowID      string    `json:"row_id"`
	Vendor     string    `json:"vendor"`
	EventID    string    `json:"event_id"`
	SubjectRef string    `json:"subject_ref,omitempty"`
	RetryCount int       `json:"retry_count"`
	Reason     string    `json:"reason"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// WebhookRejected is emitted for every untrusted inbound attempt.
type WebhookRejected struct {
	Vendor     string    `json:"vendor"`
	Reason     string    `json:"reason"`
	BodySHA256 string    `json:"body_sha256"`
	RemoteIP   string    `json:"remote_ip,omitempty"`
	At         time.Time `json:"at"`
}

// BacklogAlert is raised when an alert rule over the ledger backlog fires.
type BacklogAlert struct {
	Rule     string         `json:"rule"`
	Severity string         `json:"severity"`
	Backlog  map[string]int `json:"backlog"`
	Details  map[string]any `json:"details,omitempty"`
	At       time.Time      `json:"at"`
}

// Multi fans out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic string, event any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
