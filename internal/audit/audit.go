package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of auditable event
type EventType string

const (
	EventWebhookRejected  EventType = "WEBHOOK_REJECTED"
	EventDuplicate        EventType = "EVENT_DUPLICATE"
	EventStatusAdvanced   EventType = "STATUS_ADVANCED"
	EventTransitionStale  EventType = "TRANSITION_STALE"
	EventAnomalyFlagged   EventType = "ANOMALY_FLAGGED"
	EventProcessingFailed EventType = "EVENT_FAILED"
	EventReplayRequested  EventType = "REPLAY_REQUESTED"
)

// Event represents one security or state-transition audit entry
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	EventType  EventType         `json:"event_type"`
	Vendor     string            `json:"vendor"`
	EventID    string            `json:"event_id,omitempty"`
	SubjectRef string            `json:"subject_ref,omitempty"`
	FromStatus string            `json:"from_status,omitempty"`
	ToStatus   string            `json:"to_status,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event) error
}

// SlogLogger implements Logger using slog
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a new audit logger using slog
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{
		logger: logger.With("component", "audit"),
	}
}

// Log records an audit event. Rejections and failures are logged at warn.
func (l *SlogLogger) Log(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to marshal audit event",
			slog.String("error", err.Error()),
			slog.String("event_type", string(event.EventType)),
		)
		return err
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}

	l.logger.Log(ctx, level, "audit_event",
		slog.String("audit_id", event.ID.String()),
		slog.String("event_type", string(event.EventType)),
		slog.String("vendor", event.Vendor),
		slog.String("subject_ref", event.SubjectRef),
		slog.Bool("success", event.Success),
		slog.String("event_data", string(eventJSON)),
	)

	return nil
}

// NoOpLogger is a logger that does nothing (for testing or when audit is disabled)
type NoOpLogger struct{}

// Log does nothing and returns nil
func (l *NoOpLogger) Log(_ context.Context, _ Event) error {
	return nil
}
