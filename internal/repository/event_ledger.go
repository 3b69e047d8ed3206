package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

const eventColumns = `id, vendor, event_id, subject_ref, event_type, raw_payload, received_at,
	processing_status, processed_at, retry_count, next_retry_at, error, permanent, outcome`

// EventLedger persists every trusted inbound event keyed by (vendor, event_id).
type EventLedger struct {
	pool PgxPool
}

func NewEventLedger(pool PgxPool) *EventLedger {
	return &EventLedger{pool: pool}
}

// RecordAttempt inserts ev unless (vendor, event_id) already exists. The conditional
// insert is the duplicate check, so concurrent deliveries cannot both win. An
// existing row is never overwritten.
func (r *EventLedger) RecordAttempt(ctx context.Context, ev *domain.VerificationEvent) (AttemptResult, error) {
	query := `
		INSERT INTO verification_events (id, vendor, event_id, subject_ref, event_type, raw_payload, received_at, processing_status, retry_count, permanent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 0, FALSE)
		ON CONFLICT (vendor, event_id) DO NOTHING
		RETURNING id
	`

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}

	var id uuid.UUID
	err := r.pool.QueryRow(ctx, query,
		ev.ID,
		ev.Vendor,
		ev.EventID,
		ev.SubjectRef,
		ev.EventType,
		ev.RawPayload,
		ev.ReceivedAt,
	).Scan(&id)

	if err == nil {
		ev.ProcessingStatus = domain.ProcessingPending
		return AttemptResult{RowID: id}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AttemptResult{}, fmt.Errorf("record attempt: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT id FROM verification_events WHERE vendor = $1 AND event_id = $2`,
		ev.Vendor, ev.EventID,
	).Scan(&id)
	if err != nil {
		return AttemptResult{}, fmt.Errorf("load duplicate attempt: %w", err)
	}

	return AttemptResult{RowID: id, Duplicate: true}, nil
}

func (r *EventLedger) MarkProcessed(ctx context.Context, id uuid.UUID, status domain.ProcessingStatus, outcome *domain.Outcome, errMsg *string) error {
	query := `
		UPDATE verification_events
		SET processing_status = $2, processed_at = NOW(), outcome = $3, error = $4, next_retry_at = NULL
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, status, outcome, errMsg)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

// MarkRetry records a transient failure and returns the new retry count.
func (r *EventLedger) MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, nextRetryAt time.Time) (int, error) {
	query := `
		UPDATE verification_events
		SET processing_status = 'error', processed_at = NOW(), error = $2,
			retry_count = retry_count + 1, next_retry_at = $3
		WHERE id = $1
		RETURNING retry_count
	`

	var count int
	err := r.pool.QueryRow(ctx, query, id, errMsg, nextRetryAt).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrEventNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("mark retry: %w", err)
	}
	return count, nil
}

// MarkPermanent excludes the event from any further automatic retry.
func (r *EventLedger) MarkPermanent(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE verification_events
		SET processing_status = 'error', processed_at = NOW(), error = $2, permanent = TRUE, next_retry_at = NULL
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark permanent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

// MarkExhausted flags every failed event that reached the retry cap as permanent
// and returns them so the caller can alert once per event.
func (r *EventLedger) MarkExhausted(ctx context.Context, maxRetries int) ([]domain.VerificationEvent, error) {
	query := `
		UPDATE verification_events
		SET permanent = TRUE, next_retry_at = NULL
		WHERE processing_status = 'error' AND permanent = FALSE AND retry_count >= $1
		RETURNING ` + eventColumns

	rows, err := r.pool.Query(ctx, query, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("mark exhausted: %w", err)
	}
	return collectEvents(rows, "mark exhausted")
}

// ListUnprocessed returns retry candidates: pending events older than olderThan
// (their first attempt stalled) and failed events under the cap whose backoff elapsed.
func (r *EventLedger) ListUnprocessed(ctx context.Context, olderThan time.Time, maxRetries, limit int) ([]domain.VerificationEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM verification_events
		WHERE permanent = FALSE
		  AND (
			(processing_status = 'pending' AND received_at <= $1)
			OR (processing_status = 'error' AND retry_count < $2 AND (next_retry_at IS NULL OR next_retry_at <= NOW()))
		  )
		ORDER BY received_at ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, olderThan, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed: %w", err)
	}
	return collectEvents(rows, "list unprocessed")
}

func (r *EventLedger) GetByID(ctx context.Context, id uuid.UUID) (*domain.VerificationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM verification_events WHERE id = $1`

	ev, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event by id: %w", err)
	}
	return ev, nil
}

func (r *EventLedger) List(ctx context.Context, filter EventFilter) ([]domain.VerificationEvent, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("processing_status = $%d", filter.Status)
	}
	if filter.Vendor != "" {
		add("vendor = $%d", filter.Vendor)
	}
	if filter.SubjectRef != "" {
		add("subject_ref = $%d", filter.SubjectRef)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT ` + eventColumns + ` FROM verification_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit, max(filter.Offset, 0))
	query += fmt.Sprintf(` ORDER BY received_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collectEvents(rows, "list events")
}

// ResetForReplay puts a failed event back to pending with a fresh retry budget.
func (r *EventLedger) ResetForReplay(ctx context.Context, id uuid.UUID) (*domain.VerificationEvent, error) {
	query := `
		UPDATE verification_events
		SET processing_status = 'pending', permanent = FALSE, retry_count = 0,
			next_retry_at = NULL, error = NULL, processed_at = NULL, outcome = NULL
		WHERE id = $1 AND processing_status = 'error'
		RETURNING ` + eventColumns

	ev, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEventNotReplayable
	}
	if err != nil {
		return nil, fmt.Errorf("reset for replay: %w", err)
	}
	return ev, nil
}

// RecordRejected stores an untrusted attempt outside the trusted ledger.
func (r *EventLedger) RecordRejected(ctx context.Context, a *domain.RejectedAttempt) error {
	query := `
		INSERT INTO rejected_webhook_attempts (id, vendor, reason, body_sha256, signature_present, remote_ip, user_agent, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, query,
		a.ID,
		a.Vendor,
		a.Reason,
		a.BodySHA256,
		a.SignaturePresent,
		a.RemoteIP,
		a.UserAgent,
		a.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("record rejected attempt: %w", err)
	}
	return nil
}

func scanEvent(row pgx.Row) (*domain.VerificationEvent, error) {
	var ev domain.VerificationEvent
	err := row.Scan(
		&ev.ID,
		&ev.Vendor,
		&ev.EventID,
		&ev.SubjectRef,
		&ev.EventType,
		&ev.RawPayload,
		&ev.ReceivedAt,
		&ev.ProcessingStatus,
		&ev.ProcessedAt,
		&ev.RetryCount,
		&ev.NextRetryAt,
		&ev.Error,
		&ev.Permanent,
		&ev.Outcome,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func collectEvents(rows pgx.Rows, op string) ([]domain.VerificationEvent, error) {
	defer rows.Close()

	events := []domain.VerificationEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return events, nil
}
