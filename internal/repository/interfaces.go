package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
)

// PgxPool is the subset of *pgxpool.Pool the repositories use; pgxmock satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AttemptResult is the outcome of recording an inbound event.
type AttemptResult struct {
	RowID     uuid.UUID
	Duplicate bool
}

// EventFilter narrows ledger listings. Zero values mean "any".
type EventFilter struct {
	Status     domain.ProcessingStatus
	Vendor     string
	SubjectRef string
	Limit      int
	Offset     int
}

// EventLedgerInterface defines operations on the durable event ledger
type EventLedgerInterface interface {
	RecordAttempt(ctx context.Context, ev *domain.VerificationEvent) (AttemptResult, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, status domain.ProcessingStatus, outcome *domain.Outcome, errMsg *string) error
	MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, nextRetryAt time.Time) (int, error)
	MarkPermanent(ctx context.Context, id uuid.UUID, errMsg string) error
	MarkExhausted(ctx context.Context, maxRetries int) ([]domain.VerificationEvent, error)
	ListUnprocessed(ctx context.Context, olderThan time.Time, maxRetries, limit int) ([]domain.VerificationEvent, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.VerificationEvent, error)
	List(ctx context.Context, filter EventFilter) ([]domain.VerificationEvent, error)
	ResetForReplay(ctx context.Context, id uuid.UUID) (*domain.VerificationEvent, error)
	RecordRejected(ctx context.Context, attempt *domain.RejectedAttempt) error
}

// RecordStoreInterface defines operations on canonical verification records
type RecordStoreInterface interface {
	GetBySubject(ctx context.Context, subjectRef string) (*domain.VerificationRecord, error)
	Upsert(ctx context.Context, rec *domain.VerificationRecord) error
}
