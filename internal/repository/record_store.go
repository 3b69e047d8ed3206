package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
)

// RecordStore reads and writes canonical verification records.
// It performs no conflict detection; the reconcile package decides what is written.
type RecordStore struct {
	pool PgxPool
}

func NewRecordStore(pool PgxPool) *RecordStore {
	return &RecordStore{pool: pool}
}

// GetBySubject returns nil, nil when the subject has no record yet.
func (r *RecordStore) GetBySubject(ctx context.Context, subjectRef string) (*domain.VerificationRecord, error) {
	query := `
		SELECT subject_ref, vendor, status, is_verified, person, document, risk_signals,
			last_event_id, last_advanced_at, needs_review, review_reason, created_at, updated_at,
			applied_event_ids
		FROM verification_records
		WHERE subject_ref = $1
	`

	var (
		rec                       domain.VerificationRecord
		person, document, signals []byte
	)
	err := r.pool.QueryRow(ctx, query, subjectRef).Scan(
		&rec.SubjectRef,
		&rec.Vendor,
		&rec.Status,
		&rec.IsVerified,
		&person,
		&document,
		&signals,
		&rec.LastEventID,
		&rec.LastAdvancedAt,
		&rec.NeedsReview,
		&rec.ReviewReason,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.AppliedEventIDs,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record by subject: %w", err)
	}

	if err := unmarshalJSON(person, &rec.Person); err != nil {
		return nil, fmt.Errorf("decode person: %w", err)
	}
	if err := unmarshalJSON(document, &rec.Document); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if err := unmarshalJSON(signals, &rec.RiskSignals); err != nil {
		return nil, fmt.Errorf("decode risk signals: %w", err)
	}

	return &rec, nil
}

// Upsert replaces every mutable column of the subject's record.
func (r *RecordStore) Upsert(ctx context.Context, rec *domain.VerificationRecord) error {
	query := `
		INSERT INTO verification_records (subject_ref, vendor, status, is_verified, person, document, risk_signals,
			last_event_id, last_advanced_at, needs_review, review_reason, created_at, updated_at, applied_event_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (subject_ref) DO UPDATE SET
			vendor = EXCLUDED.vendor,
			status = EXCLUDED.status,
			is_verified = EXCLUDED.is_verified,
			person = EXCLUDED.person,
			document = EXCLUDED.document,
			risk_signals = EXCLUDED.risk_signals,
			last_event_id = EXCLUDED.last_event_id,
			last_advanced_at = EXCLUDED.last_advanced_at,
			needs_review = EXCLUDED.needs_review,
			review_reason = EXCLUDED.review_reason,
			updated_at = EXCLUDED.updated_at,
			applied_event_ids = EXCLUDED.applied_event_ids
	`

	person, err := json.Marshal(rec.Person)
	if err != nil {
		return fmt.Errorf("encode person: %w", err)
	}
	document, err := json.Marshal(rec.Document)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	signals, err := json.Marshal(rec.RiskSignals)
	if err != nil {
		return fmt.Errorf("encode risk signals: %w", err)
	}
	applied := rec.AppliedEventIDs
	if applied == nil {
		applied = []string{}
	}

	_, err = r.pool.Exec(ctx, query,
		rec.SubjectRef,
		rec.Vendor,
		rec.Status,
		rec.IsVerified,
		person,
		document,
		signals,
		rec.LastEventID,
		rec.LastAdvancedAt,
		rec.NeedsReview,
		rec.ReviewReason,
		rec.CreatedAt,
		rec.UpdatedAt,
		applied,
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}
