package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/audit"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/ingest"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/repository"
)

type Redriver interface {
	Redrive(ctx context.Context, ev domain.VerificationEvent, source string) (ingest.Disposition, error)
}

// VerificationService is the read side used by the application layer plus the
// operator actions on the ledger. It never writes canonical records itself.
type VerificationService struct {
	records  repository.RecordStoreInterface
	ledger   repository.EventLedgerInterface
	redriver Redriver
	audit    audit.Logger
	logger   *slog.Logger
}

func NewVerificationService(
	records repository.RecordStoreInterface,
	ledger repository.EventLedgerInterface,
	redriver Redriver,
) *VerificationService {
	return &VerificationService{
		records:  records,
		ledger:   ledger,
		redriver: redriver,
		audit:    &audit.NoOpLogger{},
		logger:   slog.Default().With("component", "verification"),
	}
}

func (s *VerificationService) WithAudit(a audit.Logger) *VerificationService {
	s.audit = a
	return s
}

func (s *VerificationService) WithLogger(logger *slog.Logger) *VerificationService {
	s.logger = logger.With("component", "verification")
	return s
}

// GetVerificationStatus returns the subject's canonical record, or nil when none exists.
func (s *VerificationService) GetVerificationStatus(ctx context.Context, subjectRef string) (*domain.VerificationRecord, error) {
	subjectRef = strings.TrimSpace(subjectRef)
	if subjectRef == "" {
		return nil, domain.ErrValidationFailed.WithError(fmt.Errorf("subject_ref is required"))
	}

	rec, err := s.records.GetBySubject(ctx, subjectRef)
	if err != nil {
		return nil, fmt.Errorf("subject %s: get record: %w", subjectRef, err)
	}
	return rec, nil
}

// IsVerified gates access-controlled features; a missing record is not verified.
func (s *VerificationService) IsVerified(ctx context.Context, subjectRef string) (bool, error) {
	rec, err := s.GetVerificationStatus(ctx, subjectRef)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.IsVerified, nil
}

func (s *VerificationService) ListEvents(ctx context.Context, filter repository.EventFilter) ([]domain.VerificationEvent, error) {
	switch filter.Status {
	case "", domain.ProcessingPending, domain.ProcessingSuccess, domain.ProcessingError:
	default:
		return nil, domain.ErrValidationFailed.WithError(fmt.Errorf("unknown status %q", filter.Status))
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, domain.ErrValidationFailed.WithError(fmt.Errorf("limit and offset must be non-negative"))
	}

	events, err := s.ledger.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (s *VerificationService) GetEvent(ctx context.Context, id uuid.UUID) (*domain.VerificationEvent, error) {
	return s.ledger.GetByID(ctx, id)
}

// ReplayEvent gives a failed event a fresh retry budget and processes it immediately.
func (s *VerificationService) ReplayEvent(ctx context.Context, id uuid.UUID, actor string) (ingest.Disposition, error) {
	ev, err := s.ledger.ResetForReplay(ctx, id)
	if err != nil {
		return "", err
	}

	err = s.audit.Log(ctx, audit.Event{
		EventType:  audit.EventReplayRequested,
		Vendor:     ev.Vendor,
		EventID:    ev.EventID,
		SubjectRef: ev.SubjectRef,
		Success:    true,
		Metadata:   map[string]string{"actor": actor, "event_row_id": id.String()},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to write audit event",
			"event_type", audit.EventReplayRequested,
			"event_row_id", id,
			"error", err,
		)
	}

	disp, err := s.redriver.Redrive(ctx, *ev, ingest.SourceReplay)
	if err != nil {
		return disp, fmt.Errorf("event %s: replay: %w", id, err)
	}
	return disp, nil
}
