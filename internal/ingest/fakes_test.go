package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/repository"
)

type memLedger struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*domain.VerificationEvent
	keys     map[string]uuid.UUID
	rejected []domain.RejectedAttempt

	recordErr error
	retryErr  error
	// recordBlocks makes RecordAttempt wait for its context, like a hung pool.
	recordBlocks bool
	// markFailures makes the next N calls to MarkProcessed fail.
	markFailures int
	clock        func() time.Time
}

func newMemLedger() *memLedger {
	return &memLedger{
		rows: make(map[uuid.UUID]*domain.VerificationEvent),
		keys: make(map[string]uuid.UUID),
	}
}

func (l *memLedger) now() time.Time {
	if l.clock != nil {
		return l.clock()
	}
	return time.Now()
}

func (l *memLedger) RecordAttempt(ctx context.Context, ev *domain.VerificationEvent) (repository.AttemptResult, error) {
	if l.recordBlocks {
		<-ctx.Done()
		return repository.AttemptResult{}, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.recordErr != nil {
		return repository.AttemptResult{}, l.recordErr
	}

	key := ev.Vendor + "\x00" + ev.EventID
	if id, ok := l.keys[key]; ok {
		return repository.AttemptResult{RowID: id, Duplicate: true}, nil
	}

	id := uuid.New()
	row := *ev
	row.ID = id
	row.ProcessingStatus = domain.ProcessingPending
	row.RawPayload = append([]byte(nil), ev.RawPayload...)
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = l.now()
	}
	l.rows[id] = &row
	l.keys[key] = id
	return repository.AttemptResult{RowID: id}, nil
}

func (l *memLedger) MarkProcessed(_ context.Context, id uuid.UUID, status domain.ProcessingStatus, outcome *domain.Outcome, errMsg *string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.markFailures > 0 {
		l.markFailures--
		return errors.New("ledger connection reset")
	}
	row, ok := l.rows[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	now := l.now()
	row.ProcessingStatus = status
	row.ProcessedAt = &now
	row.Outcome = outcome
	row.Error = errMsg
	row.NextRetryAt = nil
	return nil
}

func (l *memLedger) MarkRetry(_ context.Context, id uuid.UUID, errMsg string, nextRetryAt time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.retryErr != nil {
		return 0, l.retryErr
	}
	row, ok := l.rows[id]
	if !ok {
		return 0, domain.ErrEventNotFound
	}
	row.ProcessingStatus = domain.ProcessingError
	row.Error = &errMsg
	row.RetryCount++
	row.NextRetryAt = &nextRetryAt
	return row.RetryCount, nil
}

func (l *memLedger) MarkPermanent(_ context.Context, id uuid.UUID, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	row.ProcessingStatus = domain.ProcessingError
	row.Error = &errMsg
	row.Permanent = true
	row.NextRetryAt = nil
	return nil
}

func (l *memLedger) MarkExhausted(_ context.Context, maxRetries int) ([]domain.VerificationEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.VerificationEvent
	for _, row := range l.rows {
		if row.ProcessingStatus == domain.ProcessingError && !row.Permanent && row.RetryCount >= maxRetries {
			row.Permanent = true
			out = append(out, *row)
		}
	}
	return out, nil
}

func (l *memLedger) ListUnprocessed(_ context.Context, olderThan time.Time, maxRetries, limit int) ([]domain.VerificationEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var out []domain.VerificationEvent
	for _, row := range l.rows {
		if row.Permanent {
			continue
		}
		pending := row.ProcessingStatus == domain.ProcessingPending && !row.ReceivedAt.After(olderThan)
		failed := row.ProcessingStatus == domain.ProcessingError && row.RetryCount < maxRetries &&
			(row.NextRetryAt == nil || !row.NextRetryAt.After(now))
		if pending || failed {
			out = append(out, *row)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *memLedger) GetByID(_ context.Context, id uuid.UUID) (*domain.VerificationEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	c := *row
	return &c, nil
}

func (l *memLedger) List(_ context.Context, _ repository.EventFilter) ([]domain.VerificationEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.VerificationEvent, 0, len(l.rows))
	for _, row := range l.rows {
		out = append(out, *row)
	}
	return out, nil
}

func (l *memLedger) ResetForReplay(_ context.Context, id uuid.UUID) (*domain.VerificationEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[id]
	if !ok || row.ProcessingStatus != domain.ProcessingError {
		return nil, domain.ErrEventNotReplayable
	}
	row.ProcessingStatus = domain.ProcessingPending
	row.Permanent = false
	row.RetryCount = 0
	row.Error = nil
	c := *row
	return &c, nil
}

func (l *memLedger) RecordRejected(_ context.Context, a *domain.RejectedAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejected = append(l.rejected, *a)
	return nil
}

func (l *memLedger) byEventID(eventID string) *domain.VerificationEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range l.rows {
		if row.EventID == eventID {
			c := *row
			return &c
		}
	}
	return nil
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

type memRecords struct {
	mu      sync.Mutex
	records map[string]*domain.VerificationRecord
	upserts int

	// failures makes the next N calls to GetBySubject fail with getErr.
	failures int
	getErr   error
}

func newMemRecords() *memRecords {
	return &memRecords{records: make(map[string]*domain.VerificationRecord)}
}

func (m *memRecords) GetBySubject(_ context.Context, subjectRef string) (*domain.VerificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return nil, m.getErr
	}
	return m.records[subjectRef].Clone(), nil
}

func (m *memRecords) Upsert(_ context.Context, rec *domain.VerificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.SubjectRef] = rec.Clone()
	m.upserts++
	return nil
}

func (m *memRecords) get(subjectRef string) *domain.VerificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[subjectRef].Clone()
}

type published struct {
	topic string
	event any
}

type capturePublisher struct {
	mu     sync.Mutex
	events []published
}

func (c *capturePublisher) Publish(_ context.Context, topic string, event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, published{topic: topic, event: event})
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func (c *capturePublisher) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.topic)
	}
	return out
}

// blockingLocker never grants the lock; it waits for ctx.
type blockingLocker struct{}

func (blockingLocker) Lock(ctx context.Context, _ string) (func(), error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
