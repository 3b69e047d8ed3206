package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/audit"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/notify"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/reconcile"
)

// process holds the subject's lock across load, reconcile, upsert and the ledger mark.
func (s *Service) process(ctx context.Context, ev *domain.VerificationEvent, source string) (Disposition, error) {
	start := time.Now()
	defer s.metrics.ObserveProcess(source, start)

	d, err := s.reconcileLocked(ctx, ev)
	if err != nil {
		return s.handleFailure(ctx, ev, err, source)
	}

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()

	outcome := d.Outcome
	if err := s.ledger.MarkProcessed(mctx, ev.ID, domain.ProcessingSuccess, &outcome, nil); err != nil {
		// The record is already consistent; the duplicate guard makes the retry a no-op.
		return DispositionPending, fmt.Errorf("mark processed: %w", err)
	}

	s.afterCommit(ctx, ev, d)
	return DispositionProcessed, nil
}

func (s *Service) reconcileLocked(ctx context.Context, ev *domain.VerificationEvent) (reconcile.Decision, error) {
	waitStart := time.Now()
	unlock, err := s.locker.Lock(ctx, ev.SubjectRef)
	if err != nil {
		return reconcile.Decision{}, fmt.Errorf("lock subject: %w", err)
	}
	defer unlock()
	s.metrics.ObserveLockWait(waitStart)

	current, err := s.records.GetBySubject(ctx, ev.SubjectRef)
	if err != nil {
		return reconcile.Decision{}, fmt.Errorf("load record: %w", err)
	}

	d := reconcile.Reconcile(current, ev, s.now())

	if d.Changed {
		if err := s.records.Upsert(ctx, d.Record); err != nil {
			return reconcile.Decision{}, fmt.Errorf("upsert record: %w", err)
		}
	}
	return d, nil
}

// handleFailure classifies a processing error. A live delivery that ran out of
// time stays pending for the supervisor; transient errors are scheduled with
// backoff until the retry cap, permanent ones are excluded immediately.
func (s *Service) handleFailure(ctx context.Context, ev *domain.VerificationEvent, cause error, source string) (Disposition, error) {
	if IsPermanent(cause) {
		return s.failPermanently(ctx, ev, cause, "permanent"), nil
	}

	timedOut := errors.Is(cause, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	if timedOut && source == SourceWebhook {
		s.logger.WarnContext(ctx, "processing timed out, leaving event pending",
			"event_row_id", ev.ID,
			"event_id", ev.EventID,
			"subject_ref", ev.SubjectRef,
		)
		return DispositionPending, nil
	}

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()

	attempt := ev.RetryCount + 1
	next := s.now().Add(s.cfg.Backoff.Next(attempt))

	count, err := s.ledger.MarkRetry(mctx, ev.ID, cause.Error(), next)
	if err != nil {
		return DispositionPending, fmt.Errorf("mark retry: %w", err)
	}
	ev.RetryCount = count

	if count >= s.cfg.MaxRetries {
		return s.failPermanently(ctx, ev, cause, "retries_exhausted"), nil
	}

	s.logger.WarnContext(ctx, "event processing failed, scheduled for retry",
		"event_row_id", ev.ID,
		"event_id", ev.EventID,
		"subject_ref", ev.SubjectRef,
		"retry_count", count,
		"next_retry_at", next,
		"error", cause,
	)
	return DispositionRetrying, nil
}

// failPermanently excludes the event from retry and raises the alert.
func (s *Service) failPermanently(ctx context.Context, ev *domain.VerificationEvent, cause error, reason string) Disposition {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()

	if err := s.ledger.MarkPermanent(mctx, ev.ID, cause.Error()); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark event permanently failed",
			"event_row_id", ev.ID,
			"error", err,
		)
	}

	s.logger.ErrorContext(ctx, "event permanently failed",
		"event_row_id", ev.ID,
		"vendor", ev.Vendor,
		"event_id", ev.EventID,
		"reason", reason,
		"error", cause,
	)
	s.metrics.IncPermanentFailure(ev.Vendor, reason)

	s.logAudit(ctx, audit.Event{
		EventType:  audit.EventProcessingFailed,
		Vendor:     ev.Vendor,
		EventID:    ev.EventID,
		SubjectRef: ev.SubjectRef,
		Success:    false,
		Error:      cause.Error(),
		Metadata:   map[string]string{"reason": reason},
	})

	s.publish(ctx, notify.TopicEventFailed, notify.EventFailed{
		RowID:      ev.ID.String(),
		Vendor:     ev.Vendor,
		EventID:    ev.EventID,
		SubjectRef: ev.SubjectRef,
		RetryCount: ev.RetryCount,
		Reason:     reason,
		Error:      cause.Error(),
		At:         s.now(),
	})

	return DispositionFailed
}

func (s *Service) afterCommit(ctx context.Context, ev *domain.VerificationEvent, d reconcile.Decision) {
	s.metrics.IncOutcome(ev.Vendor, string(d.Outcome))

	base := audit.Event{
		Vendor:     ev.Vendor,
		EventID:    ev.EventID,
		SubjectRef: ev.SubjectRef,
		FromStatus: string(d.Previous),
		ToStatus:   string(d.Record.Status),
		Success:    true,
		Metadata:   map[string]string{"event_type": string(ev.EventType)},
	}

	switch {
	case d.TransitionApplied:
		base.EventType = audit.EventStatusAdvanced
		s.logAudit(ctx, base)
		s.publish(ctx, notify.TopicStatusChanged, notify.StatusChanged{
			SubjectRef: ev.SubjectRef,
			Vendor:     ev.Vendor,
			EventID:    ev.EventID,
			From:       string(d.Previous),
			To:         string(d.Record.Status),
			IsVerified: d.Record.IsVerified,
			At:         s.now(),
		})

	case d.Outcome == domain.OutcomeAnomaly:
		base.EventType = audit.EventAnomalyFlagged
		var reason string
		if d.Record.ReviewReason != nil {
			reason = *d.Record.ReviewReason
			base.Metadata["review_reason"] = reason
		}
		s.logAudit(ctx, base)
		s.publish(ctx, notify.TopicAnomaly, notify.AnomalyFlagged{
			SubjectRef: ev.SubjectRef,
			Vendor:     ev.Vendor,
			EventID:    ev.EventID,
			Status:     string(d.Record.Status),
			Reason:     reason,
			At:         s.now(),
		})

	case d.Outcome == domain.OutcomeStale:
		base.EventType = audit.EventTransitionStale
		s.logAudit(ctx, base)
	}

	s.logger.InfoContext(ctx, "event reconciled",
		"event_row_id", ev.ID,
		"event_id", ev.EventID,
		"subject_ref", ev.SubjectRef,
		"outcome", d.Outcome,
		"status", d.Record.Status,
	)
}
