// Package ingest drives an inbound vendor callback from raw request to reconciled record:
// signature check, normalization, ledger insert, per-subject lock, reconcile, upsert.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/audit"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/lock"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/metrics"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/notify"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/repository"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/webhook"
)

const (
	defaultProcessTimeout = 5 * time.Second
	defaultMaxRetries     = 8
	markTimeout           = 5 * time.Second
	notifyTimeout         = 3 * time.Second
)

// Processing sources, used as the "source" metric label.
const (
	SourceWebhook = "webhook"
	SourceRetry   = "retry"
	SourceReplay  = "replay"
)

// Rejection reasons stored with untrusted attempts.
const (
	ReasonUnknownVendor    = "unknown_vendor"
	ReasonMissingSignature = "missing_signature"
	ReasonInvalidSignature = "invalid_signature"
	ReasonNoSecret         = "no_secret_configured"
)

// Backoff computes the delay before retry number attempt (1-based).
type Backoff interface {
	Next(attempt int) time.Duration
}

// BackoffFunc adapts a plain function to Backoff.
type BackoffFunc func(attempt int) time.Duration

func (f BackoffFunc) Next(attempt int) time.Duration { return f(attempt) }

// Config is everything the dispatcher needs that is not a collaborator.
// Secrets are keyed by vendor namespace.
type Config struct {
	Secrets        map[string][]byte
	Registry       *webhook.Registry
	ProcessTimeout time.Duration
	MaxRetries     int
	Backoff        Backoff
}

// Disposition is where an event ended up after one processing attempt.
type Disposition string

const (
	DispositionProcessed Disposition = "processed"
	DispositionDuplicate Disposition = "duplicate"
	DispositionPending   Disposition = "pending"
	DispositionRetrying  Disposition = "retrying"
	DispositionFailed    Disposition = "failed"
)

// InboundRequest is one raw webhook delivery.
type InboundRequest struct {
	Vendor    string
	Body      []byte
	Headers   map[string]string
	RemoteIP  string
	UserAgent string
}

// Ack is returned to the vendor. Received is true whenever the event is durably
// recorded, whatever happened to reconciliation.
type Ack struct {
	Received    bool        `json:"received"`
	EventID     string      `json:"event_id,omitempty"`
	Duplicate   bool        `json:"duplicate"`
	Disposition Disposition `json:"disposition,omitempty"`
}

type Service struct {
	cfg       Config
	ledger    repository.EventLedgerInterface
	records   repository.RecordStoreInterface
	locker    lock.Locker
	publisher notify.Publisher
	audit     audit.Logger
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(
	cfg Config,
	ledger repository.EventLedgerInterface,
	records repository.RecordStoreInterface,
	locker lock.Locker,
	logger *slog.Logger,
) *Service {
	if cfg.Registry == nil {
		cfg.Registry = webhook.DefaultRegistry()
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff == nil {
		cfg.Backoff = BackoffFunc(func(int) time.Duration { return 30 * time.Second })
	}
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}

	return &Service{
		cfg:       cfg,
		ledger:    ledger,
		records:   records,
		locker:    locker,
		publisher: &notify.NoopPublisher{},
		audit:     &audit.NoOpLogger{},
		logger:    logger.With("component", "ingest"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithPublisher(p notify.Publisher) *Service {
	s.publisher = p
	return s
}

func (s *Service) WithAudit(a audit.Logger) *Service {
	s.audit = a
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// HandleInbound runs one delivery end to end within ProcessTimeout, ledger insert
// included. Errors are returned only when the event was not durably recorded (bad
// signature, unknown vendor, ledger down); every later failure is absorbed into the
// ledger and acknowledged.
//
// A failed ledger insert is not acked: it surfaces as ErrLedgerUnavailable (503) so
// the vendor redelivers, since nothing durable exists for the supervisor to retry.
func (s *Service) HandleInbound(ctx context.Context, req InboundRequest) (Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessTimeout)
	defer cancel()

	norm, ok := s.cfg.Registry.Get(req.Vendor)
	if !ok {
		s.reject(ctx, req, req.Vendor, ReasonUnknownVendor, false)
		s.metrics.IncWebhook("unknown", metrics.ResultUnknownVendor)
		return Ack{}, domain.ErrUnknownVendor
	}
	vendor := norm.Namespace()

	signature := webhook.HeaderValue(req.Headers, norm.SignatureHeader())
	secret := s.cfg.Secrets[vendor]
	if !webhook.Verify(req.Body, signature, secret) {
		reason := ReasonInvalidSignature
		switch {
		case len(secret) == 0:
			reason = ReasonNoSecret
		case signature == "":
			reason = ReasonMissingSignature
		}
		s.reject(ctx, req, vendor, reason, signature != "")
		s.metrics.IncWebhook(vendor, metrics.ResultRejected)
		return Ack{}, domain.ErrInvalidSignature
	}

	ev, parseErr := norm.Normalize(req.Body, req.Headers)
	if ev == nil {
		ev = &domain.VerificationEvent{
			EventID:   webhook.FallbackEventID(req.Body),
			EventType: domain.EventUnknown,
		}
	}
	ev.Vendor = vendor
	ev.RawPayload = req.Body

	res, err := s.ledger.RecordAttempt(ctx, ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record webhook attempt",
			"vendor", vendor,
			"event_id", ev.EventID,
			"error", err,
		)
		s.metrics.IncWebhook(vendor, metrics.ResultLedgerDown)
		return Ack{}, domain.ErrLedgerUnavailable.WithError(err)
	}
	ev.ID = res.RowID

	ack := Ack{Received: true, EventID: ev.EventID}

	if res.Duplicate {
		s.metrics.IncWebhook(vendor, metrics.ResultDuplicate)
		s.logAudit(ctx, audit.Event{
			EventType:  audit.EventDuplicate,
			Vendor:     vendor,
			EventID:    ev.EventID,
			SubjectRef: ev.SubjectRef,
			Success:    true,
			IPAddress:  req.RemoteIP,
			UserAgent:  req.UserAgent,
		})
		ack.Duplicate = true
		ack.Disposition = DispositionDuplicate
		return ack, nil
	}

	if parseErr != nil {
		s.metrics.IncWebhook(vendor, metrics.ResultMalformed)
		ack.Disposition = s.failPermanently(ctx, ev, parseErr, "malformed")
		return ack, nil
	}

	s.metrics.IncWebhook(vendor, metrics.ResultAccepted)

	disp, err := s.process(ctx, ev, SourceWebhook)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record processing result",
			"event_row_id", ev.ID,
			"event_id", ev.EventID,
			"error", err,
		)
	}
	if disp == DispositionPending {
		s.metrics.IncWebhook(vendor, metrics.ResultTimeout)
	}
	ack.Disposition = disp
	return ack, nil
}

// Redrive re-runs lock, reconcile and upsert for a ledger row. The stored raw
// payload is normalized again; identity fields always come from the row.
func (s *Service) Redrive(ctx context.Context, stored domain.VerificationEvent, source string) (Disposition, error) {
	ev := stored

	norm, ok := s.cfg.Registry.Get(stored.Vendor)
	if !ok {
		return s.failPermanently(ctx, &ev, domain.ErrUnknownVendor, ReasonUnknownVendor), nil
	}

	full, err := norm.Normalize(stored.RawPayload, map[string]string{"X-Event-Id": stored.EventID})
	if err != nil {
		return s.failPermanently(ctx, &ev, err, "malformed"), nil
	}

	full.ID = stored.ID
	full.Vendor = stored.Vendor
	full.EventID = stored.EventID
	full.SubjectRef = stored.SubjectRef
	full.RawPayload = stored.RawPayload
	full.ReceivedAt = stored.ReceivedAt
	full.ProcessingStatus = stored.ProcessingStatus
	full.RetryCount = stored.RetryCount

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessTimeout)
	defer cancel()

	return s.process(pctx, full, source)
}

func (s *Service) reject(ctx context.Context, req InboundRequest, vendor, reason string, signaturePresent bool) {
	sum := sha256.Sum256(req.Body)
	bodyHash := hex.EncodeToString(sum[:])
	now := s.now()

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()

	err := s.ledger.RecordRejected(mctx, &domain.RejectedAttempt{
		Vendor:           vendor,
		Reason:           reason,
		BodySHA256:       bodyHash,
		SignaturePresent: signaturePresent,
		RemoteIP:         req.RemoteIP,
		UserAgent:        req.UserAgent,
		ReceivedAt:       now,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to store rejected attempt", "vendor", vendor, "error", err)
	}

	s.logAudit(ctx, audit.Event{
		EventType: audit.EventWebhookRejected,
		Vendor:    vendor,
		Success:   false,
		Error:     reason,
		Metadata:  map[string]string{"body_sha256": bodyHash},
		IPAddress: req.RemoteIP,
		UserAgent: req.UserAgent,
	})

	s.publish(ctx, notify.TopicWebhookRejected, notify.WebhookRejected{
		Vendor:     vendor,
		Reason:     reason,
		BodySHA256: bodyHash,
		RemoteIP:   req.RemoteIP,
		At:         now,
	})
}

func (s *Service) logAudit(ctx context.Context, ev audit.Event) {
	if err := s.audit.Log(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "failed to write audit event", "event_type", ev.EventType, "error", err)
	}
}

// publish is best effort: a notification failure never affects the ledger or the ack.
func (s *Service) publish(ctx context.Context, topic string, event any) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := s.publisher.Publish(nctx, topic, event); err != nil {
		s.metrics.IncNotificationError(topic)
		s.logger.WarnContext(ctx, "failed to publish notification", "topic", topic, "error", err)
	}
}

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	return errors.Is(err, domain.ErrMalformedPayload) ||
		errors.Is(err, domain.ErrMissingSubject) ||
		errors.Is(err, domain.ErrUnknownVendor)
}
