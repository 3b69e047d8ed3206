// Package retry re-drives ledger events whose first processing attempt did not finish.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/ingest"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/metrics"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/notify"
)

// Ledger is the part of the event ledger the supervisor reads and updates.
type Ledger interface {
	ListUnprocessed(ctx context.Context, olderThan time.Time, maxRetries, limit int) ([]domain.VerificationEvent, error)
	MarkExhausted(ctx context.Context, maxRetries int) ([]domain.VerificationEvent, error)
}

// Redriver re-runs processing for one stored event.
type Redriver interface {
	Redrive(ctx context.Context, ev domain.VerificationEvent, source string) (ingest.Disposition, error)
}

type Config struct {
	Interval     time.Duration
	PendingGrace time.Duration
	BatchSize    int
	Concurrency  int
	MaxRetries   int
}

// SweepResult counts what one sweep did. Retried is every event re-driven.
type SweepResult struct {
	Retried           int `json:"retried"`
	Succeeded         int `json:"succeeded"`
	PermanentlyFailed int `json:"permanently_failed"`
}

type Supervisor struct {
	cfg       Config
	ledger    Ledger
	redriver  Redriver
	publisher notify.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	// sweeping keeps ticks from overlapping with a manual sweep.
	sweeping sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

func NewSupervisor(cfg Config, ledger Ledger, redriver Redriver, logger *slog.Logger) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 8
	}

	return &Supervisor{
		cfg:       cfg,
		ledger:    ledger,
		redriver:  redriver,
		publisher: &notify.NoopPublisher{},
		logger:    logger.With("component", "retry"),
		now:       func() time.Time { return time.Now().UTC() },
		done:      make(chan struct{}),
	}
}

func (s *Supervisor) WithPublisher(p notify.Publisher) *Supervisor {
	s.publisher = p
	return s
}

func (s *Supervisor) WithMetrics(m *metrics.Metrics) *Supervisor {
	s.metrics = m
	return s
}

// Run sweeps on a fixed interval until ctx is done or Stop is called.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("retry supervisor started",
		"interval", s.cfg.Interval,
		"max_retries", s.cfg.MaxRetries,
		"concurrency", s.cfg.Concurrency,
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry supervisor stopped")
			return
		case <-s.done:
			s.logger.Info("retry supervisor stopped")
			return
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("retry sweep failed", "error", err)
				continue
			}
			if res.Retried > 0 || res.PermanentlyFailed > 0 {
				s.logger.Info("retry sweep finished",
					"retried", res.Retried,
					"succeeded", res.Succeeded,
					"permanently_failed", res.PermanentlyFailed,
				)
			}
		}
	}
}

func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Sweep flags events that hit the retry cap, then re-drives one batch of
// candidates with bounded concurrency. Per-subject ordering is the dispatcher's
// lock, so events for the same subject may be handed out in parallel.
func (s *Supervisor) Sweep(ctx context.Context) (SweepResult, error) {
	s.sweeping.Lock()
	defer s.sweeping.Unlock()

	start := time.Now()
	defer s.metrics.ObserveSweep(start)

	var res SweepResult

	exhausted, err := s.ledger.MarkExhausted(ctx, s.cfg.MaxRetries)
	if err != nil {
		return res, fmt.Errorf("mark exhausted: %w", err)
	}
	for i := range exhausted {
		s.alertExhausted(ctx, &exhausted[i])
	}
	res.PermanentlyFailed += len(exhausted)

	candidates, err := s.ledger.ListUnprocessed(ctx, s.now().Add(-s.cfg.PendingGrace), s.cfg.MaxRetries, s.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list unprocessed: %w", err)
	}

	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, ev := range candidates {
		g.Go(func() error {
			disp, err := s.redriver.Redrive(gctx, ev, ingest.SourceRetry)
			if err != nil {
				s.logger.Error("failed to re-drive event",
					"event_row_id", ev.ID,
					"event_id", ev.EventID,
					"error", err,
				)
			}
			switch disp {
			case ingest.DispositionProcessed:
				succeeded.Add(1)
			case ingest.DispositionFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Retried = len(candidates)
	res.Succeeded = int(succeeded.Load())
	res.PermanentlyFailed += int(failed.Load())

	s.metrics.AddSweep("retried", res.Retried)
	s.metrics.AddSweep("succeeded", res.Succeeded)
	s.metrics.AddSweep("permanently_failed", res.PermanentlyFailed)

	return res, nil
}

func (s *Supervisor) alertExhausted(ctx context.Context, ev *domain.VerificationEvent) {
	var lastErr string
	if ev.Error != nil {
		lastErr = *ev.Error
	}

	s.logger.Error("event exceeded retry cap",
		"event_row_id", ev.ID,
		"vendor", ev.Vendor,
		"event_id", ev.EventID,
		"retry_count", ev.RetryCount,
		"error", lastErr,
	)
	s.metrics.IncPermanentFailure(ev.Vendor, "retries_exhausted")

	err := s.publisher.Publish(ctx, notify.TopicEventFailed, notify.EventFailed{
		RowID:      ev.ID.String(),
		Vendor:     ev.Vendor,
		EventID:    ev.EventID,
		SubjectRef: ev.SubjectRef,
		RetryCount: ev.RetryCount,
		Reason:     "retries_exhausted",
		Error:      lastErr,
		At:         s.now(),
	})
	if err != nil {
		s.metrics.IncNotificationError(notify.TopicEventFailed)
		s.logger.Warn("failed to publish retry alert", "event_row_id", ev.ID, "error", err)
	}
}
