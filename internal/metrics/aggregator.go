package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BacklogSource reports ledger backlog counts by state
type BacklogSource interface {
	Backlog(ctx context.Context) (map[string]int, error)
}

// Aggregator periodically refreshes the ledger backlog gauges
type Aggregator struct {
	source   BacklogSource
	metrics  *Metrics
	logger   *slog.Logger
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewAggregator creates a new backlog aggregator worker
func NewAggregator(source BacklogSource, m *Metrics, logger *slog.Logger, interval time.Duration) *Aggregator {
	if interval == 0 {
		interval = 1 * time.Minute
	}

	return &Aggregator{
		source:   source,
		metrics:  m,
		logger:   logger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the aggregation worker
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("backlog aggregator started", "interval", a.interval)
	a.aggregate(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("backlog aggregator stopped")
			return
		case <-a.done:
			a.logger.Info("backlog aggregator stopped")
			return
		case <-ticker.C:
			a.aggregate(ctx)
		}
	}
}

// Stop gracefully shuts down the aggregator
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
}

func (a *Aggregator) aggregate(ctx context.Context) {
	counts, err := a.source.Backlog(ctx)
	if err != nil {
		a.logger.Error("failed to read ledger backlog", "error", err)
		return
	}
	for state, n := range counts {
		a.metrics.SetBacklog(state, n)
	}
}
