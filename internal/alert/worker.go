package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/metrics"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/notify"
)

// DefaultRules alerts on permanently failed events and on a growing pending
// backlog. A threshold of zero or less disables that rule.
func DefaultRules(permanentThreshold, pendingThreshold int, cooldown time.Duration) []Rule {
	var rules []Rule
	if permanentThreshold > 0 {
		rules = append(rules, Rule{
			Name: "permanent_failures",
			Conditions: []Condition{
				{State: metrics.StatePermanent, Operator: "gte", Threshold: float64(permanentThreshold)},
			},
			Cooldown: cooldown,
			Severity: SeverityCritical,
		})
	}
	if pendingThreshold > 0 {
		rules = append(rules, Rule{
			Name: "backlog_growing",
			Conditions: []Condition{
				{State: metrics.StatePending, Operator: "gte", Threshold: float64(pendingThreshold)},
				{State: metrics.StateRetrying, Operator: "gte", Threshold: float64(pendingThreshold)},
			},
			ConditionLogic: "OR",
			Cooldown:       cooldown,
			Severity:       SeverityWarning,
		})
	}
	return rules
}

type Worker struct {
	rules     []Rule
	source    metrics.BacklogSource
	engine    *Engine
	publisher notify.Publisher
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time

	mu            sync.Mutex
	lastTriggered map[string]time.Time

	done     chan struct{}
	stopOnce sync.Once
}

func NewWorker(rules []Rule, source metrics.BacklogSource, publisher notify.Publisher, logger *slog.Logger, interval time.Duration) *Worker {
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &Worker{
		rules:         rules,
		source:        source,
		engine:        NewEngine(),
		publisher:     publisher,
		logger:        logger,
		interval:      interval,
		now:           func() time.Time { return time.Now().UTC() },
		lastTriggered: make(map[string]time.Time),
		done:          make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) {
	if len(w.rules) == 0 {
		w.logger.Info("alert worker disabled, no rules")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("alert worker started", "interval", w.interval, "rules", len(w.rules))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("alert worker stopped")
			return
		case <-w.done:
			w.logger.Info("alert worker stopped")
			return
		case <-ticker.C:
			w.process(ctx)
		}
	}
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// process reads one backlog snapshot and returns the names of the rules that fired.
func (w *Worker) process(ctx context.Context) []string {
	counts, err := w.source.Backlog(ctx)
	if err != nil {
		w.logger.Error("failed to read backlog for alerts", "error", err)
		return nil
	}

	var fired []string
	for _, rule := range w.rules {
		if w.evaluateRule(ctx, rule, counts) {
			fired = append(fired, rule.Name)
		}
	}
	return fired
}

func (w *Worker) evaluateRule(ctx context.Context, rule Rule, counts map[string]int) bool {
	now := w.now()

	w.mu.Lock()
	var last *time.Time
	if t, ok := w.lastTriggered[rule.Name]; ok {
		last = &t
	}
	w.mu.Unlock()

	if !w.engine.ShouldTrigger(rule, last, now) {
		w.logger.Debug("alert in cooldown", "rule", rule.Name, "last_triggered", last)
		return false
	}

	triggered, details := w.engine.Evaluate(rule, counts)
	if !triggered {
		return false
	}

	w.logger.Warn("alert triggered",
		"rule", rule.Name,
		"severity", rule.Severity,
		"backlog", counts,
	)

	w.mu.Lock()
	w.lastTriggered[rule.Name] = now
	w.mu.Unlock()

	if err := w.publisher.Publish(ctx, notify.TopicBacklogAlert, notify.BacklogAlert{
		Rule:     rule.Name,
		Severity: string(rule.Severity),
		Backlog:  counts,
		Details:  details,
		At:       now,
	}); err != nil {
		w.logger.Error("failed to publish alert", "rule", rule.Name, "error", err)
	}
	return true
}
