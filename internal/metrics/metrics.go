package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook results used as the "result" label.
const (
	ResultAccepted       = "accepted"
	ResultDuplicate      = "duplicate"
	ResultRejected       = "rejected"
	ResultUnknownVendor  = "unknown_vendor"
	ResultMalformed      = "malformed"
	ResultLedgerDown     = "ledger_unavailable"
	ResultProcessFailure = "process_failure"
	ResultTimeout        = "timeout"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	WebhooksReceived   *prometheus.CounterVec
	Outcomes           *prometheus.CounterVec
	ProcessDuration    *prometheus.HistogramVec
	SweepEvents        *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	PermanentFailures  *prometheus.CounterVec
	LedgerBacklog      *prometheus.GaugeVec
	LockWaitDuration   prometheus.Histogram
	NotificationErrors *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WebhooksReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idv_webhooks_received_total",
			Help: "Inbound webhook deliveries by vendor and result",
		}, []string{"vendor", "result"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idv_reconcile_outcomes_total",
			Help: "Reconciliation outcomes by vendor and outcome",
		}, []string{"vendor", "outcome"}),
		ProcessDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idv_process_duration_seconds",
			Help:    "Duration of lock, load, reconcile and upsert for one event",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"source"}),
		SweepEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idv_sweep_events_total",
			Help: "Events handled by the retry supervisor by result",
		}, []string{"result"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "idv_sweep_duration_seconds",
			Help:    "Duration of one retry sweep",
			Buckets: prometheus.DefBuckets,
		}),
		PermanentFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idv_events_permanently_failed_total",
			Help: "Events excluded from retry, by vendor and reason",
		}, []string{"vendor", "reason"}),
		LedgerBacklog: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "idv_ledger_backlog",
			Help: "Ledger events not yet successfully processed, by state",
		}, []string{"state"}),
		LockWaitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "idv_subject_lock_wait_seconds",
			Help:    "Time spent waiting for the per-subject critical section",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		NotificationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idv_notification_errors_total",
			Help: "Failed downstream notifications by topic",
		}, []string{"topic"}),
	}
}

func (m *Metrics) IncWebhook(vendor, result string) {
	if m != nil {
		m.WebhooksReceived.WithLabelValues(vendor, result).Inc()
	}
}

func (m *Metrics) IncOutcome(vendor, outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(vendor, outcome).Inc()
	}
}

// ObserveProcess records the duration since start. source is "webhook" or "sweep".
func (m *Metrics) ObserveProcess(source string, start time.Time) {
	if m != nil {
		m.ProcessDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) AddSweep(result string, n int) {
	if m != nil && n > 0 {
		m.SweepEvents.WithLabelValues(result).Add(float64(n))
	}
}

func (m *Metrics) ObserveSweep(start time.Time) {
	if m != nil {
		m.SweepDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IncPermanentFailure(vendor, reason string) {
	if m != nil {
		m.PermanentFailures.WithLabelValues(vendor, reason).Inc()
	}
}

func (m *Metrics) SetBacklog(state string, n int) {
	if m != nil {
		m.LedgerBacklog.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Metrics) ObserveLockWait(start time.Time) {
	if m != nil {
		m.LockWaitDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IncNotificationError(topic string) {
	if m != nil {
		m.NotificationErrors.WithLabelValues(topic).Inc()
	}
}
