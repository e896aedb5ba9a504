package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reminders"

// Исходы dispatch-цикла (label outcome).
const (
	CycleCompleted  = "completed"
	CycleLockBusy   = "lock_busy"
	CycleLockError  = "lock_error"
	CycleQueryError = "query_error"
)

// DispatchMetrics — метрики dispatcher'а.
type DispatchMetrics struct {
	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	Due           prometheus.Counter
	Sent          prometheus.Counter
	SendFailures  prometheus.Counter
	SaveFailures  prometheus.Counter
	LastSuccess   prometheus.Gauge
}

// NewDispatchMetrics создаёт и регистрирует метрики в reg.
// Если reg == nil, метрики не регистрируются (удобно для тестов).
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "cycles_total",
			Help:      "Dispatch cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of dispatch cycles that held the lock.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Due: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "due_total",
			Help:      "Due reminders returned by the store.",
		}),
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "sent_total",
			Help:      "Reminders sent and marked as sent.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "send_failures_total",
			Help:      "Reminders whose send failed (left unsent for retry).",
		}),
		SaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "save_failures_total",
			Help:      "Reminders sent but not persisted as sent (will be resent).",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "last_completed_timestamp_seconds",
			Help:      "Unix time of the last completed dispatch cycle.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Cycles,
			m.CycleDuration,
			m.Due,
			m.Sent,
			m.SendFailures,
			m.SaveFailures,
			m.LastSuccess,
		)
	}
	return m
}

// ObserveCycle фиксирует исход цикла.
func (m *DispatchMetrics) ObserveCycle(outcome string, started time.Time, finished time.Time) {
	m.Cycles.WithLabelValues(outcome).Inc()
	if outcome == CycleCompleted {
		m.CycleDuration.Observe(finished.Sub(started).Seconds())
		m.LastSuccess.Set(float64(finished.Unix()))
	}
}

// MailerMetrics — метрики reminder-mailer.
type MailerMetrics struct {
	Delivered *prometheus.CounterVec
}

// NewMailerMetrics создаёт и регистрирует метрики mailer'а.
func NewMailerMetrics(reg prometheus.Registerer) *MailerMetrics {
	m := &MailerMetrics{
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailer",
			Name:      "emails_total",
			Help:      "Queued emails processed by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Delivered)
	}
	return m
}
