package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "disaster_response"

// Metrics holds the Prometheus collectors for feed sync and notification delivery.
type Metrics struct {
	// Feed sync.
	SyncRuns          *prometheus.CounterVec   // labels: kind, outcome={success,failure}
	RecordsCreated    *prometheus.CounterVec   // labels: kind
	RecordsSkipped    *prometheus.CounterVec   // labels: kind
	RecordFailures    *prometheus.CounterVec   // labels: kind
	FetchDuration     *prometheus.HistogramVec // labels: kind
	DatetimeFallbacks prometheus.Counter
	SchedulerSkipped  prometheus.Counter

	// Notification fan-out.
	NotificationsCreated prometheus.Counter
	PushSent             *prometheus.CounterVec // labels: outcome={success,failure}
	TokensPruned         prometheus.Counter
	EventsDropped        prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as many as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Feed sync invocations by feed kind and outcome.",
		}, []string{"kind", "outcome"}),
		RecordsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_created_total",
			Help:      "Earthquake records materialized as new disasters.",
		}, []string{"kind"}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Earthquake records skipped as duplicates.",
		}, []string{"kind"}),
		RecordFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_failures_total",
			Help:      "Earthquake records that could not be materialized.",
		}, []string{"kind"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "BMKG feed request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		DatetimeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datetime_fallbacks_total",
			Help:      "Feed timestamps that failed to parse and were replaced by the current time.",
		}),
		SchedulerSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_skipped_total",
			Help:      "Scheduled sync ticks skipped because the previous run still held the lock.",
		}),
		NotificationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "In-app notification rows written.",
		}),
		PushSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_messages_total",
			Help:      "Push messages by delivery outcome.",
		}, []string{"outcome"}),
		TokensPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_tokens_pruned_total",
			Help:      "Device tokens deleted after the push provider rejected them.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Domain events dropped because a subscriber was not keeping up.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SyncRuns,
		m.RecordsCreated,
		m.RecordsSkipped,
		m.RecordFailures,
		m.FetchDuration,
		m.DatetimeFallbacks,
		m.SchedulerSkipped,
		m.NotificationsCreated,
		m.PushSent,
		m.TokensPruned,
		m.EventsDropped,
	}
}
