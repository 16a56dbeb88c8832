package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the dispatch service exposes.
// client_golang ships as a direct dependency; this restores real
// collectors behind it instead of the no-op stand-ins.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	BatchesDispatched   *prometheus.CounterVec
	ActiveConnections   prometheus.Gauge
	PendingWaiters      prometheus.Gauge
	AttemptsStarted     *prometheus.CounterVec
	LeasesExpired       prometheus.Counter
	NotificationsTotal  *prometheus.CounterVec
	OutboxQueueDepth    prometheus.Gauge
}

// NewMetrics constructs and registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_http_requests_total",
			Help: "Total HTTP requests handled, by operation and status.",
		}, []string{"operation", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatchd_http_request_duration_seconds",
			Help:    "HTTP request handling latency, by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		BatchesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_batches_dispatched_total",
			Help: "Total command batches dispatched, by target.",
		}, []string{"target"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatchd_active_connections",
			Help: "Connections currently held by the front end.",
		}),
		PendingWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatchd_pending_waiters",
			Help: "Long-poll requests currently parked waiting for a batch.",
		}),
		AttemptsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_attempts_started_total",
			Help: "Total command attempts started, by outcome.",
		}, []string{"outcome"}),
		LeasesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_leases_expired_total",
			Help: "Total attempt leases reclaimed by the expiry sweeper.",
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_notifications_total",
			Help: "Total notification deliveries attempted, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		OutboxQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatchd_outbox_queue_depth",
			Help: "Notifications currently queued for delivery.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.BatchesDispatched,
		m.ActiveConnections,
		m.PendingWaiters,
		m.AttemptsStarted,
		m.LeasesExpired,
		m.NotificationsTotal,
		m.OutboxQueueDepth,
	)

	return m
}
