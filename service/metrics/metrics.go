package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application. Following the
// explicit dependency injection pattern, this struct is passed to every
// component that records metrics.
type Metrics struct {
	// Ledger transition metrics
	transitionsTotal      *prometheus.CounterVec
	transitionFailures    *prometheus.CounterVec
	genomesRegisteredTotal prometheus.Counter
	genomesDeletedTotal    prometheus.Counter

	// Expiry sweep metrics
	sweepRunsTotal    *prometheus.CounterVec
	sweepExpiredTotal prometheus.Counter
	sweepDuration     prometheus.Histogram

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// SSE metrics
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transitions_total",
				Help: "Total number of successful ledger state transitions",
			},
			[]string{"operation"}, // create, execute, cancel, expire
		),
		transitionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transition_failures_total",
				Help: "Total number of rejected ledger transitions by reason",
			},
			[]string{"operation", "reason"},
		),
		genomesRegisteredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "genomes_registered_total",
				Help: "Total number of genome records registered",
			},
		),
		genomesDeletedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "genomes_deleted_total",
				Help: "Total number of genome records soft-deleted",
			},
		),

		sweepRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expiry_sweep_runs_total",
				Help: "Total number of offer expiry sweep runs",
			},
			[]string{"status"},
		),
		sweepExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "expiry_sweep_offers_expired_total",
				Help: "Total number of offers cancelled by the expiry sweep",
			},
		),
		sweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "expiry_sweep_duration_seconds",
				Help:    "Duration of expiry sweep runs in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"genome_id"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"genome_id", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Ledger metric helpers

// RecordTransition records a successful ledger state transition.
func (m *Metrics) RecordTransition(operation string) {
	m.transitionsTotal.WithLabelValues(operation).Inc()
}

// RecordTransitionFailure records a rejected ledger transition.
func (m *Metrics) RecordTransitionFailure(operation, reason string) {
	m.transitionFailures.WithLabelValues(operation, reason).Inc()
}

// RecordGenomeRegistered records a new genome registration.
func (m *Metrics) RecordGenomeRegistered() {
	m.genomesRegisteredTotal.Inc()
}

// RecordGenomeDeleted records a genome soft-delete.
func (m *Metrics) RecordGenomeDeleted() {
	m.genomesDeletedTotal.Inc()
}

// Sweep metric helpers

// RecordSweepRun records an expiry sweep run with its duration and the number
// of offers it cancelled.
func (m *Metrics) RecordSweepRun(status string, expired int, duration float64) {
	m.sweepRunsTotal.WithLabelValues(status).Inc()
	m.sweepExpiredTotal.Add(float64(expired))
	m.sweepDuration.Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(genomeID string, delta float64) {
	m.sseActiveConnections.WithLabelValues(genomeID).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(genomeID, eventType string) {
	m.sseEventsSent.WithLabelValues(genomeID, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
