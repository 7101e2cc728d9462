// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Protocol metrics
	StreamsCreated   prometheus.Counter
	StreamsFinished  prometheus.Counter
	ClaimsTotal      *prometheus.CounterVec
	CancelsTotal     prometheus.Counter
	RenouncesTotal   prometheus.Counter
	OperationErrors  *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec

	// Stream population metrics
	ActiveStreams prometheus.Gauge
	LastStreamID  prometheus.Gauge

	// Feed metrics
	EventsEmitted        *prometheus.CounterVec
	WebsocketSubscribers prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulOperation prometheus.Gauge
	UptimeSeconds           prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "coindrip"
	}

	return &Metrics{
		// Protocol metrics
		StreamsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "streams_created_total",
			Help:      "Total number of streams created",
		}),
		StreamsFinished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "streams_finished_total",
			Help:      "Total number of streams fully drained and removed",
		}),
		ClaimsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "claims_total",
			Help:      "Total number of successful claims by kind",
		}, []string{"kind"}),
		CancelsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "cancels_total",
			Help:      "Total number of stream cancellations",
		}),
		RenouncesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "renounces_total",
			Help:      "Total number of cancellation rights renounced",
		}),
		OperationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "operation_errors_total",
			Help:      "Total number of rejected operations by operation and reason",
		}, []string{"operation", "reason"}),
		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "operation_latency_seconds",
			Help:      "Protocol operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		// Stream population metrics
		ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "active_streams",
			Help:      "Current number of live stream records",
		}),
		LastStreamID: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "last_stream_id",
			Help:      "Highest stream id allocated so far",
		}),

		// Feed metrics
		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Total number of protocol events emitted by type",
		}, []string{"event_type"}),
		WebsocketSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "websocket_subscribers",
			Help:      "Current number of connected websocket subscribers",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulOperation: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_operation_timestamp",
			Help:      "Unix timestamp of last successful protocol operation",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordStreamCreated increments the streams created counter.
func RecordStreamCreated(lastID int64) {
	DefaultMetrics.StreamsCreated.Inc()
	DefaultMetrics.ActiveStreams.Inc()
	DefaultMetrics.LastStreamID.Set(float64(lastID))
}

// RecordClaim increments the claims counter for one claim kind.
func RecordClaim(kind string) {
	DefaultMetrics.ClaimsTotal.WithLabelValues(kind).Inc()
}

// RecordStreamFinished increments the finished streams counter.
func RecordStreamFinished() {
	DefaultMetrics.StreamsFinished.Inc()
	DefaultMetrics.ActiveStreams.Dec()
}

// RecordCancel increments the cancellations counter.
func RecordCancel() {
	DefaultMetrics.CancelsTotal.Inc()
}

// RecordRenounce increments the renounced cancellations counter.
func RecordRenounce() {
	DefaultMetrics.RenouncesTotal.Inc()
}

// RecordOperationError records a rejected operation.
func RecordOperationError(operation, reason string) {
	DefaultMetrics.OperationErrors.WithLabelValues(operation, reason).Inc()
}

// RecordOperationLatency records how long a protocol operation took.
func RecordOperationLatency(operation string, seconds float64) {
	DefaultMetrics.OperationLatency.WithLabelValues(operation).Observe(seconds)
	DefaultMetrics.LastSuccessfulOperation.SetToCurrentTime()
}

// RecordEventEmitted increments the emitted events counter.
func RecordEventEmitted(eventType string) {
	DefaultMetrics.EventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
