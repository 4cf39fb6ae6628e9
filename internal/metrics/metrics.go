package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// singleton instance
	instance *Metrics
	once     sync.Once
)

// Metrics holds Prometheus metrics for notifyd
type Metrics struct {
	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Registry metrics
	RegistryConnections  prometheus.Gauge
	RegistryReplacements prometheus.Counter

	// Dispatcher metrics
	NotificationsSent  *prometheus.CounterVec
	DeliveryFailures   *prometheus.CounterVec
	PushDuration       prometheus.Histogram
	ReadAcknowledged   *prometheus.CounterVec
	BackfillsDelivered prometheus.Counter

	// Transport metrics
	TransportConnectionsTotal *prometheus.CounterVec
	TransportRejectedTotal    *prometheus.CounterVec
	TransportEventsWritten    *prometheus.CounterVec

	// Storage metrics
	StorageOperations        *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	CacheLookups             *prometheus.CounterVec
	StorageSize              prometheus.Gauge
}

// GetMetrics returns the metrics singleton
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics initializes and registers all metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	// API metrics
	m.APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	m.APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifyd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // from 1ms to ~16s
		},
		[]string{"method", "route"},
	)

	m.APIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_api_errors_total",
			Help: "Total number of API errors",
		},
		[]string{"error_type"},
	)

	// Registry metrics
	m.RegistryConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifyd_registry_connections",
			Help: "Number of users holding a live realtime connection",
		},
	)

	m.RegistryReplacements = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifyd_registry_replacements_total",
			Help: "Total number of live connections superseded by a newer one for the same user",
		},
	)

	// Dispatcher metrics
	m.NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_notifications_sent_total",
			Help: "Total number of notifications handled by send, by channel and outcome",
		},
		[]string{"channel", "outcome"}, // realtime|persisted, pushed|offline|dropped|failed|stored
	)

	m.DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_delivery_failures_total",
			Help: "Total number of realtime pushes that did not reach the client",
		},
		[]string{"event"},
	)

	m.PushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notifyd_push_duration_seconds",
			Help:    "Duration of realtime pushes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // from 0.1ms to ~0.8s
		},
	)

	m.ReadAcknowledged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_read_acknowledged_total",
			Help: "Total number of read acknowledgements, by kind and whether state changed",
		},
		[]string{"kind", "changed"}, // one|all, true|false
	)

	m.BackfillsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifyd_backfills_delivered_total",
			Help: "Total number of unread backfills pushed on connect",
		},
	)

	// Transport metrics
	m.TransportConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_transport_connections_total",
			Help: "Total number of accepted realtime sessions",
		},
		[]string{"protocol"}, // websocket, sse
	)

	m.TransportRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_transport_rejected_total",
			Help: "Total number of rejected realtime sessions",
		},
		[]string{"reason"},
	)

	m.TransportEventsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_transport_events_written_total",
			Help: "Total number of events written to client sessions",
		},
		[]string{"protocol"},
	)

	// Storage metrics
	m.StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "success"},
	)

	m.StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifyd_storage_operation_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15), // from 0.1ms to ~1.6s
		},
		[]string{"operation"},
	)

	m.CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_cache_lookups_total",
			Help: "Total number of notification cache lookups",
		},
		[]string{"result"}, // hit, miss, expired
	)

	m.StorageSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifyd_storage_size_bytes",
			Help: "On-disk size of the notification store in bytes",
		},
	)

	return m
}
