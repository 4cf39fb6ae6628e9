package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGetMetrics(t *testing.T) {
	// Get metrics instance
	metrics := GetMetrics()

	// Verify it's not nil
	assert.NotNil(t, metrics, "Metrics should not be nil")

	// Call again to test singleton behavior
	metrics2 := GetMetrics()

	// Verify both instances are the same
	assert.Same(t, metrics, metrics2, "GetMetrics should return the same instance")
}

func TestAllMetricsInitialized(t *testing.T) {
	m := GetMetrics()

	assert.NotNil(t, m.APIRequestsTotal)
	assert.NotNil(t, m.APIRequestDuration)
	assert.NotNil(t, m.APIErrorsTotal)

	assert.NotNil(t, m.RegistryConnections)
	assert.NotNil(t, m.RegistryReplacements)

	assert.NotNil(t, m.NotificationsSent)
	assert.NotNil(t, m.DeliveryFailures)
	assert.NotNil(t, m.PushDuration)
	assert.NotNil(t, m.ReadAcknowledged)
	assert.NotNil(t, m.BackfillsDelivered)

	assert.NotNil(t, m.TransportConnectionsTotal)
	assert.NotNil(t, m.TransportRejectedTotal)
	assert.NotNil(t, m.TransportEventsWritten)

	assert.NotNil(t, m.StorageOperations)
	assert.NotNil(t, m.StorageOperationDuration)
	assert.NotNil(t, m.CacheLookups)
	assert.NotNil(t, m.StorageSize)
}

func TestMetricsOperations(t *testing.T) {
	// Isolated registry so values are not shared with the singleton
	registry := prometheus.NewRegistry()

	sent := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_notifications_sent_total",
			Help: "Test metric",
		},
		[]string{"channel", "outcome"},
	)
	registry.MustRegister(sent)

	connections := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "test_registry_connections",
			Help: "Test metric",
		},
	)
	registry.MustRegister(connections)

	sent.WithLabelValues("realtime", "pushed").Inc()
	sent.WithLabelValues("realtime", "pushed").Add(2)
	sent.WithLabelValues("persisted", "stored").Inc()

	connections.Set(10)
	connections.Inc()
	connections.Dec()

	assert.Equal(t, float64(3), testutil.ToFloat64(sent.WithLabelValues("realtime", "pushed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sent.WithLabelValues("persisted", "stored")))
	assert.Equal(t, float64(10), testutil.ToFloat64(connections))
}

func BenchmarkMetricsOperations(b *testing.B) {
	registry := prometheus.NewRegistry()

	counterVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchmark_counter_vec",
			Help: "Benchmark counter vec",
		},
		[]string{"channel", "outcome"},
	)
	registry.MustRegister(counterVec)

	histogram := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "benchmark_histogram",
			Help:    "Benchmark histogram",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)
	registry.MustRegister(histogram)

	b.Run("CounterVec.WithLabelValues", func(b *testing.B) {
		channels := []string{"realtime", "persisted"}
		outcomes := []string{"pushed", "offline", "stored"}

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			counterVec.WithLabelValues(channels[i%len(channels)], outcomes[i%len(outcomes)]).Inc()
		}
	})

	b.Run("Histogram.Observe", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			histogram.Observe(float64(i) / 1000.0)
		}
	})
}
