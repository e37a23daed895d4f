package dispatcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector receives dispatcher measurements.
type MetricsCollector interface {
	RecordEventProcessed(eventType string, success bool, duration time.Duration)
	RecordBatchProcessed(count int, duration time.Duration)
	RecordLag(lag int64)
	RecordPublishAttempt(channel string, attempt int, success bool)
	RecordSkipped(eventType string)
}

// NoOpMetricsCollector is used when no collector is configured
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordEventProcessed(string, bool, time.Duration) {}
func (NoOpMetricsCollector) RecordBatchProcessed(int, time.Duration)          {}
func (NoOpMetricsCollector) RecordLag(int64)                                  {}
func (NoOpMetricsCollector) RecordPublishAttempt(string, int, bool)           {}
func (NoOpMetricsCollector) RecordSkipped(string)                             {}

// PrometheusMetrics implements MetricsCollector using Prometheus. Every
// series carries a dispatcher label so several dispatchers share a registry.
type PrometheusMetrics struct {
	eventCounter    *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	publishAttempts *prometheus.CounterVec
	publishRetries  *prometheus.CounterVec
	skipped         *prometheus.CounterVec
	batchSize       prometheus.Histogram
	batchDuration   prometheus.Histogram
	lag             prometheus.Gauge
}

// NewPrometheusMetrics registers the dispatcher's collectors on reg. It
// panics if a dispatcher with the same name is already registered.
func NewPrometheusMetrics(reg prometheus.Registerer, dispatcher string) *PrometheusMetrics {
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"dispatcher": dispatcher}, reg))

	return &PrometheusMetrics{
		eventCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatcher_events_processed_total",
			Help: "Domain events processed by outcome",
		}, []string{"event_type", "status"}),
		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatcher_event_duration_seconds",
			Help:    "Time spent dispatching one domain event",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
		publishAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatcher_publish_attempts_total",
			Help: "Channel sends by outcome",
		}, []string{"channel", "status"}),
		publishRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatcher_publish_retries_total",
			Help: "Channel sends that were retries",
		}, []string{"channel"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatcher_events_skipped_total",
			Help: "Domain events that produced no deliverable payload",
		}, []string{"event_type"}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatcher_batch_size",
			Help:    "Events per claimed batch",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatcher_batch_duration_seconds",
			Help:    "Time spent processing one claimed batch",
			Buckets: prometheus.DefBuckets,
		}),
		lag: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dispatcher_lag_events",
			Help: "Events after the dispatcher cursor",
		}),
	}
}

func (m *PrometheusMetrics) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
	m.eventCounter.WithLabelValues(eventType, status(success)).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordBatchProcessed(count int, duration time.Duration) {
	m.batchSize.Observe(float64(count))
	m.batchDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordLag(lag int64) {
	m.lag.Set(float64(lag))
}

func (m *PrometheusMetrics) RecordPublishAttempt(channel string, attempt int, success bool) {
	m.publishAttempts.WithLabelValues(channel, status(success)).Inc()
	if attempt > 1 {
		m.publishRetries.WithLabelValues(channel).Inc()
	}
}

func (m *PrometheusMetrics) RecordSkipped(eventType string) {
	m.skipped.WithLabelValues(eventType).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
