package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process-level Prometheus metrics: HTTP, the outbox relay and
// the resume consumer.
type Metrics struct {
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	OutboxRelayed    prometheus.Counter
	OutboxFailures   prometheus.Counter
	OutboxBacklog    prometheus.Gauge
	MessagesConsumed *prometheus.CounterVec
	AlertsPublished  *prometheus.CounterVec
}

// New creates and registers all process metrics. Call it once per process.
func New() *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_http_requests_total",
			Help: "HTTP requests by route pattern, method and status",
		}, []string{"route", "method", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboarding_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		OutboxRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_outbox_relayed_total",
			Help: "Outbox rows published to Kafka",
		}),
		OutboxFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_outbox_publish_failures_total",
			Help: "Outbox publish attempts that failed",
		}),
		OutboxBacklog: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "onboarding_outbox_batch_size",
			Help: "Rows picked up by the last relay pass",
		}),
		MessagesConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_kafka_messages_consumed_total",
			Help: "Kafka records handled by topic and result",
		}, []string{"topic", "result"}),
		AlertsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_operator_alerts_total",
			Help: "Operator alerts by delivery path",
		}, []string{"path"}),
	}
}

func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) AddOutboxRelayed(n int) {
	if m == nil {
		return
	}
	m.OutboxRelayed.Add(float64(n))
}

func (m *Metrics) IncrementOutboxFailure() {
	if m == nil {
		return
	}
	m.OutboxFailures.Inc()
}

func (m *Metrics) SetOutboxBatch(n int) {
	if m == nil {
		return
	}
	m.OutboxBacklog.Set(float64(n))
}

func (m *Metrics) IncrementConsumed(topic, result string) {
	if m == nil {
		return
	}
	m.MessagesConsumed.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) IncrementAlert(path string) {
	if m == nil {
		return
	}
	m.AlertsPublished.WithLabelValues(path).Inc()
}
