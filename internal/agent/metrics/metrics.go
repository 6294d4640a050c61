package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the agent gateway.
type Metrics struct {
	Dispatches *prometheus.CounterVec

	// Provider invocations by capability and result (success, retry, failure)
	Attempts *prometheus.CounterVec

	Exhausted    *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec
	QueueDepth   prometheus.Gauge

	// Callbacks by provider and result (applied, duplicate, invalid, unknown)
	Callbacks *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Dispatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_agent_dispatches_total",
			Help: "Capability requests accepted onto the dispatch queue",
		}, []string{"capability"}),
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_agent_attempts_total",
			Help: "Provider invocation attempts by capability and result",
		}, []string{"capability", "result"}),
		Exhausted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_agent_dispatch_exhausted_total",
			Help: "Dispatches that failed after all retries",
		}, []string{"capability"}),
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "onboarding_agent_circuit_open",
			Help: "1 while the capability circuit breaker is open",
		}, []string{"capability"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "onboarding_agent_queue_depth",
			Help: "Dispatch requests waiting for a worker",
		}),
		Callbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_agent_callbacks_total",
			Help: "Provider callbacks by provider and result",
		}, []string{"provider", "result"}),
	}
}

func (m *Metrics) IncrementDispatch(capability string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(capability).Inc()
}

func (m *Metrics) IncrementAttempt(capability, result string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(capability, result).Inc()
}

func (m *Metrics) IncrementExhausted(capability string) {
	if m == nil {
		return
	}
	m.Exhausted.WithLabelValues(capability).Inc()
}

func (m *Metrics) SetBreakerOpen(capability string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.BreakerState.WithLabelValues(capability).Set(v)
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) IncrementCallback(provider, result string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(provider, result).Inc()
}
