package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the stage engine.
type Metrics struct {
	WorkflowsStarted prometheus.Counter

	// Status transitions by resulting status
	Transitions *prometheus.CounterVec

	// Optimistic concurrency conflicts surfaced to callers
	StaleConflicts prometheus.Counter

	// Signal handling results: applied, ignored, timed_out
	SignalOutcomes *prometheus.CounterVec

	Timeouts     prometheus.Counter
	Terminations prometheus.Counter
}

// New creates a new Metrics instance with all stage engine metrics registered.
func New() *Metrics {
	return &Metrics{
		WorkflowsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_workflows_started_total",
			Help: "Total number of onboarding workflows started",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_workflow_transitions_total",
			Help: "Workflow state transitions by resulting status",
		}, []string{"status"}),
		StaleConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_workflow_stale_conflicts_total",
			Help: "Guarded writes rejected because the expected version was stale",
		}),
		SignalOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_signal_outcomes_total",
			Help: "Signals handled by the stage engine by outcome",
		}, []string{"outcome"}),
		Timeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_wait_timeouts_total",
			Help: "Pending waits transitioned to timeout",
		}),
		Terminations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_workflow_terminations_total",
			Help: "Workflows terminated by the kill switch",
		}),
	}
}

func (m *Metrics) IncrementStarted() {
	if m != nil {
		m.WorkflowsStarted.Inc()
	}
}

func (m *Metrics) IncrementTransition(status string) {
	if m != nil {
		m.Transitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncrementStale() {
	if m != nil {
		m.StaleConflicts.Inc()
	}
}

func (m *Metrics) IncrementSignalOutcome(outcome string) {
	if m != nil {
		m.SignalOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementTimeout() {
	if m != nil {
		m.Timeouts.Inc()
	}
}

func (m *Metrics) IncrementTermination() {
	if m != nil {
		m.Terminations.Inc()
	}
}
