// Package alert sends best-effort operator alerts. Delivery failures never
// propagate; the alert is logged instead.
package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"onboarding/internal/platform/metrics"
	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/circuit"
)

// Alert is an operator-facing notice about an emergency action.
type Alert struct {
	Kind        string         `json:"kind"`
	WorkflowID  id.WorkflowID  `json:"workflowId"`
	ApplicantID id.ApplicantID `json:"applicantId"`
	Actor       string         `json:"actor"`
	Reason      string         `json:"reason"`
	Notes       string         `json:"notes,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
}

// Publisher is satisfied by the kafka producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

const defaultSendTimeout = 2 * time.Second

// Alerter publishes to a topic behind a circuit breaker and falls back to the log.
// A nil publisher makes every alert take the log path.
type Alerter struct {
	publisher Publisher
	topic     string
	breaker   *circuit.Breaker
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Alerter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Alerter) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Alerter) {
		a.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(a *Alerter) {
		a.breaker = b
	}
}

func WithTimeout(d time.Duration) Option {
	return func(a *Alerter) {
		a.timeout = d
	}
}

func New(publisher Publisher, topic string, opts ...Option) *Alerter {
	a := &Alerter{
		publisher: publisher,
		topic:     topic,
		breaker:   circuit.New("operator-alerts", circuit.WithFailureThreshold(3), circuit.WithCooldown(time.Minute)),
		timeout:   defaultSendTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Send reports whether the alert reached the alert channel.
func (a *Alerter) Send(ctx context.Context, alert Alert) bool {
	if a.publisher == nil || !a.breaker.Allow() {
		a.fallback(ctx, alert, nil)
		return false
	}
	body, err := json.Marshal(alert)
	if err != nil {
		a.fallback(ctx, alert, err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	err = a.publisher.Publish(ctx, a.topic, []byte(alert.WorkflowID.String()), body, map[string]string{"kind": alert.Kind})
	if err != nil {
		if _, change := a.breaker.RecordFailure(); change.Opened {
			a.logger.WarnContext(ctx, "operator alert circuit opened")
		}
		a.fallback(ctx, alert, err)
		return false
	}
	a.breaker.RecordSuccess()
	a.metrics.IncrementAlert("kafka")
	return true
}

func (a *Alerter) fallback(ctx context.Context, alert Alert, cause error) {
	a.metrics.IncrementAlert("log")
	attrs := []any{
		"kind", alert.Kind,
		"workflow_id", alert.WorkflowID.String(),
		"applicant_id", alert.ApplicantID.String(),
		"actor", alert.Actor,
		"reason", alert.Reason,
	}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	a.logger.WarnContext(ctx, "operator alert", attrs...)
}
