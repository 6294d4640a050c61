// Package gateway dispatches capability work to external providers and turns
// their asynchronous callbacks into canonical signals.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"onboarding/internal/agent/correlation"
	"onboarding/internal/agent/metrics"
	"onboarding/internal/agent/normalizer"
	"onboarding/internal/agent/provider"
	signalmodels "onboarding/internal/signal/models"
	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/circuit"
	"onboarding/pkg/platform/sentinel"
	"onboarding/pkg/requestcontext"
)

// Invoker calls one provider.
type Invoker interface {
	Invoke(ctx context.Context, req provider.Request) error
}

// CorrelationStore dedupes callbacks by correlation id.
type CorrelationStore interface {
	Register(ctx context.Context, rec correlation.Record) error
	Get(ctx context.Context, correlationID id.CorrelationID) (*correlation.Record, error)
	MarkResolved(ctx context.Context, correlationID id.CorrelationID, at time.Time) (bool, error)
	Release(ctx context.Context, correlationID id.CorrelationID) error
}

// SignalSink is the signal gateway's delivery entry point.
type SignalSink interface {
	Deliver(ctx context.Context, sig models.Signal, caller signalmodels.Caller) (*models.SignalResult, error)
}

// FailureHook is told about dispatches that could not be completed.
type FailureHook func(ctx context.Context, req models.DispatchRequest, err error)

var ErrQueueFull = errors.New("dispatch queue is full")

const (
	defaultWorkers        = 4
	defaultQueueSize      = 64
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

type job struct {
	req       models.DispatchRequest
	requestID string
}

// Gateway is a bounded worker pool in front of the capability providers.
type Gateway struct {
	providers    map[models.Capability]Invoker
	breakers     map[models.Capability]*circuit.Breaker
	correlations CorrelationStore
	normalizers  normalizer.Registry
	signals      SignalSink
	onFailure    FailureHook

	queue          chan job
	workers        int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	breakerOpts    []circuit.Option

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	clock   func() time.Time
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

func WithProvider(capability models.Capability, inv Invoker) Option {
	return func(g *Gateway) {
		g.providers[capability] = inv
	}
}

func WithNormalizers(r normalizer.Registry) Option {
	return func(g *Gateway) {
		g.normalizers = r
	}
}

func WithSignalSink(s SignalSink) Option {
	return func(g *Gateway) {
		g.signals = s
	}
}

func WithFailureHook(h FailureHook) Option {
	return func(g *Gateway) {
		g.onFailure = h
	}
}

func WithPool(workers, queueSize int) Option {
	return func(g *Gateway) {
		if workers > 0 {
			g.workers = workers
		}
		if queueSize > 0 {
			g.queue = make(chan job, queueSize)
		}
	}
}

// WithRetry bounds provider attempts and the exponential backoff between them.
func WithRetry(maxAttempts int, initial, max time.Duration) Option {
	return func(g *Gateway) {
		if maxAttempts > 0 {
			g.maxAttempts = maxAttempts
		}
		if initial > 0 {
			g.initialBackoff = initial
		}
		if max > 0 {
			g.maxBackoff = max
		}
	}
}

func WithBreakerOptions(opts ...circuit.Option) Option {
	return func(g *Gateway) {
		g.breakerOpts = append(g.breakerOpts, opts...)
	}
}

func WithClock(clock func() time.Time) Option {
	return func(g *Gateway) {
		g.clock = clock
	}
}

func New(correlations CorrelationStore, opts ...Option) *Gateway {
	g := &Gateway{
		providers:      make(map[models.Capability]Invoker),
		breakers:       make(map[models.Capability]*circuit.Breaker),
		correlations:   correlations,
		normalizers:    normalizer.Default(70),
		queue:          make(chan job, defaultQueueSize),
		workers:        defaultWorkers,
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		logger:         slog.Default(),
		tracer:         otel.Tracer("onboarding/agent"),
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	for capability := range g.providers {
		g.breakers[capability] = circuit.New(string(capability), g.breakerOpts...)
	}
	return g
}

// SetFailureHook wires the stage engine after construction.
func (g *Gateway) SetFailureHook(h FailureHook) {
	g.onFailure = h
}

// SetSignalSink wires the signal gateway after construction.
func (g *Gateway) SetSignalSink(s SignalSink) {
	g.signals = s
}

// Dispatch registers the correlation and enqueues the request. It never waits
// for the provider; a full queue is reported immediately.
func (g *Gateway) Dispatch(ctx context.Context, req models.DispatchRequest) error {
	if _, ok := g.providers[req.Capability]; !ok {
		return fmt.Errorf("%w: %s", provider.ErrNoProvider, req.Capability)
	}
	err := g.correlations.Register(ctx, correlation.Record{
		CorrelationID: req.CorrelationID,
		WorkflowID:    req.WorkflowID,
		Capability:    req.Capability,
		DispatchedAt:  g.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("register correlation: %w", err)
	}

	select {
	case g.queue <- job{req: req, requestID: requestcontext.RequestID(ctx)}:
		g.metrics.IncrementDispatch(string(req.Capability))
		g.metrics.SetQueueDepth(len(g.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is cancelled. Requests still
// queued at shutdown are dropped; their waits expire through the sweep.
func (g *Gateway) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < g.workers; i++ {
		eg.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case j := <-g.queue:
					g.metrics.SetQueueDepth(len(g.queue))
					g.process(ctx, j)
				}
			}
		})
	}
	err := eg.Wait()
	if dropped := len(g.queue); dropped > 0 {
		g.logger.Warn("agent gateway stopped with queued dispatches", "dropped", dropped)
	}
	return err
}

func (g *Gateway) process(ctx context.Context, j job) {
	req := j.req
	if j.requestID != "" {
		ctx = requestcontext.WithRequestID(ctx, j.requestID)
	}
	ctx, span := g.tracer.Start(ctx, "agent.dispatch", trace.WithAttributes(
		attribute.String("workflow.id", req.WorkflowID.String()),
		attribute.String("agent.capability", string(req.Capability)),
		attribute.String("agent.correlation_id", req.CorrelationID.String()),
	))
	defer span.End()

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	err := g.invokeWithRetry(ctx, req)
	if err == nil {
		g.logger.InfoContext(ctx, "capability accepted by provider",
			"workflow_id", req.WorkflowID.String(),
			"capability", string(req.Capability),
			"correlation_id", req.CorrelationID.String(),
		)
		return
	}

	span.RecordError(err)
	g.metrics.IncrementExhausted(string(req.Capability))
	g.logger.ErrorContext(ctx, "capability dispatch failed",
		"workflow_id", req.WorkflowID.String(),
		"capability", string(req.Capability),
		"correlation_id", req.CorrelationID.String(),
		"category", string(provider.GetCategory(err)),
		"error", err,
	)
	if g.onFailure != nil {
		g.onFailure(ctx, req, dErrors.Wrap(err, dErrors.CodeTransientDispatch, "capability dispatch failed"))
	}
}

func (g *Gateway) invokeWithRetry(ctx context.Context, req models.DispatchRequest) error {
	capability := string(req.Capability)
	inv := g.providers[req.Capability]
	breaker := g.breakers[req.Capability]

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.initialBackoff
	b.MaxInterval = g.maxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.maxAttempts-1)), ctx)

	op := func() error {
		if !breaker.Allow() {
			return backoff.Permanent(provider.NewProviderError(provider.ErrorCircuitOpen, capability, "circuit open", nil))
		}
		err := inv.Invoke(ctx, provider.RequestFor(req))
		if err == nil {
			if _, change := breaker.RecordSuccess(); change.Closed {
				g.metrics.SetBreakerOpen(capability, false)
				g.logger.InfoContext(ctx, "provider circuit closed", "capability", capability)
			}
			g.metrics.IncrementAttempt(capability, "success")
			return nil
		}
		if _, change := breaker.RecordFailure(); change.Opened {
			g.metrics.SetBreakerOpen(capability, true)
			g.logger.WarnContext(ctx, "provider circuit opened", "capability", capability)
		}
		if !provider.IsRetryable(err) {
			g.metrics.IncrementAttempt(capability, "failure")
			return backoff.Permanent(err)
		}
		g.metrics.IncrementAttempt(capability, "retry")
		return err
	}

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		g.logger.WarnContext(ctx, "retrying capability dispatch",
			"capability", capability,
			"correlation_id", req.CorrelationID.String(),
			"wait", wait,
			"error", err,
		)
	})
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("dispatch abandoned: %w", err)
	}
	return err
}

// CallbackResult reports what happened to a provider callback.
type CallbackResult struct {
	CorrelationID id.CorrelationID     `json:"correlationId"`
	WorkflowID    id.WorkflowID        `json:"workflowId"`
	Outcome       models.Outcome       `json:"outcome"`
	Duplicate     bool                 `json:"duplicate"`
	Signal        models.SignalOutcome `json:"signal,omitempty"`
}

// ReceiveCallback normalizes a provider payload, claims its correlation and
// forwards the decision. A correlation that was already resolved is accepted
// as a no-op.
func (g *Gateway) ReceiveCallback(ctx context.Context, providerName string, raw []byte, caller signalmodels.Caller) (*CallbackResult, error) {
	ctx, span := g.tracer.Start(ctx, "agent.callback", trace.WithAttributes(attribute.String("agent.provider", providerName)))
	defer span.End()

	n, err := g.normalizers.Lookup(providerName)
	if err != nil {
		g.metrics.IncrementCallback(providerName, "unknown")
		return nil, err
	}
	cb, err := n.Normalize(raw)
	if err != nil {
		g.metrics.IncrementCallback(providerName, "invalid")
		g.logger.WarnContext(ctx, "malformed provider callback",
			"provider", providerName,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, err
	}

	rec, err := g.correlations.Get(ctx, cb.CorrelationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			g.metrics.IncrementCallback(providerName, "invalid")
			return nil, dErrors.New(dErrors.CodeValidation, "unknown correlation id")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load correlation")
	}
	if rec.WorkflowID != cb.WorkflowID {
		g.metrics.IncrementCallback(providerName, "invalid")
		return nil, dErrors.New(dErrors.CodeValidation, "correlation id does not belong to workflow")
	}
	if string(rec.Capability) != providerName {
		g.metrics.IncrementCallback(providerName, "invalid")
		return nil, dErrors.New(dErrors.CodeValidation, "callback provider does not match dispatched capability")
	}

	result := &CallbackResult{CorrelationID: cb.CorrelationID, WorkflowID: cb.WorkflowID, Outcome: cb.Decision.Outcome}
	now := g.clock().UTC()
	first, err := g.correlations.MarkResolved(ctx, cb.CorrelationID, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve correlation")
	}
	if !first {
		g.metrics.IncrementCallback(providerName, "duplicate")
		g.logger.InfoContext(ctx, "duplicate provider callback ignored",
			"provider", providerName,
			"correlation_id", cb.CorrelationID.String(),
			"workflow_id", cb.WorkflowID.String(),
		)
		result.Duplicate = true
		return result, nil
	}

	if g.signals == nil {
		_ = g.correlations.Release(ctx, cb.CorrelationID)
		return nil, dErrors.New(dErrors.CodeInternal, "signal gateway not configured")
	}
	sig := models.Signal{
		Name:          models.SignalAgentCallback,
		Origin:        models.OriginAgent,
		WorkflowID:    cb.WorkflowID,
		CorrelationID: cb.CorrelationID,
		Decision:      cb.Decision,
		ActorID:       cb.AgentID,
		ReceivedAt:    now,
		Claimed:       true,
	}
	delivered, err := g.signals.Deliver(ctx, sig, caller)
	if err != nil {
		if redeliverable(err) {
			if relErr := g.correlations.Release(ctx, cb.CorrelationID); relErr != nil {
				g.logger.ErrorContext(ctx, "failed to release correlation after delivery failure",
					"correlation_id", cb.CorrelationID.String(),
					"error", relErr,
				)
			}
		}
		return nil, err
	}

	g.metrics.IncrementCallback(providerName, "applied")
	result.Signal = delivered.Outcome
	return result, nil
}

// Claim resolves a correlation for an agent signal that arrived on another
// ingress. It reports false when the correlation was already resolved, so the
// callback endpoint and the signal endpoint apply a decision once between them.
func (g *Gateway) Claim(ctx context.Context, workflowID id.WorkflowID, correlationID id.CorrelationID) (bool, error) {
	rec, err := g.correlations.Get(ctx, correlationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, dErrors.New(dErrors.CodeValidation, "unknown correlation id")
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load correlation")
	}
	if rec.WorkflowID != workflowID {
		return false, dErrors.New(dErrors.CodeValidation, "correlation id does not belong to workflow")
	}
	first, err := g.correlations.MarkResolved(ctx, correlationID, g.clock().UTC())
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve correlation")
	}
	if !first {
		g.metrics.IncrementCallback(string(rec.Capability), "duplicate")
	}
	return first, nil
}

// Release reopens a claimed correlation after a delivery that may be retried.
func (g *Gateway) Release(ctx context.Context, correlationID id.CorrelationID) error {
	return g.correlations.Release(ctx, correlationID)
}

// Cancel resolves a correlation so a late callback is absorbed as a duplicate.
func (g *Gateway) Cancel(ctx context.Context, correlationID id.CorrelationID) error {
	if correlationID.IsNil() {
		return nil
	}
	_, err := g.correlations.MarkResolved(ctx, correlationID, g.clock().UTC())
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	return err
}

// redeliverable reports whether a provider retry could still succeed.
func redeliverable(err error) bool {
	de, ok := dErrors.From(err)
	if !ok {
		return true
	}
	switch de.Code {
	case dErrors.CodeAlreadyTerminated, dErrors.CodeNotFound, dErrors.CodeValidation,
		dErrors.CodeUnrecognizedSignal, dErrors.CodeUnauthorized, dErrors.CodeForbidden:
		return false
	}
	return true
}
