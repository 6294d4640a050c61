// Package service is the stage engine: the only component that mutates workflow rows.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	eventmodels "onboarding/internal/eventlog/models"
	"onboarding/internal/workflow/metrics"
	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/sentinel"
	txcontext "onboarding/pkg/platform/tx"
	"onboarding/pkg/requestcontext"
)

// Store persists workflows. UpdateIfVersion is a compare-and-swap on version
// returning sentinel.ErrConflict when the stored version differs.
type Store interface {
	Create(ctx context.Context, w *models.Workflow) error
	FindByID(ctx context.Context, workflowID id.WorkflowID) (*models.Workflow, error)
	Exists(ctx context.Context, workflowID id.WorkflowID) (bool, error)
	UpdateIfVersion(ctx context.Context, w *models.Workflow, expectedVersion int64) error
	ListExpiredWaits(ctx context.Context, now time.Time, limit int) ([]*models.Workflow, error)
}

// EventLog is the audit trail the engine appends to.
type EventLog interface {
	Record(ctx context.Context, e *eventmodels.Event) (*eventmodels.Event, error)
	List(ctx context.Context, workflowID id.WorkflowID, afterSequence int64, limit int) ([]*eventmodels.Event, error)
}

// Dispatcher hands capability work to the agent gateway without blocking.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.DispatchRequest) error
}

const (
	defaultCapabilityDeadline = 30 * time.Minute
	terminateAttempts         = 5
	signalAttempts            = 3
)

type Service struct {
	store      Store
	events     EventLog
	dispatcher Dispatcher
	tx         txcontext.Runner
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	deadlineFor func(models.Capability) time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTx(runner txcontext.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) {
		s.dispatcher = d
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithCapabilityDeadlines sets how long a dispatched capability may run before its wait expires.
func WithCapabilityDeadlines(fn func(models.Capability) time.Duration) Option {
	return func(s *Service) {
		s.deadlineFor = fn
	}
}

func New(store Store, events EventLog, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("workflow store is required")
	}
	if events == nil {
		return nil, errors.New("event log is required")
	}
	s := &Service{
		store:  store,
		events: events,
		tx:     txcontext.NoopRunner{},
		logger: slog.Default(),
		tracer: otel.Tracer("onboarding/workflow"),
		deadlineFor: func(models.Capability) time.Duration {
			return defaultCapabilityDeadline
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetDispatcher wires the gateway after construction; the gateway's failure hook
// needs the engine, so one of the two is always built first.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// actor describes who initiated an engine operation.
type actor struct {
	kind eventmodels.ActorType
	id   string
}

func actorFromContext(ctx context.Context) actor {
	if userID := requestcontext.UserID(ctx); !userID.IsNil() {
		return actor{kind: eventmodels.ActorUser, id: userID.String()}
	}
	return actor{kind: eventmodels.ActorSystem, id: "stage-engine"}
}

func (s *Service) record(ctx context.Context, w *models.Workflow, eventType eventmodels.EventType, who actor, payload map[string]any) (*eventmodels.Event, error) {
	return s.events.Record(ctx, &eventmodels.Event{
		WorkflowID: w.ID,
		Type:       eventType,
		Payload:    payload,
		ActorType:  who.kind,
		ActorID:    who.id,
		Timestamp:  requestcontext.Now(ctx),
	})
}

func (s *Service) load(ctx context.Context, workflowID id.WorkflowID) (*models.Workflow, error) {
	if workflowID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "workflow id is required")
	}
	w, err := s.store.FindByID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "workflow not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load workflow")
	}
	return w, nil
}

func (s *Service) staleStage(expected, current int64) error {
	s.metrics.IncrementStale()
	return dErrors.New(dErrors.CodeStaleStage,
		fmt.Sprintf("expected version %d but workflow is at version %d; refetch and retry", expected, current))
}

// checkVersion enforces the caller's expected version. Zero means the caller
// acts on whatever version it just read.
func (s *Service) checkVersion(w *models.Workflow, expected int64) error {
	if expected != 0 && expected != w.Version {
		return s.staleStage(expected, w.Version)
	}
	return nil
}

// save persists w with a CAS on expectedVersion and maps a lost race to StaleStage.
func (s *Service) save(ctx context.Context, w *models.Workflow, expectedVersion int64) error {
	err := s.store.UpdateIfVersion(ctx, w, expectedVersion)
	switch {
	case err == nil:
		s.metrics.IncrementTransition(string(w.Status))
		return nil
	case errors.Is(err, sentinel.ErrConflict):
		s.metrics.IncrementStale()
		return dErrors.New(dErrors.CodeStaleStage, "workflow was modified concurrently; refetch and retry")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "workflow not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save workflow")
	}
}

func isStale(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeStaleStage)
}

func (s *Service) span(ctx context.Context, name string, workflowID id.WorkflowID) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "workflow."+name)
	span.SetAttributes(workflowAttr(workflowID))
	return ctx, span
}
