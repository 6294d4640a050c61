// Package service is the single ingress for triggers that may resume a saga.
// Every accepted signal is appended to the event log before the stage engine
// sees it.
package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	eventmodels "onboarding/internal/eventlog/models"
	signalmodels "onboarding/internal/signal/models"
	wfservice "onboarding/internal/workflow/service"
	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/requestcontext"
)

// Engine is the part of the stage engine the ingress drives.
type Engine interface {
	GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*models.Workflow, error)
	HandleSignal(ctx context.Context, workflowID id.WorkflowID, sig models.Signal) (*models.SignalResult, error)
}

// EventLog receives the ingress audit event.
type EventLog interface {
	Record(ctx context.Context, e *eventmodels.Event) (*eventmodels.Event, error)
}

// Correlations claims agent correlation ids shared with the callback endpoint.
type Correlations interface {
	Claim(ctx context.Context, workflowID id.WorkflowID, correlationID id.CorrelationID) (bool, error)
	Release(ctx context.Context, correlationID id.CorrelationID) error
}

type Service struct {
	engine       Engine
	events       EventLog
	correlations Correlations
	logger       *slog.Logger
	tracer       trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCorrelations makes agent signals claim their correlation before they are
// recorded. Without it correlation ids are only checked against the pending wait.
func WithCorrelations(c Correlations) Option {
	return func(s *Service) {
		s.correlations = c
	}
}

func New(engine Engine, events EventLog, opts ...Option) *Service {
	s := &Service{
		engine: engine,
		events: events,
		logger: slog.Default(),
		tracer: otel.Tracer("onboarding/signal"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the canonical signal together with what the engine did with it.
type Result struct {
	Signal  models.Signal        `json:"signal"`
	Outcome models.SignalOutcome `json:"outcome"`
	Anomaly string               `json:"anomaly,omitempty"`
}

// Ingest normalizes a raw body addressed to a workflow and delivers it.
// Unrecognized bodies are rejected before anything is recorded.
func (s *Service) Ingest(ctx context.Context, workflowID id.WorkflowID, raw []byte, caller signalmodels.Caller) (*Result, error) {
	sig, err := Normalize(workflowID, raw, requestcontext.Now(ctx))
	if err != nil {
		s.logger.WarnContext(ctx, "unrecognized signal body",
			"workflow_id", workflowID.String(),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, err
	}
	res, err := s.deliver(ctx, *sig, caller)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Deliver authorizes and records an already normalized signal, then hands it
// to the stage engine.
func (s *Service) Deliver(ctx context.Context, sig models.Signal, caller signalmodels.Caller) (*models.SignalResult, error) {
	res, err := s.deliver(ctx, sig, caller)
	if err != nil {
		return nil, err
	}
	return &models.SignalResult{Outcome: res.Outcome, Anomaly: res.Anomaly}, nil
}

func (s *Service) deliver(ctx context.Context, sig models.Signal, caller signalmodels.Caller) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "signal.deliver", trace.WithAttributes(
		attribute.String("workflow.id", sig.WorkflowID.String()),
		attribute.String("signal.name", sig.Name),
		attribute.String("signal.origin", string(sig.Origin)),
	))
	defer span.End()

	if err := Authorize(sig, caller); err != nil {
		s.logger.WarnContext(ctx, "unauthorized signal",
			"workflow_id", sig.WorkflowID.String(),
			"signal_name", sig.Name,
			"origin", string(sig.Origin),
		)
		return nil, err
	}
	if sig.Origin == models.OriginHuman && caller.Authenticated() {
		sig.ActorID = caller.UserID.String()
	}
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = requestcontext.Now(ctx).UTC()
	}

	w, err := s.engine.GetWorkflow(ctx, sig.WorkflowID)
	if err != nil {
		return nil, err
	}
	if err := w.CanMutate(); err != nil {
		return nil, err
	}

	claimed := false
	if s.correlations != nil && sig.Origin == models.OriginAgent && !sig.CorrelationID.IsNil() && !sig.Claimed {
		first, err := s.correlations.Claim(ctx, sig.WorkflowID, sig.CorrelationID)
		if err != nil {
			return nil, err
		}
		if !first {
			s.logger.InfoContext(ctx, "duplicate agent signal ignored",
				"workflow_id", sig.WorkflowID.String(),
				"correlation_id", sig.CorrelationID.String(),
			)
			return &Result{Signal: sig, Outcome: models.SignalDuplicate}, nil
		}
		claimed = true
		sig.Claimed = true
	}

	actorType := eventmodels.ActorAgent
	if sig.Origin == models.OriginHuman {
		actorType = eventmodels.ActorUser
	}
	recorded, err := s.events.Record(ctx, &eventmodels.Event{
		WorkflowID: sig.WorkflowID,
		Type:       wfservice.SignalEventType(sig),
		Payload:    wfservice.SignalPayload(sig),
		ActorType:  actorType,
		ActorID:    sig.ActorID,
		Timestamp:  sig.ReceivedAt,
	})
	if err != nil {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to record signal")
		if claimed {
			s.release(ctx, sig, err)
		}
		return nil, err
	}
	sig.EventID = recorded.ID

	handled, err := s.engine.HandleSignal(ctx, sig.WorkflowID, sig)
	if err != nil {
		span.RecordError(err)
		if claimed {
			s.release(ctx, sig, err)
		}
		return nil, err
	}
	s.logger.InfoContext(ctx, "signal delivered",
		"workflow_id", sig.WorkflowID.String(),
		"signal_name", sig.Name,
		"origin", string(sig.Origin),
		"outcome", string(handled.Outcome),
		"event_id", recorded.ID.String(),
	)
	return &Result{Signal: sig, Outcome: handled.Outcome, Anomaly: handled.Anomaly}, nil
}

// release reopens a correlation when the failure may be retried by the sender.
func (s *Service) release(ctx context.Context, sig models.Signal, cause error) {
	if de, ok := dErrors.From(cause); ok {
		switch de.Code {
		case dErrors.CodeAlreadyTerminated, dErrors.CodeNotFound, dErrors.CodeValidation:
			return
		}
	}
	if err := s.correlations.Release(ctx, sig.CorrelationID); err != nil {
		s.logger.ErrorContext(ctx, "failed to release correlation",
			"workflow_id", sig.WorkflowID.String(),
			"correlation_id", sig.CorrelationID.String(),
			"error", err,
		)
	}
}

// Authorize checks the caller against the signal's origin. Trusted internal
// transports pass; human decisions need an operator session; agent decisions
// need a valid webhook signature.
func Authorize(sig models.Signal, caller signalmodels.Caller) error {
	if caller.Trusted {
		return nil
	}
	switch sig.Origin {
	case models.OriginHuman:
		if !caller.Authenticated() {
			return dErrors.New(dErrors.CodeUnauthorized, "human signals require an authenticated session")
		}
	case models.OriginAgent:
		if !caller.SignatureValid {
			return dErrors.New(dErrors.CodeUnauthorized, "agent signals require a valid webhook signature")
		}
	default:
		return dErrors.New(dErrors.CodeForbidden, "unknown signal origin")
	}
	return nil
}
