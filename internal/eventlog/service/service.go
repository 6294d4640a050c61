// Package service records workflow audit events and fans them out to observers.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"onboarding/internal/eventlog/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/requestcontext"
)

// Store is the append-only persistence contract. There is no update or delete.
type Store interface {
	Append(ctx context.Context, e *models.Event) error
	ListByWorkflow(ctx context.Context, workflowID id.WorkflowID, afterSequence int64, limit int) ([]*models.Event, error)
}

// Observer derives side effects from recorded events.
type Observer interface {
	Observe(ctx context.Context, e *models.Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e *models.Event) error

func (f ObserverFunc) Observe(ctx context.Context, e *models.Event) error {
	return f(ctx, e)
}

type Service struct {
	store  Store
	logger *slog.Logger

	mu        sync.RWMutex
	observers []Observer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithObserver(o Observer) Option {
	return func(s *Service) {
		s.observers = append(s.observers, o)
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers an observer after construction.
func (s *Service) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Record appends an event. ID, sequence and timestamp are assigned here; the
// stored event is returned. Observer failures are logged and never undo the append.
func (s *Service) Record(ctx context.Context, e *models.Event) (*models.Event, error) {
	if err := validate(e); err != nil {
		return nil, err
	}
	rec := e.Clone()
	if rec.ID.IsNil() {
		rec.ID = id.EventID(uuid.New())
	}
	if rec.Payload == nil {
		rec.Payload = map[string]any{}
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = requestcontext.Now(ctx)
	}
	rec.Timestamp = rec.Timestamp.UTC()

	if err := s.store.Append(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record workflow event")
	}

	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()
	for _, o := range observers {
		if err := o.Observe(ctx, rec); err != nil {
			s.logger.ErrorContext(ctx, "event observer failed",
				"event_id", rec.ID.String(),
				"event_type", string(rec.Type),
				"workflow_id", rec.WorkflowID.String(),
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
	}
	return rec, nil
}

// List returns a workflow's events in insertion order after the given sequence.
func (s *Service) List(ctx context.Context, workflowID id.WorkflowID, afterSequence int64, limit int) ([]*models.Event, error) {
	if workflowID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "workflow id is required")
	}
	events, err := s.store.ListByWorkflow(ctx, workflowID, afterSequence, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list workflow events")
	}
	return events, nil
}

func validate(e *models.Event) error {
	if e == nil {
		return dErrors.New(dErrors.CodeValidation, "event is required")
	}
	if e.WorkflowID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "event workflow id is required")
	}
	if !e.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown event type %q", e.Type))
	}
	if !e.ActorType.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown actor type %q", e.ActorType))
	}
	return nil
}
