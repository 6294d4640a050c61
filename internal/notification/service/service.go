// Package service derives operator notifications from workflow events.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	eventmodels "onboarding/internal/eventlog/models"
	"onboarding/internal/notification/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/sentinel"
	"onboarding/pkg/requestcontext"
)

type Store interface {
	Save(ctx context.Context, n *models.Notification) error
	ListByWorkflow(ctx context.Context, workflowID id.WorkflowID) ([]*models.Notification, error)
	MarkRead(ctx context.Context, notificationID id.NotificationID) (*models.Notification, error)
}

// WorkflowChecker confirms a notification target exists.
type WorkflowChecker interface {
	Exists(ctx context.Context, workflowID id.WorkflowID) (bool, error)
}

type Service struct {
	store     Store
	workflows WorkflowChecker
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, workflows WorkflowChecker, opts ...Option) *Service {
	s := &Service{store: store, workflows: workflows, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notify creates a notification for an existing workflow. There is no deduplication.
func (s *Service) Notify(ctx context.Context, workflowID id.WorkflowID, kind models.Kind, message string, actionable bool) (*models.Notification, error) {
	return s.create(ctx, workflowID, nil, kind, message, actionable)
}

func (s *Service) create(ctx context.Context, workflowID id.WorkflowID, eventID *id.EventID, kind models.Kind, message string, actionable bool) (*models.Notification, error) {
	if workflowID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "workflow id is required")
	}
	exists, err := s.workflows.Exists(ctx, workflowID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check workflow")
	}
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "workflow not found")
	}

	n := &models.Notification{
		ID:         id.NewNotificationID(),
		WorkflowID: workflowID,
		EventID:    eventID,
		Kind:       kind,
		Message:    message,
		Actionable: actionable,
		CreatedAt:  requestcontext.Now(ctx),
	}
	if err := s.store.Save(ctx, n); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save notification")
	}

	s.logger.InfoContext(ctx, "notification created",
		"notification_id", n.ID.String(),
		"workflow_id", workflowID.String(),
		"type", string(kind),
		"actionable", actionable,
	)
	return n, nil
}

// Observe implements the event log observer contract.
func (s *Service) Observe(ctx context.Context, e *eventmodels.Event) error {
	kind, message, actionable, ok := Derive(e)
	if !ok {
		return nil
	}
	eventID := e.ID
	_, err := s.create(ctx, e.WorkflowID, &eventID, kind, message, actionable)
	return err
}

// Derive maps an event to the notification it produces, if any. Errors,
// timeouts, kill switch executions and applied rejections are actionable;
// completion is informational. Rejections come from the failed stage change,
// not from the signal event that carried them.
func Derive(e *eventmodels.Event) (kind models.Kind, message string, actionable bool, ok bool) {
	switch e.Type {
	case eventmodels.EventError:
		return models.KindDispatchError,
			fmt.Sprintf("Capability %s failed: %s", orUnknown(e.StringField("capability")), orUnknown(e.StringField("error"))),
			true, true
	case eventmodels.EventTimeout:
		return models.KindTimeout,
			fmt.Sprintf("Wait for %s timed out", orUnknown(e.StringField("signalName"))),
			true, true
	case eventmodels.EventKillSwitchExecuted:
		return models.KindKillSwitch,
			fmt.Sprintf("Workflow terminated (%s) by %s", orUnknown(e.StringField("reason")), orUnknown(e.StringField("actor"))),
			true, true
	case eventmodels.EventStageChange:
		switch e.StringField("status") {
		case "completed":
			return models.KindWorkflowCompleted, "Onboarding completed", false, true
		case "failed":
			if e.StringField("origin") == "agent" {
				return models.KindAgentRejection,
					fmt.Sprintf("Agent rejected the workflow: %s", orUnknown(e.StringField("reason"))),
					true, true
			}
			return models.KindHumanRejection,
				fmt.Sprintf("Operator rejected the workflow: %s", orUnknown(e.StringField("reason"))),
				true, true
		}
	}
	return "", "", false, false
}

func (s *Service) List(ctx context.Context, workflowID id.WorkflowID) ([]*models.Notification, error) {
	out, err := s.store.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list notifications")
	}
	return out, nil
}

func (s *Service) MarkRead(ctx context.Context, notificationID id.NotificationID) (*models.Notification, error) {
	n, err := s.store.MarkRead(ctx, notificationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "notification not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark notification read")
	}
	return n, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
