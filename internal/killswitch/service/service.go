// Package service executes the kill switch: an absorbing termination followed
// by best-effort cleanup.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"onboarding/internal/alert"
	eventmodels "onboarding/internal/eventlog/models"
	formservice "onboarding/internal/forms/service"
	"onboarding/internal/killswitch/models"
	wfmodels "onboarding/internal/workflow/models"
	wfservice "onboarding/internal/workflow/service"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/requestcontext"
)

type Engine interface {
	GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*wfmodels.Workflow, error)
	Terminate(ctx context.Context, workflowID id.WorkflowID, reason string) (*wfservice.TerminateResult, error)
}

type Forms interface {
	RevokeAllForWorkflow(ctx context.Context, workflowID id.WorkflowID) (formservice.RevocationResult, error)
}

type EventLog interface {
	Record(ctx context.Context, e *eventmodels.Event) (*eventmodels.Event, error)
}

// Correlations releases an in-flight dispatch so a late callback is absorbed.
type Correlations interface {
	Cancel(ctx context.Context, correlationID id.CorrelationID) error
}

type Alerter interface {
	Send(ctx context.Context, a alert.Alert) bool
}

type Service struct {
	engine       Engine
	forms        Forms
	events       EventLog
	correlations Correlations
	alerter      Alerter
	logger       *slog.Logger

	revokeAttempts int
	revokeBackoff  time.Duration
}

const (
	defaultRevokeAttempts = 3
	defaultRevokeBackoff  = 100 * time.Millisecond

	// revocationIncomplete is reported when the open forms could not be listed,
	// so neither the revoked nor the failed count covers them.
	revocationIncomplete = "open forms could not be listed; revocation incomplete"
)

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithCorrelations(c Correlations) Option {
	return func(s *Service) {
		s.correlations = c
	}
}

func WithAlerter(a Alerter) Option {
	return func(s *Service) {
		s.alerter = a
	}
}

// WithRevocationRetry bounds how often a failed form listing is retried.
func WithRevocationRetry(attempts int, initial time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.revokeAttempts = attempts
		}
		if initial > 0 {
			s.revokeBackoff = initial
		}
	}
}

func New(engine Engine, forms Forms, events EventLog, opts ...Option) *Service {
	s := &Service{
		engine:         engine,
		forms:          forms,
		events:         events,
		logger:         slog.Default(),
		revokeAttempts: defaultRevokeAttempts,
		revokeBackoff:  defaultRevokeBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute terminates the workflow, then revokes its forms, records the
// execution and alerts operators. Only termination can fail the call.
func (s *Service) Execute(ctx context.Context, workflowID id.WorkflowID, applicantID id.ApplicantID, actor string, reason models.Reason, notes string) (*models.Result, error) {
	if !reason.IsValid() {
		return nil, dErrors.WithDetails(dErrors.CodeValidation, "unknown kill switch reason", map[string][]dErrors.FieldError{
			"reason": {{Field: "reason", Message: "must be one of the documented reasons"}},
		})
	}
	w, err := s.engine.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.ApplicantID != applicantID {
		return nil, dErrors.New(dErrors.CodeValidation, "applicantId does not match workflow")
	}

	terminated, err := s.engine.Terminate(ctx, workflowID, string(reason))
	if err != nil {
		return nil, err
	}
	result := &models.Result{TerminatedAt: terminated.TerminatedAt}

	// Cleanup must finish even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if wait := terminated.CancelledWait; wait != nil {
		result.AffectedResources.WaitCancelled = true
		if s.correlations != nil && !wait.CorrelationID.IsNil() {
			if err := s.correlations.Cancel(ctx, wait.CorrelationID); err != nil {
				s.logger.WarnContext(ctx, "failed to release correlation after kill",
					"workflow_id", workflowID.String(),
					"correlation_id", wait.CorrelationID.String(),
					"error", err,
				)
			}
		}
	}

	revoked, err := s.revokeForms(ctx, workflowID)
	if err != nil {
		s.logger.ErrorContext(ctx, "form revocation failed after kill",
			"workflow_id", workflowID.String(),
			"error", err,
		)
		result.AffectedResources.FormRevocationError = revocationIncomplete
	}
	result.AffectedResources.FormsRevoked = revoked.Revoked
	result.AffectedResources.FormRevocationFailures = revoked.Failures

	payload := map[string]any{
		"actor":                  actor,
		"reason":                 string(reason),
		"revokedCount":           revoked.Revoked,
		"formRevocationFailures": revoked.Failures,
		"waitCancelled":          result.AffectedResources.WaitCancelled,
	}
	if result.AffectedResources.FormRevocationError != "" {
		payload["formRevocationError"] = result.AffectedResources.FormRevocationError
	}
	if notes != "" {
		payload["notes"] = notes
	}
	_, err = s.events.Record(ctx, &eventmodels.Event{
		WorkflowID: workflowID,
		Type:       eventmodels.EventKillSwitchExecuted,
		Payload:    payload,
		ActorType:  eventmodels.ActorUser,
		ActorID:    actor,
		Timestamp:  terminated.TerminatedAt,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record kill switch execution",
			"workflow_id", workflowID.String(),
			"error", err,
		)
	}

	if s.alerter != nil {
		result.AffectedResources.AlertDelivered = s.alerter.Send(ctx, alert.Alert{
			Kind:        "kill_switch",
			WorkflowID:  workflowID,
			ApplicantID: applicantID,
			Actor:       actor,
			Reason:      string(reason),
			Notes:       notes,
			OccurredAt:  terminated.TerminatedAt,
		})
	}

	s.logger.WarnContext(ctx, "kill switch executed",
		"workflow_id", workflowID.String(),
		"request_id", requestcontext.RequestID(ctx),
		"actor", actor,
		"reason", string(reason),
		"forms_revoked", revoked.Revoked,
		"form_revocation_failures", revoked.Failures,
		"form_revocation_incomplete", result.AffectedResources.FormRevocationError != "",
		"alert_delivered", result.AffectedResources.AlertDelivered,
	)
	return result, nil
}

// revokeForms retries only when the whole call failed; per-form failures are
// already counted in the result.
func (s *Service) revokeForms(ctx context.Context, workflowID id.WorkflowID) (formservice.RevocationResult, error) {
	var res formservice.RevocationResult
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.revokeBackoff
	b.MaxInterval = 10 * s.revokeBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.revokeAttempts-1)), ctx)
	err := backoff.RetryNotify(func() error {
		var err error
		res, err = s.forms.RevokeAllForWorkflow(ctx, workflowID)
		return err
	}, policy, func(err error, wait time.Duration) {
		s.logger.WarnContext(ctx, "retrying form revocation",
			"workflow_id", workflowID.String(),
			"wait", wait,
			"error", err,
		)
	})
	return res, err
}
