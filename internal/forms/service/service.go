// Package service issues applicant forms and drives their lifecycle.
package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	eventmodels "onboarding/internal/eventlog/models"
	"onboarding/internal/forms/models"
	wfmodels "onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/sentinel"
	txcontext "onboarding/pkg/platform/tx"
	"onboarding/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, f *models.Instance) error
	FindByTokenHash(ctx context.Context, hash string) (*models.Instance, error)
	UpdateIfStatus(ctx context.Context, f *models.Instance, expected models.Status) error
	ListOpenByWorkflow(ctx context.Context, workflowID id.WorkflowID) ([]*models.Instance, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Instance, error)
}

// Workflows is the stage engine surface forms report into.
type Workflows interface {
	GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*wfmodels.Workflow, error)
	CompleteBranch(ctx context.Context, workflowID id.WorkflowID, branch wfmodels.Branch, expectedVersion int64) (*wfmodels.Workflow, error)
	SetMetadata(ctx context.Context, workflowID id.WorkflowID, expectedVersion int64, meta wfmodels.StageMetadata) (*wfmodels.Workflow, error)
}

type EventLog interface {
	Record(ctx context.Context, e *eventmodels.Event) (*eventmodels.Event, error)
}

const (
	defaultTTL        = 72 * time.Hour
	maxTTL            = 30 * 24 * time.Hour
	tokenBytes        = 32
	defaultSweepLimit = 100
	workflowAttempts  = 2
)

type Service struct {
	store     Store
	workflows Workflows
	events    EventLog
	tx        txcontext.Runner
	logger    *slog.Logger
	ttl       time.Duration
	maxTTL    time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTx(runner txcontext.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

// WithTTL sets the default lifetime of a form and the longest lifetime a
// caller may request. Non-positive values keep the defaults.
func WithTTL(def, limit time.Duration) Option {
	return func(s *Service) {
		if def > 0 {
			s.ttl = def
		}
		if limit > 0 {
			s.maxTTL = limit
		}
	}
}

func New(store Store, workflows Workflows, events EventLog, opts ...Option) *Service {
	s := &Service{
		store:     store,
		workflows: workflows,
		events:    events,
		tx:        txcontext.NoopRunner{},
		logger:    slog.Default(),
		ttl:       defaultTTL,
		maxTTL:    maxTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl > s.maxTTL {
		s.ttl = s.maxTTL
	}
	return s
}

// IssueResult carries the raw token. It is returned exactly once.
type IssueResult struct {
	Form  *models.Instance `json:"form"`
	Token string           `json:"token"`
}

// Issue creates a form for the workflow and returns its one-time raw token.
func (s *Service) Issue(ctx context.Context, workflowID id.WorkflowID, kind models.Kind, ttl time.Duration) (*IssueResult, error) {
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown form kind %q", kind))
	}
	if ttl == 0 {
		ttl = s.ttl
	}
	if ttl < 0 || ttl > s.maxTTL {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("ttl must be positive and at most %s", s.maxTTL))
	}
	w, err := s.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := w.CanMutate(); err != nil {
		return nil, err
	}

	token, err := newToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate form token")
	}
	now := requestcontext.Now(ctx).UTC()
	form := &models.Instance{
		ID:         id.NewFormID(),
		WorkflowID: workflowID,
		Kind:       kind,
		TokenHash:  models.HashToken(token),
		Status:     models.StatusSent,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, form); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "form already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save form")
		}
		_, err := s.events.Record(ctx, &eventmodels.Event{
			WorkflowID: workflowID,
			Type:       eventmodels.EventFormIssued,
			Payload: map[string]any{
				"formId":    form.ID.String(),
				"kind":      string(kind),
				"expiresAt": form.ExpiresAt,
			},
			ActorType: eventmodels.ActorSystem,
			ActorID:   "forms",
			Timestamp: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "form issued",
		"workflow_id", workflowID.String(),
		"form_id", form.ID.String(),
		"kind", string(kind),
		"expires_at", form.ExpiresAt,
	)
	return &IssueResult{Form: form, Token: token}, nil
}

// View resolves a token and marks the form viewed on first access.
func (s *Service) View(ctx context.Context, token string) (*models.Instance, error) {
	form, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()
	if err := form.CanView(now); err != nil {
		s.expireIfDue(ctx, form, now)
		return nil, err
	}
	if form.Status == models.StatusViewed {
		return form, nil
	}
	prev := form.Status
	form.ApplyView(now)
	if err := s.store.UpdateIfStatus(ctx, form, prev); err != nil {
		return nil, s.translate(err)
	}
	return form, nil
}

// Submit completes a form and reports it to the workflow: mandate documents
// complete their branch, a facility application is attached as stage metadata.
func (s *Service) Submit(ctx context.Context, token string) (*models.Instance, error) {
	form, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()
	if err := form.CanSubmit(now); err != nil {
		s.expireIfDue(ctx, form, now)
		return nil, err
	}
	w, err := s.workflows.GetWorkflow(ctx, form.WorkflowID)
	if err != nil {
		return nil, err
	}
	if err := w.CanMutate(); err != nil {
		return nil, err
	}

	prev := form.Status
	form.ApplySubmit(now)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateIfStatus(ctx, form, prev); err != nil {
			return s.translate(err)
		}
		_, err := s.events.Record(ctx, &eventmodels.Event{
			WorkflowID: form.WorkflowID,
			Type:       eventmodels.EventFormSubmitted,
			Payload: map[string]any{
				"formId": form.ID.String(),
				"kind":   string(form.Kind),
			},
			ActorType: eventmodels.ActorApplicant,
			ActorID:   w.ApplicantID.String(),
			Timestamp: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.report(ctx, form); err != nil {
		s.logger.WarnContext(ctx, "form submission not applied to workflow",
			"workflow_id", form.WorkflowID.String(),
			"form_id", form.ID.String(),
			"kind", string(form.Kind),
			"error", err,
		)
	}
	return form, nil
}

func (s *Service) report(ctx context.Context, form *models.Instance) error {
	var apply func() error
	switch form.Kind {
	case models.KindMandateDocuments:
		apply = func() error {
			_, err := s.workflows.CompleteBranch(ctx, form.WorkflowID, wfmodels.BranchDocuments, 0)
			return err
		}
	case models.KindFacilityApplication:
		apply = func() error {
			_, err := s.workflows.SetMetadata(ctx, form.WorkflowID, 0, wfmodels.FacilityApplicationMeta{FormID: form.ID.String()})
			return err
		}
	default:
		return nil
	}
	var err error
	for range workflowAttempts {
		if err = apply(); !dErrors.HasCode(err, dErrors.CodeStaleStage) {
			return err
		}
	}
	return err
}

// ExpireStale marks every open form past its deadline as expired.
func (s *Service) ExpireStale(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	forms, err := s.store.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expired forms")
	}
	expired := 0
	for _, f := range forms {
		prev := f.Status
		f.ApplyExpire(now)
		err := s.store.UpdateIfStatus(ctx, f, prev)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, sentinel.ErrConflict):
		default:
			s.logger.ErrorContext(ctx, "failed to expire form", "form_id", f.ID.String(), "error", err)
		}
	}
	if expired > 0 {
		s.logger.InfoContext(ctx, "expired stale forms", "count", expired)
	}
	return expired, nil
}

// RevocationResult counts what RevokeAllForWorkflow did.
type RevocationResult struct {
	Revoked  int `json:"revoked"`
	Failures int `json:"failures"`
}

// RevokeAllForWorkflow revokes every open form. It keeps going past
// individual failures and reports them in the count.
func (s *Service) RevokeAllForWorkflow(ctx context.Context, workflowID id.WorkflowID) (RevocationResult, error) {
	var res RevocationResult
	forms, err := s.store.ListOpenByWorkflow(ctx, workflowID)
	if err != nil {
		return res, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list open forms")
	}
	now := requestcontext.Now(ctx).UTC()
	for _, f := range forms {
		if f.CanRevoke() != nil {
			continue
		}
		prev := f.Status
		f.ApplyRevoke(now)
		if err := s.store.UpdateIfStatus(ctx, f, prev); err != nil {
			res.Failures++
			s.logger.ErrorContext(ctx, "failed to revoke form",
				"workflow_id", workflowID.String(),
				"form_id", f.ID.String(),
				"error", err,
			)
			continue
		}
		res.Revoked++
	}
	return res, nil
}

func (s *Service) lookup(ctx context.Context, token string) (*models.Instance, error) {
	if token == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "form token is required")
	}
	form, err := s.store.FindByTokenHash(ctx, models.HashToken(token))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "form not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load form")
	}
	return form, nil
}

func (s *Service) expireIfDue(ctx context.Context, form *models.Instance, now time.Time) {
	if !form.CanExpire(now) {
		return
	}
	prev := form.Status
	form.ApplyExpire(now)
	if err := s.store.UpdateIfStatus(ctx, form, prev); err != nil && !errors.Is(err, sentinel.ErrConflict) {
		s.logger.WarnContext(ctx, "failed to expire form", "form_id", form.ID.String(), "error", err)
	}
}

func (s *Service) translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "form was modified concurrently")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "form not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update form")
	}
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
