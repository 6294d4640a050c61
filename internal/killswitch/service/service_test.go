package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"onboarding/internal/alert"
	eventmodels "onboarding/internal/eventlog/models"
	eventservice "onboarding/internal/eventlog/service"
	eventstore "onboarding/internal/eventlog/store"
	formmodels "onboarding/internal/forms/models"
	formservice "onboarding/internal/forms/service"
	formstore "onboarding/internal/forms/store"
	"onboarding/internal/killswitch/models"
	notificationmodels "onboarding/internal/notification/models"
	notificationservice "onboarding/internal/notification/service"
	notificationstore "onboarding/internal/notification/store"
	wfmodels "onboarding/internal/workflow/models"
	wfservice "onboarding/internal/workflow/service"
	wfstore "onboarding/internal/workflow/store"
	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/requestcontext"
)

type recordingAlerter struct {
	delivered bool
	sent      []alert.Alert
}

func (a *recordingAlerter) Send(_ context.Context, al alert.Alert) bool {
	a.sent = append(a.sent, al)
	return a.delivered
}

type recordingCorrelations struct {
	cancelled []id.CorrelationID
}

func (c *recordingCorrelations) Cancel(_ context.Context, correlationID id.CorrelationID) error {
	c.cancelled = append(c.cancelled, correlationID)
	return nil
}

// flakyFormStore fails revocation of one form and the first listFailures
// listings of open forms.
type flakyFormStore struct {
	*formstore.InMemoryStore
	failID       id.FormID
	listFailures int
	listCalls    int
}

func (f *flakyFormStore) ListOpenByWorkflow(ctx context.Context, workflowID id.WorkflowID) ([]*formmodels.Instance, error) {
	f.listCalls++
	if f.listCalls <= f.listFailures {
		return nil, errors.New("store unavailable")
	}
	return f.InMemoryStore.ListOpenByWorkflow(ctx, workflowID)
}

func (f *flakyFormStore) UpdateIfStatus(ctx context.Context, form *formmodels.Instance, expected formmodels.Status) error {
	if form.ID == f.failID {
		return errors.New("write failed")
	}
	return f.InMemoryStore.UpdateIfStatus(ctx, form, expected)
}

type KillSwitchSuite struct {
	suite.Suite
	engine        *wfservice.Service
	events        *eventservice.Service
	notifications *notificationservice.Service
	formStore     *flakyFormStore
	forms         *formservice.Service
	alerter       *recordingAlerter
	correlations  *recordingCorrelations
	svc           *Service
	now           time.Time
	ctx           context.Context
}

func TestKillSwitchSuite(t *testing.T) {
	suite.Run(t, new(KillSwitchSuite))
}

func (s *KillSwitchSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	workflows := wfstore.NewInMemory()
	s.notifications = notificationservice.New(notificationstore.NewInMemory(), workflows,
		notificationservice.WithLogger(logger))
	s.events = eventservice.New(eventstore.NewInMemory(),
		eventservice.WithLogger(logger),
		eventservice.WithObserver(s.notifications))
	engine, err := wfservice.New(workflows, s.events, wfservice.WithLogger(logger))
	s.Require().NoError(err)
	s.engine = engine
	s.formStore = &flakyFormStore{InMemoryStore: formstore.NewInMemory()}
	s.forms = formservice.New(s.formStore, engine, s.events, formservice.WithLogger(logger))
	s.alerter = &recordingAlerter{delivered: true}
	s.correlations = &recordingCorrelations{}
	s.svc = New(engine, s.forms, s.events,
		WithLogger(logger),
		WithAlerter(s.alerter),
		WithCorrelations(s.correlations),
		WithRevocationRetry(3, time.Millisecond))

	s.now = time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *KillSwitchSuite) started() *wfmodels.Workflow {
	w, err := s.engine.StartWorkflow(s.ctx, id.ApplicantID(uuid.New()))
	s.Require().NoError(err)
	return w
}

func (s *KillSwitchSuite) issue(w *wfmodels.Workflow, n int) []*formmodels.Instance {
	var out []*formmodels.Instance
	for range n {
		res, err := s.forms.Issue(s.ctx, w.ID, formmodels.KindFacilityApplication, time.Hour)
		s.Require().NoError(err)
		out = append(out, res.Form)
	}
	return out
}

func (s *KillSwitchSuite) killEvents(workflowID id.WorkflowID) []*eventmodels.Event {
	events, err := s.events.List(s.ctx, workflowID, 0, 0)
	s.Require().NoError(err)
	var out []*eventmodels.Event
	for _, e := range events {
		if e.Type == eventmodels.EventKillSwitchExecuted {
			out = append(out, e)
		}
	}
	return out
}

func (s *KillSwitchSuite) TestTerminatesAndRevokesForms() {
	w := s.started()
	s.issue(w, 3)

	res, err := s.svc.Execute(s.ctx, w.ID, w.ApplicantID, "ops-1", models.ReasonFraudSuspected, "flagged by analyst")
	s.Require().NoError(err)
	s.Equal(s.now, res.TerminatedAt)
	s.Equal(3, res.AffectedResources.FormsRevoked)
	s.Zero(res.AffectedResources.FormRevocationFailures)
	s.True(res.AffectedResources.AlertDelivered)
	s.False(res.AffectedResources.WaitCancelled)

	got, err := s.engine.GetWorkflow(s.ctx, w.ID)
	s.Require().NoError(err)
	s.Equal(wfmodels.StatusTerminated, got.Status)

	events := s.killEvents(w.ID)
	s.Require().Len(events, 1)
	s.Equal("ops-1", events[0].StringField("actor"))
	s.Equal("fraud_suspected", events[0].StringField("reason"))
	s.Equal("flagged by analyst", events[0].StringField("notes"))
	s.EqualValues(3, events[0].Payload["revokedCount"])

	notes, err := s.notifications.List(s.ctx, w.ID)
	s.Require().NoError(err)
	var kills int
	for _, n := range notes {
		if n.Kind == notificationmodels.KindKillSwitch {
			kills++
			s.True(n.Actionable)
		}
	}
	s.Equal(1, kills)

	s.Require().Len(s.alerter.sent, 1)
	s.Equal(w.ApplicantID, s.alerter.sent[0].ApplicantID)
}

func (s *KillSwitchSuite) TestCancelsPendingWait() {
	w := s.started()
	w, err := s.engine.AdvanceStage(s.ctx, w.ID, w.Version)
	s.Require().NoError(err)
	_, err = s.engine.AwaitSignal(s.ctx, w.ID, wfmodels.SignalManualReview, s.now.Add(time.Hour))
	s.Require().NoError(err)

	res, err := s.svc.Execute(s.ctx, w.ID, w.ApplicantID, "ops-1", models.ReasonOperatorError, "")
	s.Require().NoError(err)
	s.True(res.AffectedResources.WaitCancelled)
	s.Empty(s.correlations.cancelled, "human waits hold no correlation")

	got, err := s.engine.GetWorkflow(s.ctx, w.ID)
	s.Require().NoError(err)
	s.Nil(got.PendingWait)
}

func (s *KillSwitchSuite) TestPartialRevocationReportsExactFailures() {
	w := s.started()
	forms := s.issue(w, 3)
	s.formStore.failID = forms[1].ID

	res, err := s.svc.Execute(s.ctx, w.ID, w.ApplicantID, "ops-1", models.ReasonComplianceBreach, "")
	s.Require().NoError(err)
	s.Equal(2, res.AffectedResources.FormsRevoked)
	s.Equal(1, res.AffectedResources.FormRevocationFailures)

	got, err := s.engine.GetWorkflow(s.ctx, w.ID)
	s.Require().NoError(err)
	s.Equal(wfmodels.StatusTerminated, got.Status)
}

func (s *KillSwitchSuite) TestUnlistableFormsAreReportedAsIncomplete() {
	w := s.started()
	s.issue(w, 3)
	s.formStore.listFailures = 100

	res, err := s.svc.Execute(s.ctx, w.ID, w.ApplicantID, "ops-1", models.ReasonFraudSuspected, "")
	s.Require().NoError(err)
	s.Zero(res.AffectedResources.FormsRevoked)
	s.Zero(res.AffectedResources.FormRevocationFailures)
	s.NotEmpty(res.AffectedResources.FormRevocationError)
	s.Equal(3, s.formStore.listCalls)

	events := s.killEvents(w.ID)
	s.Require().Len(events, 1)
	s.Equal(res.AffectedResources.FormRevocationError, events[0].StringField("formRevocationError"))

	got, err := s.engine.GetWorkflow(s.ctx, w.ID)
	s.Require().NoError(err)
	s.Equal(wfmodels.StatusTerminated, got.Status)
}

func (s *KillSwitchSuite) TestTransientListingFailureIsRetried() {
	w := s.started()
	s.issue(w, 3)
	s.formStore.listFailures = 1

	res, err := s.svc.Execute(s.ctx, w.ID, w.ApplicantID, "ops-1", models.ReasonFraudSuspected, "")
	s.Require().NoError(err)
	s.Equal(3, res.AffectedResources.FormsRevoked)
	s.Empty(res.AffectedResources.FormRevocationError)
	s.Equal(2, s.formStore.listCalls)

	events := s.killEvents(w.ID)
	s.Require().Len(events, 1)
	_, present := events[0].Payload["formRevocationError"]
	s.False(present)
}

func (s *KillSwitchSuite) TestAlertFailureDoesNotRollBack() {
	s.alerter.delivered = false
	w := s.started()

	res, err := s.svc.Execute(s.ctx, w.ID, w.ApplicantID, "ops-1", models.ReasonOther, "")
	s.Require().NoError(err)
	s.False(res.AffectedResources.AlertDelivered)

	got, err := s.engine.GetWorkflow(s.ctx, w.ID)
	s.Require().NoError(err)
	s.Equal(wfmodels.StatusTerminated, got.Status)
}

func (s *KillSwitchSuite) TestSecondKillIsRejectedWithoutSideEffects() {
	w := s.started()
	_, err := s.svc.Execute(s.ctx, w.ID, w.ApplicantID, "ops-1", models.ReasonFraudSuspected, "")
	s.Require().NoError(err)

	_, err = s.svc.Execute(s.ctx, w.ID, w.ApplicantID, "ops-2", models.ReasonFraudSuspected, "")
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyTerminated))
	s.Len(s.killEvents(w.ID), 1)
	s.Len(s.alerter.sent, 1)
}

func (s *KillSwitchSuite) TestRejectsBadInput() {
	w := s.started()

	_, err := s.svc.Execute(s.ctx, w.ID, w.ApplicantID, "ops-1", models.Reason("bored"), "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.svc.Execute(s.ctx, w.ID, id.ApplicantID(uuid.New()), "ops-1", models.ReasonOther, "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.svc.Execute(s.ctx, id.NewWorkflowID(), w.ApplicantID, "ops-1", models.ReasonOther, "")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	got, err := s.engine.GetWorkflow(s.ctx, w.ID)
	s.Require().NoError(err)
	s.NotEqual(wfmodels.StatusTerminated, got.Status)
}
