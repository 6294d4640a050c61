//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"onboarding/internal/notification/models"
	"onboarding/internal/notification/store"
	wfmodels "onboarding/internal/workflow/models"
	wfstore "onboarding/internal/workflow/store"
	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/sentinel"
	"onboarding/pkg/testutil/containers"
)

type PostgresNotificationStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore
}

func TestPostgresNotificationStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresNotificationStoreSuite))
}

func (s *PostgresNotificationStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.pg.DB)
}

func (s *PostgresNotificationStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "outbox", "workflow_events", "form_instances", "notifications", "workflows"))
}

func (s *PostgresNotificationStoreSuite) TestSaveListMarkRead() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	w, err := wfmodels.NewWorkflow(id.NewWorkflowID(), id.ApplicantID(uuid.New()), now)
	s.Require().NoError(err)
	s.Require().NoError(wfstore.NewPostgres(s.pg.DB).Create(ctx, w))

	n := &models.Notification{
		ID:         id.NewNotificationID(),
		WorkflowID: w.ID,
		Kind:       models.KindTimeout,
		Message:    "Wait for risk_decision timed out",
		Actionable: true,
		CreatedAt:  now,
	}
	s.Require().NoError(s.store.Save(ctx, n))

	listed, err := s.store.ListByWorkflow(ctx, w.ID)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.False(listed[0].Read)
	s.Nil(listed[0].EventID)

	read, err := s.store.MarkRead(ctx, n.ID)
	s.Require().NoError(err)
	s.True(read.Read)

	_, err = s.store.MarkRead(ctx, id.NewNotificationID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
