//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"onboarding/internal/workflow/models"
	"onboarding/internal/workflow/store"
	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/sentinel"
	"onboarding/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore
	now   time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.pg.DB)
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "outbox", "workflow_events", "form_instances", "notifications", "workflows"))
}

func (s *PostgresStoreSuite) created() *models.Workflow {
	w, err := models.NewWorkflow(id.NewWorkflowID(), id.ApplicantID(uuid.New()), s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(context.Background(), w))
	return w
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	w := s.created()
	s.ErrorIs(s.store.Create(ctx, w), sentinel.ErrConflict)

	got, err := s.store.FindByID(ctx, w.ID)
	s.Require().NoError(err)
	s.Equal(w.ApplicantID, got.ApplicantID)
	s.Equal(models.StageQuotation, got.Stage)
	s.Equal(models.StatusPending, got.Status)
	s.EqualValues(1, got.Version)

	_, err = s.store.FindByID(ctx, id.NewWorkflowID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateIfVersion() {
	ctx := context.Background()
	w := s.created()

	w.Stage = models.StageQuoteSigning
	w.Status = models.StatusInProgress
	w.Version = 2
	s.Require().NoError(s.store.UpdateIfVersion(ctx, w, 1))

	stale := w.Clone()
	stale.Version = 3
	s.ErrorIs(s.store.UpdateIfVersion(ctx, stale, 1), sentinel.ErrConflict)

	missing := w.Clone()
	missing.ID = id.NewWorkflowID()
	s.ErrorIs(s.store.UpdateIfVersion(ctx, missing, 2), sentinel.ErrNotFound)

	got, err := s.store.FindByID(ctx, w.ID)
	s.Require().NoError(err)
	s.Equal(models.StageQuoteSigning, got.Stage)
	s.EqualValues(2, got.Version)
}

func (s *PostgresStoreSuite) TestPendingWaitRoundTripAndExpiry() {
	ctx := context.Background()
	w := s.created()
	w.Status = models.StatusAwaitingHuman
	w.PendingWait = &models.PendingWait{
		SignalName: models.SignalQuoteApproval,
		Kind:       models.WaitKindHuman,
		Deadline:   s.now.Add(time.Minute),
	}
	w.Version = 2
	s.Require().NoError(s.store.UpdateIfVersion(ctx, w, 1))

	got, err := s.store.FindByID(ctx, w.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.PendingWait)
	s.Equal(models.SignalQuoteApproval, got.PendingWait.SignalName)
	s.True(got.PendingWait.Deadline.Equal(s.now.Add(time.Minute)))

	expired, err := s.store.ListExpiredWaits(ctx, s.now, 10)
	s.Require().NoError(err)
	s.Empty(expired)

	expired, err = s.store.ListExpiredWaits(ctx, s.now.Add(2*time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal(w.ID, expired[0].ID)
}
