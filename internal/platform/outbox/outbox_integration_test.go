//go:build integration

package outbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	eventmodels "onboarding/internal/eventlog/models"
	eventstore "onboarding/internal/eventlog/store"
	"onboarding/internal/platform/outbox"
	wfmodels "onboarding/internal/workflow/models"
	wfstore "onboarding/internal/workflow/store"
	id "onboarding/pkg/domain"
	txcontext "onboarding/pkg/platform/tx"
	"onboarding/pkg/testutil/containers"
)

type capturePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (c *capturePublisher) Publish(_ context.Context, _ string, key, _ []byte, _ map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, string(key))
	return nil
}

type RelaySuite struct {
	suite.Suite
	pg *containers.PostgresContainer
}

func TestRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
}

func (s *RelaySuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "outbox", "workflow_events", "form_instances", "notifications", "workflows"))
}

func (s *RelaySuite) appendEvents(n int) id.WorkflowID {
	ctx := context.Background()
	now := time.Now().UTC()
	w, err := wfmodels.NewWorkflow(id.NewWorkflowID(), id.ApplicantID(uuid.New()), now)
	s.Require().NoError(err)
	s.Require().NoError(wfstore.NewPostgres(s.pg.DB).Create(ctx, w))
	events := eventstore.NewPostgres(s.pg.DB)
	for range n {
		s.Require().NoError(events.Append(ctx, &eventmodels.Event{
			ID:         id.NewEventID(),
			WorkflowID: w.ID,
			Type:       eventmodels.EventStageChange,
			Payload:    map[string]any{},
			ActorType:  eventmodels.ActorSystem,
			Timestamp:  now,
		}))
	}
	return w.ID
}

func (s *RelaySuite) TestRelayPublishesEachRowOnce() {
	ctx := context.Background()
	workflowID := s.appendEvents(3)
	pub := &capturePublisher{}
	relay := outbox.NewRelay(outbox.NewPostgres(s.pg.DB), pub, txcontext.NewSQLRunner(s.pg.DB), "workflow.events")

	n, err := relay.RelayOnce(ctx, time.Now())
	s.Require().NoError(err)
	s.Equal(3, n)

	n, err = relay.RelayOnce(ctx, time.Now())
	s.Require().NoError(err)
	s.Zero(n)

	s.Len(pub.keys, 3)
	for _, k := range pub.keys {
		s.Equal(workflowID.String(), k)
	}
}

func (s *RelaySuite) TestConcurrentRelaysDoNotDoublePublish() {
	ctx := context.Background()
	s.appendEvents(20)
	pub := &capturePublisher{}
	store := outbox.NewPostgres(s.pg.DB)
	runner := txcontext.NewSQLRunner(s.pg.DB)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay := outbox.NewRelay(store, pub, runner, "workflow.events", outbox.WithBatchSize(5))
			for {
				n, err := relay.RelayOnce(ctx, time.Now())
				if err != nil || n == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()
	s.Len(pub.keys, 20)
}
