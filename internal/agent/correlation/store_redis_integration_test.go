//go:build integration

package correlation_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"onboarding/internal/agent/correlation"
	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/sentinel"
	"onboarding/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *correlation.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = correlation.NewRedis(s.redis.Client, correlation.WithTTL(time.Hour))
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) record() correlation.Record {
	return correlation.Record{
		CorrelationID: id.NewCorrelationID(),
		WorkflowID:    id.NewWorkflowID(),
		Capability:    models.CapabilityProcurementScreening,
		DispatchedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	rec := s.record()
	s.Require().NoError(s.store.Register(ctx, rec))
	s.ErrorIs(s.store.Register(ctx, rec), sentinel.ErrConflict)

	got, err := s.store.Get(ctx, rec.CorrelationID)
	s.Require().NoError(err)
	s.Equal(rec.WorkflowID, got.WorkflowID)
	s.Equal(rec.Capability, got.Capability)
	s.True(rec.DispatchedAt.Equal(got.DispatchedAt))
	s.False(got.Resolved)

	ttl, err := s.redis.Client.TTL(ctx, "onboarding:correlation:"+rec.CorrelationID.String()).Result()
	s.Require().NoError(err)
	s.Positive(ttl)
}

func (s *RedisStoreSuite) TestResolveOnceAcrossClients() {
	ctx := context.Background()
	rec := s.record()
	s.Require().NoError(s.store.Register(ctx, rec))

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			first, err := s.store.MarkResolved(ctx, rec.CorrelationID, time.Now())
			s.NoError(err)
			if first {
				winners.Add(1)
			}
		})
	}
	wg.Wait()
	s.Equal(int32(1), winners.Load())

	got, err := s.store.Get(ctx, rec.CorrelationID)
	s.Require().NoError(err)
	s.True(got.Resolved)
	s.NotNil(got.ResolvedAt)

	s.Require().NoError(s.store.Release(ctx, rec.CorrelationID))
	first, err := s.store.MarkResolved(ctx, rec.CorrelationID, time.Now())
	s.Require().NoError(err)
	s.True(first)
}

func (s *RedisStoreSuite) TestUnknown() {
	ctx := context.Background()
	_, err := s.store.Get(ctx, "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.MarkResolved(ctx, "nope", time.Now())
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Release(ctx, "nope"), sentinel.ErrNotFound)
}
