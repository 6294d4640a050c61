//go:build integration

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"onboarding/pkg/platform/middleware/ratelimit"
	"onboarding/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ratelimit.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = ratelimit.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestFixedWindow() {
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	first, err := s.store.Allow(ctx, "ip:10.0.0.1", 2, time.Minute, start)
	s.Require().NoError(err)
	s.True(first.Allowed)
	s.Equal(1, first.Remaining)
	s.Equal(start.Add(time.Minute), first.ResetAt)

	second, err := s.store.Allow(ctx, "ip:10.0.0.1", 2, time.Minute, start.Add(10*time.Second))
	s.Require().NoError(err)
	s.True(second.Allowed)
	s.Equal(0, second.Remaining)

	third, err := s.store.Allow(ctx, "ip:10.0.0.1", 2, time.Minute, start.Add(20*time.Second))
	s.Require().NoError(err)
	s.False(third.Allowed)

	next, err := s.store.Allow(ctx, "ip:10.0.0.1", 2, time.Minute, start.Add(time.Minute))
	s.Require().NoError(err)
	s.True(next.Allowed)
}

func (s *RedisStoreSuite) TestKeysAreIndependent() {
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	a, err := s.store.Allow(ctx, "ip:10.0.0.1", 1, time.Minute, at)
	s.Require().NoError(err)
	b, err := s.store.Allow(ctx, "ip:10.0.0.2", 1, time.Minute, at)
	s.Require().NoError(err)
	s.True(a.Allowed)
	s.True(b.Allowed)
}
