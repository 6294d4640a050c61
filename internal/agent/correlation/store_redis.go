package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/sentinel"
)

const (
	keyPrefix = "onboarding:correlation:"

	fieldWorkflowID   = "workflow_id"
	fieldCapability   = "capability"
	fieldDispatchedAt = "dispatched_at"
	fieldResolvedAt   = "resolved_at"

	defaultTTL = 14 * 24 * time.Hour
)

// RedisStore shares correlation state between coordinator instances. The
// resolved marker is claimed with HSETNX, so exactly one instance wins.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisOption func(*RedisStore)

// WithTTL bounds how long a correlation is remembered after dispatch.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, ttl: defaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(correlationID id.CorrelationID) string {
	return keyPrefix + correlationID.String()
}

func (s *RedisStore) Register(ctx context.Context, rec Record) error {
	k := key(rec.CorrelationID)
	created, err := s.client.HSetNX(ctx, k, fieldWorkflowID, rec.WorkflowID.String()).Result()
	if err != nil {
		return fmt.Errorf("register correlation: %w", err)
	}
	if !created {
		return sentinel.ErrConflict
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k,
		fieldCapability, string(rec.Capability),
		fieldDispatchedAt, rec.DispatchedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register correlation: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, correlationID id.CorrelationID) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, key(correlationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get correlation: %w", err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}
	workflowID, err := id.ParseWorkflowID(fields[fieldWorkflowID])
	if err != nil {
		return nil, fmt.Errorf("corrupt correlation %s: %w", correlationID, err)
	}
	rec := &Record{
		CorrelationID: correlationID,
		WorkflowID:    workflowID,
		Capability:    models.Capability(fields[fieldCapability]),
	}
	if v := fields[fieldDispatchedAt]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.DispatchedAt = t
		}
	}
	if v := fields[fieldResolvedAt]; v != "" {
		rec.Resolved = true
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.ResolvedAt = &t
		}
	}
	return rec, nil
}

func (s *RedisStore) MarkResolved(ctx context.Context, correlationID id.CorrelationID, at time.Time) (bool, error) {
	k := key(correlationID)
	exists, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("resolve correlation: %w", err)
	}
	if exists == 0 {
		return false, sentinel.ErrNotFound
	}
	first, err := s.client.HSetNX(ctx, k, fieldResolvedAt, at.UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		return false, fmt.Errorf("resolve correlation: %w", err)
	}
	return first, nil
}

func (s *RedisStore) Release(ctx context.Context, correlationID id.CorrelationID) error {
	removed, err := s.client.HDel(ctx, key(correlationID), fieldResolvedAt).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release correlation: %w", err)
	}
	if removed == 0 {
		exists, err := s.client.Exists(ctx, key(correlationID)).Result()
		if err != nil {
			return fmt.Errorf("release correlation: %w", err)
		}
		if exists == 0 {
			return sentinel.ErrNotFound
		}
	}
	return nil
}
