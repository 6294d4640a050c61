package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/sentinel"
)

func newWorkflow(t *testing.T) *models.Workflow {
	t.Helper()
	w, err := models.NewWorkflow(id.WorkflowID(uuid.New()), id.ApplicantID(uuid.New()), time.Now())
	require.NoError(t, err)
	return w
}

func TestInMemoryStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	w := newWorkflow(t)

	require.NoError(t, s.Create(ctx, w))
	assert.ErrorIs(t, s.Create(ctx, w), sentinel.ErrConflict)

	found, err := s.FindByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, found.ID)

	found.Stage = models.StageRiskReview
	again, err := s.FindByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageQuotation, again.Stage, "callers cannot mutate stored rows")

	_, err = s.FindByID(ctx, id.WorkflowID(uuid.New()))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	w := newWorkflow(t)
	require.NoError(t, s.Create(ctx, w))

	const writers = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			current, err := s.FindByID(ctx, w.ID)
			if err != nil {
				return
			}
			expected := current.Version
			current.ApplyAdvance(time.Now())
			if s.UpdateIfVersion(ctx, current, expected) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	final, err := s.FindByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1)+int64(wins.Load()), final.Version)
	assert.GreaterOrEqual(t, wins.Load(), int32(1))

	stale := final.Clone()
	stale.ApplyAdvance(time.Now())
	assert.ErrorIs(t, s.UpdateIfVersion(ctx, stale, final.Version-1), sentinel.ErrConflict)
}

func TestInMemoryStore_ListExpiredWaits(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	now := time.Now()

	late := newWorkflow(t)
	late.ApplyDispatch(models.CapabilityRiskScoring, "a", now.Add(-time.Minute), now.Add(-time.Hour))
	early := newWorkflow(t)
	early.ApplyDispatch(models.CapabilityRiskScoring, "b", now.Add(-time.Hour), now.Add(-2*time.Hour))
	future := newWorkflow(t)
	future.ApplyDispatch(models.CapabilityRiskScoring, "c", now.Add(time.Hour), now)
	idle := newWorkflow(t)

	for _, w := range []*models.Workflow{late, early, future, idle} {
		require.NoError(t, s.Create(ctx, w))
	}

	expired, err := s.ListExpiredWaits(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, early.ID, expired[0].ID)
	assert.Equal(t, late.ID, expired[1].ID)

	limited, err := s.ListExpiredWaits(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
