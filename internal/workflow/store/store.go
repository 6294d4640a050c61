// Package store persists workflow rows behind compare-and-swap updates.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/sentinel"
)

// InMemoryStore guards every row with a version compare under one mutex.
type InMemoryStore struct {
	mu        sync.RWMutex
	workflows map[id.WorkflowID]*models.Workflow
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{workflows: make(map[id.WorkflowID]*models.Workflow)}
}

func (s *InMemoryStore) Create(_ context.Context, w *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[w.ID]; ok {
		return sentinel.ErrConflict
	}
	s.workflows[w.ID] = w.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, workflowID id.WorkflowID) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[workflowID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return w.Clone(), nil
}

func (s *InMemoryStore) Exists(_ context.Context, workflowID id.WorkflowID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.workflows[workflowID]
	return ok, nil
}

// UpdateIfVersion replaces the row only if its stored version equals expectedVersion.
func (s *InMemoryStore) UpdateIfVersion(_ context.Context, w *models.Workflow, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.workflows[w.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	s.workflows[w.ID] = w.Clone()
	return nil
}

// ListExpiredWaits returns active workflows whose pending wait deadline is at or before now,
// earliest deadline first.
func (s *InMemoryStore) ListExpiredWaits(_ context.Context, now time.Time, limit int) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Workflow
	for _, w := range s.workflows {
		if w.CanTimeout(now) {
			out = append(out, w.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PendingWait.Deadline.Before(out[j].PendingWait.Deadline)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
