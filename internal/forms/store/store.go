// Package store persists form instances. Status updates are compare-and-swap
// on the previous status so two actors cannot both move the same form.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"onboarding/internal/forms/models"
	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	forms  map[id.FormID]*models.Instance
	byHash map[string]id.FormID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		forms:  make(map[id.FormID]*models.Instance),
		byHash: make(map[string]id.FormID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, f *models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[f.ID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byHash[f.TokenHash]; ok {
		return sentinel.ErrConflict
	}
	s.forms[f.ID] = f.Clone()
	s.byHash[f.TokenHash] = f.ID
	return nil
}

func (s *InMemoryStore) FindByTokenHash(_ context.Context, hash string) (*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	formID, ok := s.byHash[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.forms[formID].Clone(), nil
}

// UpdateIfStatus replaces the row only while its stored status is expected.
func (s *InMemoryStore) UpdateIfStatus(_ context.Context, f *models.Instance, expected models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.forms[f.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Status != expected {
		return sentinel.ErrConflict
	}
	s.forms[f.ID] = f.Clone()
	return nil
}

func (s *InMemoryStore) ListOpenByWorkflow(_ context.Context, workflowID id.WorkflowID) ([]*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Instance
	for _, f := range s.forms {
		if f.WorkflowID == workflowID && f.Status.IsOpen() {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListExpired(_ context.Context, now time.Time, limit int) ([]*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Instance
	for _, f := range s.forms {
		if f.CanExpire(now) {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
