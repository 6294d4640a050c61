package store

import (
	"context"
	"sync"

	"onboarding/internal/notification/models"
	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[id.NotificationID]*models.Notification
	byFlow map[id.WorkflowID][]id.NotificationID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[id.NotificationID]*models.Notification),
		byFlow: make(map[id.WorkflowID][]id.NotificationID),
	}
}

func (s *InMemoryStore) Save(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *n
	s.byID[n.ID] = &c
	s.byFlow[n.WorkflowID] = append(s.byFlow[n.WorkflowID], n.ID)
	return nil
}

func (s *InMemoryStore) ListByWorkflow(_ context.Context, workflowID id.WorkflowID) ([]*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byFlow[workflowID]
	out := make([]*models.Notification, 0, len(ids))
	for _, nid := range ids {
		c := *s.byID[nid]
		out = append(out, &c)
	}
	return out, nil
}

func (s *InMemoryStore) MarkRead(_ context.Context, notificationID id.NotificationID) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[notificationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	n.Read = true
	c := *n
	return &c, nil
}
