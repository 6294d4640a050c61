// Package store persists the append-only workflow audit trail.
package store

import (
	"context"
	"sync"
	"time"

	"onboarding/internal/eventlog/models"
	id "onboarding/pkg/domain"
)

// DefaultListLimit caps unbounded history reads.
const DefaultListLimit = 500

// InMemoryStore keeps each workflow's events in insertion order.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.WorkflowID][]*models.Event
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.WorkflowID][]*models.Event)}
}

// Append assigns the next sequence and clamps the timestamp to the previous event.
func (s *InMemoryStore) Append(_ context.Context, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.events[e.WorkflowID]
	e.Sequence = 1
	if n := len(existing); n > 0 {
		last := existing[n-1]
		e.Sequence = last.Sequence + 1
		e.Timestamp = clamp(e.Timestamp, last.Timestamp)
	}
	s.events[e.WorkflowID] = append(existing, e.Clone())
	return nil
}

func (s *InMemoryStore) ListByWorkflow(_ context.Context, workflowID id.WorkflowID, afterSequence int64, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	var out []*models.Event
	for _, e := range s.events[workflowID] {
		if e.Sequence <= afterSequence {
			continue
		}
		out = append(out, e.Clone())
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func clamp(ts, floor time.Time) time.Time {
	if ts.Before(floor) {
		return floor
	}
	return ts
}
