package audit

import (
	"context"
	"sync"
)

// InMemoryStore keeps the trail in memory, newest last. Used by tests and
// single-process deployments.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByRecord(_ context.Context, recordID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]Event, limit)
	copy(out, s.events[len(s.events)-limit:])
	return out, nil
}

// InMemorySpool buffers undelivered events in process memory.
type InMemorySpool struct {
	mu     sync.Mutex
	events []Event
}

func NewInMemorySpool() *InMemorySpool {
	return &InMemorySpool{}
}

func (s *InMemorySpool) Push(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemorySpool) Pop(_ context.Context, max int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max <= 0 || max > len(s.events) {
		max = len(s.events)
	}
	out := make([]Event, max)
	copy(out, s.events[:max])
	s.events = s.events[max:]
	return out, nil
}

func (s *InMemorySpool) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events), nil
}
