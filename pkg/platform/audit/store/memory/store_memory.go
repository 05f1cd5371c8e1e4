package memory

import (
	"context"
	"sync"

	id "pawbase/pkg/domain"
	audit "pawbase/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.PetCode][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.PetCode][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.PetCode][]audit.Event)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.PetCode] = append(s.events[event.PetCode], event)
	return nil
}

func (s *InMemoryStore) ListByPet(_ context.Context, petCode id.PetCode) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[petCode]...), nil
}

// ListAll returns all custody events across all pets (admin-only operation)
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var allEvents []audit.Event
	for _, petEvents := range s.events {
		allEvents = append(allEvents, petEvents...)
	}

	return allEvents, nil
}
