package memory

import (
	"context"
	"sync"

	"powerguard-service/internal/models"
	"powerguard-service/internal/repository"
)

type EventStore struct {
	mu     sync.RWMutex
	events map[string]*models.SecurityEvent
}

func NewEventStore() *EventStore {
	return &EventStore{events: make(map[string]*models.SecurityEvent)}
}

func (s *EventStore) SaveEvent(_ context.Context, event *models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *event
	copied.Outcomes = append([]models.NotificationOutcome(nil), event.Outcomes...)
	s.events[event.EventID] = &copied
	return nil
}

func (s *EventStore) GetEvent(_ context.Context, eventID string) (*models.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[eventID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *event
	copied.Outcomes = append([]models.NotificationOutcome(nil), event.Outcomes...)
	return &copied, nil
}

func (s *EventStore) AttachSession(_ context.Context, eventID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return repository.ErrNotFound
	}
	event.SessionID = sessionID
	return nil
}

func (s *EventStore) AppendOutcomes(_ context.Context, eventID string, outcomes []models.NotificationOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return repository.ErrNotFound
	}
	event.Outcomes = append(event.Outcomes, outcomes...)
	return nil
}

func (s *EventStore) MarkProcessed(_ context.Context, eventID string, processed bool, dispatchErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return repository.ErrNotFound
	}
	event.Processed = processed
	event.DispatchErr = dispatchErr
	return nil
}
