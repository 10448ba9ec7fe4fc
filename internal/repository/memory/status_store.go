package memory

import (
	"context"
	"sync"

	"powerguard-service/internal/models"
	"powerguard-service/internal/repository"
)

type StatusStore struct {
	mu       sync.RWMutex
	statuses map[string]models.DeviceStatus
}

func NewStatusStore() *StatusStore {
	return &StatusStore{statuses: make(map[string]models.DeviceStatus)}
}

func (s *StatusStore) UpsertStatus(_ context.Context, status *models.DeviceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.DeviceID] = *status
	return nil
}

func (s *StatusStore) GetStatus(_ context.Context, deviceID string) (*models.DeviceStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := status
	return &out, nil
}
