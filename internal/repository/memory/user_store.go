package memory

import (
	"context"
	"sync"

	"powerguard-service/internal/models"
	"powerguard-service/internal/repository"
)

type UserStore struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]models.User)}
}

func (s *UserStore) SaveUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *user
	copied.Contacts = append([]models.GuardianContact(nil), user.Contacts...)
	s.users[user.UserID] = copied
	return nil
}

func (s *UserStore) GetUser(_ context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := user
	copied.Contacts = append([]models.GuardianContact(nil), user.Contacts...)
	return &copied, nil
}
