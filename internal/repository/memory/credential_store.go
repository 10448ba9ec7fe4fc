package memory

import (
	"context"
	"sync"

	"powerguard-service/internal/models"
	"powerguard-service/internal/repository"
)

// CredentialStore is the in-memory CredentialRepository used by tests and the
// development storage profile.
type CredentialStore struct {
	mu       sync.RWMutex
	creds    map[string]models.Credential // deviceID + "/" + kind
	attempts map[string]models.AttemptState
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		creds:    make(map[string]models.Credential),
		attempts: make(map[string]models.AttemptState),
	}
}

func credKey(deviceID string, kind models.CredentialKind) string {
	return deviceID + "/" + string(kind)
}

func (s *CredentialStore) SaveCredential(_ context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[credKey(cred.DeviceID, cred.Kind)] = *cred
	return nil
}

func (s *CredentialStore) GetCredential(_ context.Context, deviceID string, kind models.CredentialKind) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[credKey(deviceID, kind)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cred
	return &out, nil
}

func (s *CredentialStore) GetAttemptState(_ context.Context, deviceID string) (*models.AttemptState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.attempts[deviceID]
	if !ok {
		return &models.AttemptState{DeviceID: deviceID}, nil
	}
	out := state
	return &out, nil
}

func (s *CredentialStore) SaveAttemptState(_ context.Context, state *models.AttemptState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[state.DeviceID] = *state
	return nil
}
