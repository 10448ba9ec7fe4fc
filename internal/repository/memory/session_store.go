package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"powerguard-service/internal/models"
	"powerguard-service/internal/repository"
)

type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.TrackingSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*models.TrackingSession)}
}

func copySession(s *models.TrackingSession) *models.TrackingSession {
	copied := *s
	copied.Locations = append([]models.LocationPoint(nil), s.Locations...)
	if s.LastLocation != nil {
		last := *s.LastLocation
		copied.LastLocation = &last
	}
	return &copied
}

func (s *SessionStore) CreateIfAbsent(_ context.Context, session *models.TrackingSession) (*models.TrackingSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.DeviceID == session.DeviceID && existing.Active {
			return copySession(existing), false, nil
		}
	}

	s.sessions[session.SessionID] = copySession(session)
	return copySession(session), true, nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (*models.TrackingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copySession(session), nil
}

func (s *SessionStore) ActiveSessionForDevice(_ context.Context, deviceID string) (*models.TrackingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.DeviceID == deviceID && session.Active {
			return copySession(session), nil
		}
	}
	return nil, nil
}

func (s *SessionStore) ListActiveSessions(_ context.Context) ([]*models.TrackingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TrackingSession
	for _, session := range s.sessions {
		if session.Active {
			copied := *session
			copied.Locations = nil
			copied.LastLocation = nil
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *SessionStore) UpdateLifecycle(_ context.Context, session *models.TrackingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[session.SessionID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Active = session.Active
	existing.EndTime = session.EndTime
	existing.CloseReason = session.CloseReason
	return nil
}

func (s *SessionStore) AppendLocation(_ context.Context, sessionID string, point models.LocationPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}

	session.Locations = append(session.Locations, point)
	sort.SliceStable(session.Locations, func(i, j int) bool {
		return session.Locations[i].Timestamp.Before(session.Locations[j].Timestamp)
	})
	last := session.Locations[len(session.Locations)-1]
	session.LastLocation = &last
	return nil
}

func (s *SessionStore) TrimLocations(_ context.Context, sessionID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	if excess := len(session.Locations) - keep; excess > 0 {
		session.Locations = append([]models.LocationPoint(nil), session.Locations[excess:]...)
	}
	return nil
}

func (s *SessionStore) UpdateAddress(_ context.Context, sessionID string, ts time.Time, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range session.Locations {
		if session.Locations[i].Timestamp.Equal(ts) {
			session.Locations[i].Address = address
		}
	}
	if session.LastLocation != nil && session.LastLocation.Timestamp.Equal(ts) {
		session.LastLocation.Address = address
	}
	return nil
}
