// Package repository defines the storage boundary of the service. Every
// implementation (ScyllaDB for deployment, in-memory for development and
// tests) must satisfy these contracts; callers never see a concrete backend.
package repository

import (
	"context"
	"errors"
	"time"

	"powerguard-service/internal/models"
)

var ErrNotFound = errors.New("record not found")

// CredentialRepository owns credential hashes and per-device attempt state.
// AuthGate is the single writer per device; implementations only need to be
// safe for concurrent use across devices.
type CredentialRepository interface {
	SaveCredential(ctx context.Context, cred *models.Credential) error
	GetCredential(ctx context.Context, deviceID string, kind models.CredentialKind) (*models.Credential, error)

	// GetAttemptState returns a zero-valued state (not ErrNotFound) when the
	// device has no recorded attempts.
	GetAttemptState(ctx context.Context, deviceID string) (*models.AttemptState, error)
	SaveAttemptState(ctx context.Context, state *models.AttemptState) error
}

// EventRepository persists security events and their per-channel outcomes.
type EventRepository interface {
	SaveEvent(ctx context.Context, event *models.SecurityEvent) error
	GetEvent(ctx context.Context, eventID string) (*models.SecurityEvent, error)
	AttachSession(ctx context.Context, eventID, sessionID string) error
	AppendOutcomes(ctx context.Context, eventID string, outcomes []models.NotificationOutcome) error
	MarkProcessed(ctx context.Context, eventID string, processed bool, dispatchErr string) error
}

// SessionRepository persists tracking sessions and their location logs.
// GetSession and ActiveSessionForDevice return locations ordered by timestamp.
type SessionRepository interface {
	// CreateIfAbsent atomically creates the session unless an active session
	// already exists for the same device and creation bucket; it returns the
	// winning session and whether a new row was created.
	CreateIfAbsent(ctx context.Context, session *models.TrackingSession) (*models.TrackingSession, bool, error)
	GetSession(ctx context.Context, sessionID string) (*models.TrackingSession, error)
	// ActiveSessionForDevice returns (nil, nil) when no active session exists.
	ActiveSessionForDevice(ctx context.Context, deviceID string) (*models.TrackingSession, error)
	// ListActiveSessions returns lifecycle data (no locations) for every
	// active session; the expiry sweeper walks it.
	ListActiveSessions(ctx context.Context) ([]*models.TrackingSession, error)
	UpdateLifecycle(ctx context.Context, session *models.TrackingSession) error
	AppendLocation(ctx context.Context, sessionID string, point models.LocationPoint) error
	TrimLocations(ctx context.Context, sessionID string, keep int) error
	UpdateAddress(ctx context.Context, sessionID string, ts time.Time, address string) error
}

// StatusRepository holds the device-status projection updated on escalation.
type StatusRepository interface {
	UpsertStatus(ctx context.Context, status *models.DeviceStatus) error
	GetStatus(ctx context.Context, deviceID string) (*models.DeviceStatus, error)
}

// UserRepository resolves the owner and guardian contacts of a device.
type UserRepository interface {
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// NotifyLimiter enforces the minimum inter-send interval of rate-limited
// channels. Allow reserves the send slot when it returns true; a false return
// means a send happened within the interval and the channel must be skipped.
type NotifyLimiter interface {
	Allow(ctx context.Context, userID, channel string, interval time.Duration) (bool, error)
}
