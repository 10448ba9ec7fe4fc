package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"powerguard-service/internal/encryption"
	"powerguard-service/internal/models"
	"powerguard-service/internal/repository"
	"powerguard-service/internal/util"
)

// SessionRepository stores tracking sessions in three tables: lifecycle rows
// keyed by session id, an active_sessions lookup keyed by device id, and a
// per-session location log. Location payloads are envelope-encrypted before
// they are written.
type SessionRepository struct {
	client    *ScyllaClient
	encryptor *encryption.EncryptionManager
}

func NewSessionRepository(client *ScyllaClient, encryptor *encryption.EncryptionManager) *SessionRepository {
	return &SessionRepository{
		client:    client,
		encryptor: encryptor,
	}
}

func (r *SessionRepository) CreateIfAbsent(ctx context.Context, session *models.TrackingSession) (*models.TrackingSession, bool, error) {
	// LWT claim on (device, bucket); the winner's session id sticks
	claim := r.client.Prepared.ClaimSession.Bind(
		session.DeviceID, session.CreationBucket, session.SessionID).WithContext(ctx)

	row := make(map[string]interface{})
	applied, err := claim.MapScanCAS(row)
	if err != nil {
		util.Error("Failed to claim tracking session",
			zap.String("device_id", session.DeviceID),
			zap.Int64("creation_bucket", session.CreationBucket),
			zap.Error(err))
		return nil, false, fmt.Errorf("failed to claim tracking session: %w", err)
	}

	if !applied {
		existingID, _ := row["session_id"].(string)
		existing, err := r.GetSession(ctx, existingID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load winning session: %w", err)
		}
		return existing, false, nil
	}

	insert := r.client.Prepared.InsertSession.Bind(
		session.SessionID, session.DeviceID, session.UserID, string(session.AlertType),
		session.CreationBucket, session.Active, session.StartTime,
		timeOrZero(session.EndTime), session.CloseReason).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(insert, 2); err != nil {
		util.Error("Failed to insert tracking session",
			zap.String("session_id", session.SessionID),
			zap.Error(err))
		return nil, false, fmt.Errorf("failed to insert tracking session: %w", err)
	}

	active := r.client.Prepared.SetActive.Bind(session.DeviceID, session.SessionID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(active, 2); err != nil {
		return nil, false, fmt.Errorf("failed to mark session active: %w", err)
	}

	util.Info("Tracking session created",
		zap.String("session_id", session.SessionID),
		zap.String("device_id", session.DeviceID),
		zap.String("alert_type", string(session.AlertType)))

	return session, true, nil
}

func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*models.TrackingSession, error) {
	session, err := r.loadLifecycle(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	locations, err := r.loadLocations(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session.Locations = locations
	if n := len(locations); n > 0 {
		last := locations[n-1]
		session.LastLocation = &last
	}

	return session, nil
}

func (r *SessionRepository) loadLifecycle(ctx context.Context, sessionID string) (*models.TrackingSession, error) {
	session := &models.TrackingSession{}
	var alertType string
	var endTime time.Time

	query := r.client.Prepared.GetSession.Bind(sessionID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&session.SessionID, &session.DeviceID, &session.UserID, &alertType,
		&session.CreationBucket, &session.Active, &session.StartTime,
		&endTime, &session.CloseReason)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		util.Error("Failed to get tracking session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get tracking session: %w", err)
	}

	session.AlertType = models.EventType(alertType)
	if !endTime.IsZero() {
		session.EndTime = &endTime
	}

	return session, nil
}

func (r *SessionRepository) ActiveSessionForDevice(ctx context.Context, deviceID string) (*models.TrackingSession, error) {
	var sessionID string

	query := r.client.Prepared.GetActive.Bind(deviceID).WithContext(ctx)

	err := query.Scan(&sessionID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	}

	session, err := r.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// Stale lookup row; treat as no active session
	if !session.Active {
		return nil, nil
	}

	return session, nil
}

func (r *SessionRepository) ListActiveSessions(ctx context.Context) ([]*models.TrackingSession, error) {
	iter := r.client.Query(`SELECT session_id FROM active_sessions`).WithContext(ctx).Iter()

	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	sessions := make([]*models.TrackingSession, 0, len(ids))
	for _, sessionID := range ids {
		session, err := r.loadLifecycle(ctx, sessionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if session.Active {
			sessions = append(sessions, session)
		}
	}

	return sessions, nil
}

func (r *SessionRepository) UpdateLifecycle(ctx context.Context, session *models.TrackingSession) error {
	query := r.client.Prepared.UpdateLifecycle.Bind(
		session.Active, timeOrZero(session.EndTime), session.CloseReason,
		session.SessionID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update session lifecycle",
			zap.String("session_id", session.SessionID),
			zap.Error(err))
		return fmt.Errorf("failed to update session lifecycle: %w", err)
	}

	if !session.Active {
		remove := r.client.Prepared.ClearActive.Bind(session.DeviceID).WithContext(ctx)
		if err := r.client.ExecuteWithRetry(remove, 2); err != nil {
			return fmt.Errorf("failed to clear active session: %w", err)
		}
	}

	return nil
}

func (r *SessionRepository) AppendLocation(ctx context.Context, sessionID string, point models.LocationPoint) error {
	payload, err := r.sealPoint(ctx, point)
	if err != nil {
		return err
	}

	query := r.client.Prepared.InsertLocation.Bind(sessionID, point.Timestamp, payload).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to append location",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to append location: %w", err)
	}

	return nil
}

func (r *SessionRepository) TrimLocations(ctx context.Context, sessionID string, keep int) error {
	iter := r.client.Query(`SELECT ts FROM session_locations WHERE session_id = ?`, sessionID).
		WithContext(ctx).Iter()

	var timestamps []time.Time
	var ts time.Time
	for iter.Scan(&ts) {
		timestamps = append(timestamps, ts)
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("failed to scan location timestamps: %w", err)
	}

	excess := len(timestamps) - keep
	if excess <= 0 {
		return nil
	}

	// Clustering order is ascending, oldest first
	for _, old := range timestamps[:excess] {
		query := r.client.Prepared.DeleteLocation.Bind(sessionID, old).WithContext(ctx)
		if err := r.client.ExecuteWithRetry(query, 2); err != nil {
			return fmt.Errorf("failed to trim location: %w", err)
		}
	}

	util.Debug("Trimmed location log",
		zap.String("session_id", sessionID),
		zap.Int("removed", excess))

	return nil
}

func (r *SessionRepository) UpdateAddress(ctx context.Context, sessionID string, ts time.Time, address string) error {
	var payload []byte

	query := r.client.Query(`SELECT payload FROM session_locations WHERE session_id = ? AND ts = ?`,
		sessionID, ts).WithContext(ctx)

	if err := query.Scan(&payload); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("failed to read location for address update: %w", err)
	}

	point, err := r.openPoint(ctx, payload)
	if err != nil {
		return err
	}
	point.Address = address

	sealed, err := r.sealPoint(ctx, point)
	if err != nil {
		return err
	}

	update := r.client.Prepared.UpdateLocation.Bind(sealed, sessionID, ts).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(update, 2); err != nil {
		return fmt.Errorf("failed to update location address: %w", err)
	}

	return nil
}

func (r *SessionRepository) loadLocations(ctx context.Context, sessionID string) ([]models.LocationPoint, error) {
	iter := r.client.Prepared.GetLocations.Bind(sessionID).WithContext(ctx).Iter()

	var points []models.LocationPoint
	var ts time.Time
	var payload []byte
	for iter.Scan(&ts, &payload) {
		point, err := r.openPoint(ctx, payload)
		if err != nil {
			iter.Close()
			return nil, err
		}
		points = append(points, point)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to load locations",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to load locations: %w", err)
	}

	return points, nil
}

func (r *SessionRepository) sealPoint(ctx context.Context, point models.LocationPoint) ([]byte, error) {
	plain, err := json.Marshal(point)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal location: %w", err)
	}

	sealed, err := r.encryptor.EncryptPayload(ctx, plain)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt location: %w", err)
	}

	payload, err := json.Marshal(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal encrypted location: %w", err)
	}

	return payload, nil
}

func (r *SessionRepository) openPoint(ctx context.Context, payload []byte) (models.LocationPoint, error) {
	var sealed encryption.EncryptedData
	if err := json.Unmarshal(payload, &sealed); err != nil {
		return models.LocationPoint{}, fmt.Errorf("failed to unmarshal encrypted location: %w", err)
	}

	plain, err := r.encryptor.DecryptPayload(ctx, &sealed)
	if err != nil {
		return models.LocationPoint{}, fmt.Errorf("failed to decrypt location: %w", err)
	}

	var point models.LocationPoint
	if err := json.Unmarshal(plain, &point); err != nil {
		return models.LocationPoint{}, fmt.Errorf("failed to unmarshal location: %w", err)
	}

	return point, nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
