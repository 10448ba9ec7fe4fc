package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"powerguard-service/internal/bucketing"
	"powerguard-service/internal/config"
	"powerguard-service/internal/models"
	"powerguard-service/internal/repository"
	"powerguard-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("tracking session not found")
	ErrSessionClosed   = errors.New("tracking session is not active")
)

// Geocoder resolves a human-readable address for a point. Annotation is
// asynchronous and best-effort.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// SummaryHook is invoked after a session transitions to inactive.
type SummaryHook func(session *models.TrackingSession)

// Manager owns tracking-session lifecycles: idempotent open, single-writer
// location ingestion with bounded retention, age-based auto-expiry, and
// explicit close. Appends for one session are serialized; sessions are
// independent of each other.
type Manager struct {
	repo    repository.SessionRepository
	buckets *bucketing.BucketingManager

	retentionCap int
	maxAge       time.Duration

	geocoder  Geocoder
	onClose   SummaryHook
	sessionMu sync.Map // sessionID -> *sync.Mutex
	nowFn     func() time.Time
}

func NewManager(cfg *config.Config, repo repository.SessionRepository, buckets *bucketing.BucketingManager) *Manager {
	return &Manager{
		repo:         repo,
		buckets:      buckets,
		retentionCap: cfg.Security.LocationRetention,
		maxAge:       cfg.Security.SessionMaxAge,
		nowFn:        time.Now,
	}
}

// WithClock overrides the clock; tests use this to age sessions.
func (m *Manager) WithClock(nowFn func() time.Time) *Manager {
	m.nowFn = nowFn
	return m
}

// WithGeocoder enables async address annotation of appended points.
func (m *Manager) WithGeocoder(g Geocoder) *Manager {
	m.geocoder = g
	return m
}

// OnClose registers the summary hook fired when a session closes or expires.
func (m *Manager) OnClose(hook SummaryHook) *Manager {
	m.onClose = hook
	return m
}

// Open returns the active session for the device, creating one when none
// exists. Re-delivery of the same trigger lands on the same session.
func (m *Manager) Open(ctx context.Context, deviceID, userID string, alertType models.EventType) (*models.TrackingSession, error) {
	if existing, err := m.repo.ActiveSessionForDevice(ctx, deviceID); err != nil {
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	} else if existing != nil {
		util.Debug("Reusing active tracking session",
			zap.String("device_id", deviceID),
			zap.String("session_id", existing.SessionID))
		return existing, nil
	}

	now := m.nowFn()
	session := &models.TrackingSession{
		SessionID:      uuid.New().String(),
		DeviceID:       deviceID,
		UserID:         userID,
		AlertType:      alertType,
		CreationBucket: m.buckets.GetSessionBucket(now),
		Active:         true,
		StartTime:      now.UTC(),
	}

	winner, created, err := m.repo.CreateIfAbsent(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracking session: %w", err)
	}

	if created {
		util.Info("Tracking session opened",
			zap.String("session_id", winner.SessionID),
			zap.String("device_id", deviceID),
			zap.String("alert_type", string(alertType)))
	}

	return winner, nil
}

// Append ingests one location point. Points arriving after close are
// rejected, not queued. Retention keeps at most the newest retentionCap
// points.
func (m *Manager) Append(ctx context.Context, sessionID string, point models.LocationPoint) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if !session.Active {
		return ErrSessionClosed
	}

	if point.Timestamp.IsZero() {
		point.Timestamp = m.nowFn().UTC()
	}

	if err := m.repo.AppendLocation(ctx, sessionID, point); err != nil {
		return fmt.Errorf("failed to append location: %w", err)
	}

	if len(session.Locations)+1 > m.retentionCap {
		if err := m.repo.TrimLocations(ctx, sessionID, m.retentionCap); err != nil {
			util.Error("Failed to trim location log",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}

	if m.geocoder != nil && point.Address == "" {
		go m.annotateAddress(sessionID, point)
	}

	return nil
}

// MaybeExpire closes the session with reason age_limit when it has outlived
// the maximum age. It reports whether this call performed the transition.
func (m *Manager) MaybeExpire(ctx context.Context, sessionID string) (bool, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrSessionNotFound
		}
		return false, fmt.Errorf("failed to load session: %w", err)
	}

	if !session.Active || m.nowFn().Sub(session.StartTime) <= m.maxAge {
		return false, nil
	}

	if err := m.deactivate(ctx, session, models.CloseReasonAgeLimit); err != nil {
		return false, err
	}

	util.Info("Tracking session auto-expired",
		zap.String("session_id", sessionID),
		zap.Duration("age", session.Age(m.nowFn())))

	return true, nil
}

// Close ends the session with an explicit reason. Closing an already-closed
// session is a no-op.
func (m *Manager) Close(ctx context.Context, sessionID, reason string) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if !session.Active {
		return nil
	}

	if reason == "" {
		reason = models.CloseReasonManual
	}
	if err := m.deactivate(ctx, session, reason); err != nil {
		return err
	}

	util.Info("Tracking session closed",
		zap.String("session_id", sessionID),
		zap.String("reason", reason))

	return nil
}

// Get returns the session aggregate with its ordered location log.
func (m *Manager) Get(ctx context.Context, sessionID string) (*models.TrackingSession, error) {
	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// SweepExpired runs one expiry pass over all active sessions.
func (m *Manager) SweepExpired(ctx context.Context) {
	sessions, err := m.repo.ListActiveSessions(ctx)
	if err != nil {
		util.Error("Failed to list active sessions for expiry sweep", zap.Error(err))
		return
	}

	for _, session := range sessions {
		if _, err := m.MaybeExpire(ctx, session.SessionID); err != nil {
			util.Error("Expiry check failed",
				zap.String("session_id", session.SessionID),
				zap.Error(err))
		}
	}
}

// StartSweeper launches the background expiry loop; it stops when ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, period time.Duration) {
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SweepExpired(ctx)
			}
		}
	}()
}

func (m *Manager) deactivate(ctx context.Context, session *models.TrackingSession, reason string) error {
	end := m.nowFn().UTC()
	session.Active = false
	session.EndTime = &end
	session.CloseReason = reason

	if err := m.repo.UpdateLifecycle(ctx, session); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	if m.onClose != nil {
		m.onClose(session)
	}
	return nil
}

func (m *Manager) annotateAddress(sessionID string, point models.LocationPoint) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	address, err := m.geocoder.ReverseGeocode(ctx, point.Lat, point.Lng)
	if err != nil || address == "" {
		return
	}
	if err := m.repo.UpdateAddress(ctx, sessionID, point.Timestamp, address); err != nil {
		util.Debug("Address annotation skipped",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	lock, _ := m.sessionMu.LoadOrStore(sessionID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
