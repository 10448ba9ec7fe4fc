package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"powerguard-service/internal/bucketing"
	"powerguard-service/internal/config"
	"powerguard-service/internal/models"
	"powerguard-service/internal/repository/memory"
)

func testConfig() *config.Config {
	return &config.Config{
		Bucketing: config.BucketingConfig{
			EventBuckets:         64,
			SessionBucketSeconds: 300,
		},
		Security: config.SecurityConfig{
			LocationRetention: 5,
			SessionMaxAge:     24 * time.Hour,
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	cfg := testConfig()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	m := NewManager(cfg, memory.NewSessionStore(), bucketing.NewBucketingManager(cfg)).
		WithClock(func() time.Time { return now })
	return m, &now
}

func TestOpenIsIdempotentPerDevice(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Open(ctx, "dev-1", "user-1", models.EventSIMChanged)
	require.NoError(t, err)
	require.True(t, first.Active)
	require.Equal(t, models.EventSIMChanged, first.AlertType)

	// A re-delivered trigger lands on the same session
	second, err := m.Open(ctx, "dev-1", "user-1", models.EventUnauthorizedPoweroff)
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)

	// A different device gets its own session
	other, err := m.Open(ctx, "dev-2", "user-2", models.EventSIMChanged)
	require.NoError(t, err)
	require.NotEqual(t, first.SessionID, other.SessionID)
}

func TestAppendOrdersAndStampsPoints(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()

	session, err := m.Open(ctx, "dev-1", "user-1", models.EventSIMChanged)
	require.NoError(t, err)

	// Zero timestamp gets the ingestion time
	require.NoError(t, m.Append(ctx, session.SessionID, models.LocationPoint{Lat: 10, Lng: 20}))

	// Out-of-order arrival still ends up sorted
	earlier := now.Add(-time.Minute)
	require.NoError(t, m.Append(ctx, session.SessionID, models.LocationPoint{Lat: 11, Lng: 21, Timestamp: earlier}))

	got, err := m.Get(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, got.Locations, 2)
	require.Equal(t, earlier, got.Locations[0].Timestamp)
	require.Equal(t, now.UTC(), got.Locations[1].Timestamp)
	require.NotNil(t, got.LastLocation)
	require.Equal(t, 10.0, got.LastLocation.Lat)
}

func TestAppendEnforcesRetentionCap(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()

	session, err := m.Open(ctx, "dev-1", "user-1", models.EventSIMChanged)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		point := models.LocationPoint{
			Lat:       float64(i),
			Lng:       float64(i),
			Timestamp: now.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, m.Append(ctx, session.SessionID, point))
	}

	got, err := m.Get(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, got.Locations, 5)
	// Oldest points were dropped
	require.Equal(t, 3.0, got.Locations[0].Lat)
	require.Equal(t, 7.0, got.Locations[4].Lat)
}

func TestAppendAfterCloseRejected(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	session, err := m.Open(ctx, "dev-1", "user-1", models.EventSIMChanged)
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx, session.SessionID, ""))

	err = m.Append(ctx, session.SessionID, models.LocationPoint{Lat: 1, Lng: 2})
	require.ErrorIs(t, err, ErrSessionClosed)

	err = m.Append(ctx, "no-such-session", models.LocationPoint{Lat: 1, Lng: 2})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCloseDefaultsToManualAndIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	var hookCalls int
	var mu sync.Mutex
	m.OnClose(func(_ *models.TrackingSession) {
		mu.Lock()
		hookCalls++
		mu.Unlock()
	})

	session, err := m.Open(ctx, "dev-1", "user-1", models.EventSIMChanged)
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx, session.SessionID, ""))
	require.NoError(t, m.Close(ctx, session.SessionID, ""))

	got, err := m.Get(ctx, session.SessionID)
	require.NoError(t, err)
	require.False(t, got.Active)
	require.Equal(t, models.CloseReasonManual, got.CloseReason)
	require.NotNil(t, got.EndTime)
	require.Equal(t, 1, hookCalls)
}

func TestMaybeExpireTransitionsExactlyOnce(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()

	var closed []*models.TrackingSession
	m.OnClose(func(s *models.TrackingSession) { closed = append(closed, s) })

	session, err := m.Open(ctx, "dev-1", "user-1", models.EventUnauthorizedPoweroff)
	require.NoError(t, err)

	// Just inside the age limit: nothing happens
	*now = now.Add(24 * time.Hour)
	did, err := m.MaybeExpire(ctx, session.SessionID)
	require.NoError(t, err)
	require.False(t, did)

	// Past the limit: expires once
	*now = now.Add(time.Second)
	did, err = m.MaybeExpire(ctx, session.SessionID)
	require.NoError(t, err)
	require.True(t, did)

	did, err = m.MaybeExpire(ctx, session.SessionID)
	require.NoError(t, err)
	require.False(t, did)

	got, err := m.Get(ctx, session.SessionID)
	require.NoError(t, err)
	require.False(t, got.Active)
	require.Equal(t, models.CloseReasonAgeLimit, got.CloseReason)
	require.Len(t, closed, 1)

	// The device can open a fresh session afterwards
	fresh, err := m.Open(ctx, "dev-1", "user-1", models.EventSIMChanged)
	require.NoError(t, err)
	require.NotEqual(t, session.SessionID, fresh.SessionID)
}

func TestSweepExpiredWalksAllActiveSessions(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()

	old, err := m.Open(ctx, "dev-1", "user-1", models.EventSIMChanged)
	require.NoError(t, err)

	*now = now.Add(25 * time.Hour)
	young, err := m.Open(ctx, "dev-2", "user-2", models.EventSIMChanged)
	require.NoError(t, err)

	m.SweepExpired(ctx)

	gotOld, err := m.Get(ctx, old.SessionID)
	require.NoError(t, err)
	require.False(t, gotOld.Active)
	require.Equal(t, models.CloseReasonAgeLimit, gotOld.CloseReason)

	gotYoung, err := m.Get(ctx, young.SessionID)
	require.NoError(t, err)
	require.True(t, gotYoung.Active)
}

type stubGeocoder struct{ address string }

func (s stubGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (string, error) {
	return s.address, nil
}

func TestGeocoderAnnotatesAddress(t *testing.T) {
	m, now := newTestManager(t)
	m.WithGeocoder(stubGeocoder{address: "1 Main St"})
	ctx := context.Background()

	session, err := m.Open(ctx, "dev-1", "user-1", models.EventSIMChanged)
	require.NoError(t, err)

	point := models.LocationPoint{Lat: 1, Lng: 2, Timestamp: *now}
	require.NoError(t, m.Append(ctx, session.SessionID, point))

	require.Eventually(t, func() bool {
		got, err := m.Get(ctx, session.SessionID)
		if err != nil || len(got.Locations) == 0 {
			return false
		}
		return got.Locations[0].Address == "1 Main St"
	}, time.Second, 10*time.Millisecond)
}
