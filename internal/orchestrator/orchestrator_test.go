package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"powerguard-service/internal/alert"
	"powerguard-service/internal/bucketing"
	"powerguard-service/internal/config"
	"powerguard-service/internal/models"
	"powerguard-service/internal/repository/memory"
	"powerguard-service/internal/tracking"
)

type countingChannel struct {
	name     string
	critical bool

	mu    sync.Mutex
	sends int
}

func (c *countingChannel) Name() string               { return c.name }
func (c *countingChannel) Critical() bool             { return c.critical }
func (c *countingChannel) MinInterval() time.Duration { return 0 }

func (c *countingChannel) Send(_ context.Context, _ models.GuardianContact, _ *alert.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	return nil
}

func (c *countingChannel) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends
}

type fixture struct {
	orch     *Orchestrator
	events   *memory.EventStore
	status   *memory.StatusStore
	sessions *memory.SessionStore
	push     *countingChannel
	message  *countingChannel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Bucketing: config.BucketingConfig{
			EventBuckets:         64,
			SessionBucketSeconds: 300,
		},
		Security: config.SecurityConfig{
			LocationRetention: 500,
			SessionMaxAge:     24 * time.Hour,
			ChannelTimeout:    time.Second,
		},
	}

	users := memory.NewUserStore()
	require.NoError(t, users.SaveUser(context.Background(), &models.User{
		UserID:   "user-1",
		DeviceID: "dev-1",
		Contacts: []models.GuardianContact{
			{Channel: alert.ChannelPush, Address: "push-token"},
			{Channel: alert.ChannelMessage, Address: "+15550100"},
		},
	}))

	events := memory.NewEventStore()
	status := memory.NewStatusStore()
	sessions := memory.NewSessionStore()
	buckets := bucketing.NewBucketingManager(cfg)

	push := &countingChannel{name: alert.ChannelPush}
	message := &countingChannel{name: alert.ChannelMessage, critical: true}

	dispatcher := alert.NewDispatcher(cfg, []alert.Channel{push, message}, users, events, memory.NewNotifyLimiter())
	tracker := tracking.NewManager(cfg, sessions, buckets)

	return &fixture{
		orch:     New(events, status, dispatcher, tracker, buckets, nil),
		events:   events,
		status:   status,
		sessions: sessions,
		push:     push,
		message:  message,
	}
}

func TestTriggerValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Trigger(ctx, "NOT_A_TYPE", "dev-1", "user-1", "")
	require.ErrorIs(t, err, ErrInvalidTrigger)

	// Threshold events come from the credential gate, not device reports
	_, err = f.orch.Trigger(ctx, models.EventFailedAuthThreshold, "dev-1", "user-1", "")
	require.ErrorIs(t, err, ErrInvalidTrigger)

	_, err = f.orch.Trigger(ctx, models.EventSIMChanged, "", "user-1", "")
	require.ErrorIs(t, err, ErrInvalidTrigger)

	_, err = f.orch.Trigger(ctx, models.EventSIMChanged, "dev-1", "", "")
	require.ErrorIs(t, err, ErrInvalidTrigger)
}

func TestCriticalTriggerOpensSessionAndDispatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event, err := f.orch.Trigger(ctx, models.EventSIMChanged, "dev-1", "user-1", "new ICCID detected")
	require.NoError(t, err)
	require.True(t, event.Processed)
	require.NotEmpty(t, event.SessionID)

	// Both channels fired for a critical type
	require.Equal(t, 1, f.push.sent())
	require.Equal(t, 1, f.message.sent())

	// Session is open and attached to the event
	session, err := f.sessions.GetSession(ctx, event.SessionID)
	require.NoError(t, err)
	require.True(t, session.Active)
	require.Equal(t, models.EventSIMChanged, session.AlertType)

	stored, err := f.events.GetEvent(ctx, event.EventID)
	require.NoError(t, err)
	require.Equal(t, event.SessionID, stored.SessionID)
	require.True(t, stored.Processed)
	require.Len(t, stored.Outcomes, 2)

	// Status projection flipped to alert
	status, err := f.orch.DeviceStatus(ctx, "dev-1")
	require.NoError(t, err)
	require.Equal(t, models.DeviceStatusSecurityAlert, status.Status)
	require.Equal(t, models.EventSIMChanged, status.LastAlertType)
	require.NotNil(t, status.LastAlert)
}

func TestNonCriticalTriggerSkipsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event, err := f.orch.Trigger(ctx, models.EventAppUninstallAttempt, "dev-1", "user-1", "")
	require.NoError(t, err)
	require.Empty(t, event.SessionID)

	// Push only; the critical-grade channel is policy-skipped
	require.Equal(t, 1, f.push.sent())
	require.Zero(t, f.message.sent())

	active, err := f.sessions.ActiveSessionForDevice(ctx, "dev-1")
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestDuplicateEventIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event, err := f.orch.Trigger(ctx, models.EventUnauthorizedPoweroff, "dev-1", "user-1", "")
	require.NoError(t, err)
	require.Equal(t, 1, f.push.sent())

	// Redelivery of the same event id must not dispatch again
	redelivered := &models.SecurityEvent{
		EventID:   event.EventID,
		EventType: event.EventType,
		DeviceID:  event.DeviceID,
		UserID:    event.UserID,
		EventTime: event.EventTime,
	}
	require.NoError(t, f.orch.HandleEvent(ctx, redelivered))
	require.Equal(t, 1, f.push.sent())
	require.Equal(t, 1, f.message.sent())

	// Caller sees the stored, processed state
	require.True(t, redelivered.Processed)
	require.Equal(t, event.SessionID, redelivered.SessionID)
}

func TestRepeatedCriticalTriggersReuseSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orch.Trigger(ctx, models.EventSIMChanged, "dev-1", "user-1", "")
	require.NoError(t, err)
	second, err := f.orch.Trigger(ctx, models.EventUnauthorizedPoweroff, "dev-1", "user-1", "")
	require.NoError(t, err)

	require.Equal(t, first.SessionID, second.SessionID)
}

func TestDeviceStatusDefaultsToNormal(t *testing.T) {
	f := newFixture(t)

	status, err := f.orch.DeviceStatus(context.Background(), "dev-never-alerted")
	require.NoError(t, err)
	require.Equal(t, models.DeviceStatusNormal, status.Status)
}

func TestGateEscalationFlowsThroughPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The gate hands the orchestrator a prebuilt threshold event
	event := &models.SecurityEvent{
		EventID:   "evt-gate-1",
		EventType: models.EventFailedAuthThreshold,
		DeviceID:  "dev-1",
		UserID:    "user-1",
		EventTime: time.Now().UTC(),
		Details:   "failed_count=3",
	}

	require.NoError(t, f.orch.HandleEvent(ctx, event))

	// Threshold events are critical: full channel set plus a session
	require.True(t, event.Processed)
	require.NotEmpty(t, event.SessionID)
	require.Equal(t, 1, f.push.sent())
	require.Equal(t, 1, f.message.sent())

	status, err := f.orch.DeviceStatus(ctx, "dev-1")
	require.NoError(t, err)
	require.Equal(t, models.EventFailedAuthThreshold, status.LastAlertType)
}
