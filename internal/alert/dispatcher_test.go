package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"powerguard-service/internal/config"
	"powerguard-service/internal/models"
	"powerguard-service/internal/repository/memory"
)

type fakeChannel struct {
	name        string
	critical    bool
	minInterval time.Duration
	sendErr     error
	block       bool

	mu    sync.Mutex
	sends []*Payload
}

func (f *fakeChannel) Name() string               { return f.name }
func (f *fakeChannel) Critical() bool             { return f.critical }
func (f *fakeChannel) MinInterval() time.Duration { return f.minInterval }

func (f *fakeChannel) Send(ctx context.Context, _ models.GuardianContact, payload *Payload) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, payload)
	return nil
}

func (f *fakeChannel) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func testConfig() *config.Config {
	return &config.Config{
		Security: config.SecurityConfig{
			ChannelTimeout:    100 * time.Millisecond,
			NotifyMinInterval: 5 * time.Minute,
		},
	}
}

func seedUser(t *testing.T, users *memory.UserStore, optOuts map[string][]string) {
	t.Helper()
	err := users.SaveUser(context.Background(), &models.User{
		UserID:   "user-1",
		DeviceID: "dev-1",
		Contacts: []models.GuardianContact{
			{Channel: ChannelPush, Address: "push-token-1", Name: "Owner"},
			{Channel: ChannelMessage, Address: "+15550100", Name: "Guardian"},
		},
		ChannelOptOuts: optOuts,
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
}

func seedEvent(t *testing.T, events *memory.EventStore, eventType models.EventType) *models.SecurityEvent {
	t.Helper()
	event := &models.SecurityEvent{
		EventID:   "evt-1",
		EventType: eventType,
		DeviceID:  "dev-1",
		UserID:    "user-1",
		EventTime: time.Now().UTC(),
	}
	require.NoError(t, events.SaveEvent(context.Background(), event))
	return event
}

func TestDispatchPartialFailureStillProcessed(t *testing.T) {
	users := memory.NewUserStore()
	events := memory.NewEventStore()
	seedUser(t, users, nil)
	event := seedEvent(t, events, models.EventSIMChanged)

	push := &fakeChannel{name: ChannelPush}
	message := &fakeChannel{name: ChannelMessage, critical: true, sendErr: errors.New("broker unreachable")}

	d := NewDispatcher(testConfig(), []Channel{push, message}, users, events, memory.NewNotifyLimiter())

	outcomes, err := d.Dispatch(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	byChannel := map[string]models.NotificationOutcome{}
	for _, o := range outcomes {
		byChannel[o.Channel] = o
	}

	require.True(t, byChannel[ChannelPush].Sent)
	require.NotNil(t, byChannel[ChannelPush].SentAt)
	require.False(t, byChannel[ChannelMessage].Sent)
	require.Contains(t, byChannel[ChannelMessage].Error, "broker unreachable")

	// A failed channel does not block completion
	stored, err := events.GetEvent(context.Background(), event.EventID)
	require.NoError(t, err)
	require.True(t, stored.Processed)
	require.Empty(t, stored.DispatchErr)
	require.Len(t, stored.Outcomes, 2)
}

func TestDispatchRateLimitWindow(t *testing.T) {
	users := memory.NewUserStore()
	events := memory.NewEventStore()
	seedUser(t, users, nil)

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	limiter := memory.NewNotifyLimiter().WithClock(func() time.Time { return now })

	message := &fakeChannel{name: ChannelMessage, critical: true, minInterval: 5 * time.Minute}
	d := NewDispatcher(testConfig(), []Channel{message}, users, events, limiter)

	event := seedEvent(t, events, models.EventSIMChanged)
	outcomes, err := d.Dispatch(context.Background(), event)
	require.NoError(t, err)
	require.True(t, outcomes[0].Sent)

	// Two minutes later: suppressed, recorded as skipped
	now = now.Add(2 * time.Minute)
	second := &models.SecurityEvent{
		EventID: "evt-2", EventType: models.EventSIMChanged,
		DeviceID: "dev-1", UserID: "user-1", EventTime: now,
	}
	require.NoError(t, events.SaveEvent(context.Background(), second))
	outcomes, err = d.Dispatch(context.Background(), second)
	require.NoError(t, err)
	require.False(t, outcomes[0].Sent)
	require.Equal(t, models.SkipReasonRateLimit, outcomes[0].SkippedReason)

	stored, err := events.GetEvent(context.Background(), "evt-2")
	require.NoError(t, err)
	require.True(t, stored.Processed)

	// Past the interval: sends again
	now = now.Add(4 * time.Minute)
	third := &models.SecurityEvent{
		EventID: "evt-3", EventType: models.EventSIMChanged,
		DeviceID: "dev-1", UserID: "user-1", EventTime: now,
	}
	require.NoError(t, events.SaveEvent(context.Background(), third))
	outcomes, err = d.Dispatch(context.Background(), third)
	require.NoError(t, err)
	require.True(t, outcomes[0].Sent)
}

func TestDispatchCriticalChannelPolicy(t *testing.T) {
	users := memory.NewUserStore()
	events := memory.NewEventStore()
	seedUser(t, users, nil)

	push := &fakeChannel{name: ChannelPush}
	message := &fakeChannel{name: ChannelMessage, critical: true}
	d := NewDispatcher(testConfig(), []Channel{push, message}, users, events, memory.NewNotifyLimiter())

	// Non-critical event type only reaches the push channel
	event := seedEvent(t, events, models.EventAppUninstallAttempt)
	outcomes, err := d.Dispatch(context.Background(), event)
	require.NoError(t, err)

	byChannel := map[string]models.NotificationOutcome{}
	for _, o := range outcomes {
		byChannel[o.Channel] = o
	}
	require.True(t, byChannel[ChannelPush].Sent)
	require.Equal(t, models.SkipReasonPolicy, byChannel[ChannelMessage].SkippedReason)
	require.Zero(t, message.sent())
}

func TestDispatchHonorsOptOuts(t *testing.T) {
	users := memory.NewUserStore()
	events := memory.NewEventStore()
	seedUser(t, users, map[string][]string{
		string(models.EventSIMChanged): {ChannelMessage},
	})

	message := &fakeChannel{name: ChannelMessage, critical: true}
	d := NewDispatcher(testConfig(), []Channel{message}, users, events, memory.NewNotifyLimiter())

	event := seedEvent(t, events, models.EventSIMChanged)
	outcomes, err := d.Dispatch(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, models.SkipReasonDisabled, outcomes[0].SkippedReason)
	require.Zero(t, message.sent())
}

func TestDispatchNoRecipient(t *testing.T) {
	users := memory.NewUserStore()
	events := memory.NewEventStore()
	require.NoError(t, users.SaveUser(context.Background(), &models.User{
		UserID:   "user-1",
		DeviceID: "dev-1",
	}))

	push := &fakeChannel{name: ChannelPush}
	d := NewDispatcher(testConfig(), []Channel{push}, users, events, memory.NewNotifyLimiter())

	event := seedEvent(t, events, models.EventSIMChanged)
	outcomes, err := d.Dispatch(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, models.SkipReasonNoRecipient, outcomes[0].SkippedReason)
}

func TestDispatchUnknownUser(t *testing.T) {
	users := memory.NewUserStore()
	events := memory.NewEventStore()
	event := seedEvent(t, events, models.EventSIMChanged)

	d := NewDispatcher(testConfig(), []Channel{&fakeChannel{name: ChannelPush}}, users, events, memory.NewNotifyLimiter())

	_, err := d.Dispatch(context.Background(), event)
	require.ErrorIs(t, err, ErrUnknownUser)

	stored, err := events.GetEvent(context.Background(), event.EventID)
	require.NoError(t, err)
	require.False(t, stored.Processed)
	require.NotEmpty(t, stored.DispatchErr)
}

func TestDispatchMalformedEvent(t *testing.T) {
	d := NewDispatcher(testConfig(), nil, memory.NewUserStore(), memory.NewEventStore(), memory.NewNotifyLimiter())

	_, err := d.Dispatch(context.Background(), &models.SecurityEvent{EventID: "evt-1"})
	require.ErrorIs(t, err, ErrMalformedEvent)
}

func TestDispatchChannelTimeout(t *testing.T) {
	users := memory.NewUserStore()
	events := memory.NewEventStore()
	seedUser(t, users, nil)

	slow := &fakeChannel{name: ChannelPush, block: true}
	d := NewDispatcher(testConfig(), []Channel{slow}, users, events, memory.NewNotifyLimiter())

	event := seedEvent(t, events, models.EventSIMChanged)
	outcomes, err := d.Dispatch(context.Background(), event)
	require.NoError(t, err)
	require.False(t, outcomes[0].Sent)
	require.Equal(t, "timeout", outcomes[0].Error)

	stored, err := events.GetEvent(context.Background(), event.EventID)
	require.NoError(t, err)
	require.True(t, stored.Processed)
}

func TestSendSummaryPushOnly(t *testing.T) {
	users := memory.NewUserStore()
	seedUser(t, users, nil)

	push := &fakeChannel{name: ChannelPush}
	message := &fakeChannel{name: ChannelMessage, critical: true}
	d := NewDispatcher(testConfig(), []Channel{push, message}, users, memory.NewEventStore(), memory.NewNotifyLimiter())

	end := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	session := &models.TrackingSession{
		SessionID:   "sess-1",
		DeviceID:    "dev-1",
		UserID:      "user-1",
		AlertType:   models.EventSIMChanged,
		StartTime:   end.Add(-24 * time.Hour),
		EndTime:     &end,
		CloseReason: models.CloseReasonAgeLimit,
		Locations:   []models.LocationPoint{{Lat: 1, Lng: 2, Timestamp: end.Add(-time.Hour)}},
	}

	d.SendSummary(context.Background(), session)

	require.Equal(t, 1, push.sent())
	require.Zero(t, message.sent())

	payload := push.sends[0]
	require.Equal(t, "session_summary", payload.Kind)
	require.NotNil(t, payload.Summary)
	require.Equal(t, 1, payload.Summary.PointCount)
	require.Equal(t, models.CloseReasonAgeLimit, payload.Summary.CloseReason)
}
