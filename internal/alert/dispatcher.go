package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"powerguard-service/internal/config"
	"powerguard-service/internal/models"
	"powerguard-service/internal/repository"
	"powerguard-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrMalformedEvent = errors.New("event missing required identifiers")
	ErrUnknownUser    = errors.New("no user record for event")
)

// Dispatcher fans one security event out to every configured channel. Each
// channel runs independently under its own timeout; per-channel failures are
// recorded, never raised. Only a structural problem (malformed event, unknown
// user) aborts the dispatch as a whole.
type Dispatcher struct {
	channels []Channel
	users    repository.UserRepository
	events   repository.EventRepository
	limiter  repository.NotifyLimiter

	channelTimeout time.Duration
	nowFn          func() time.Time
}

func NewDispatcher(cfg *config.Config, channels []Channel, users repository.UserRepository, events repository.EventRepository, limiter repository.NotifyLimiter) *Dispatcher {
	return &Dispatcher{
		channels:       channels,
		users:          users,
		events:         events,
		limiter:        limiter,
		channelTimeout: cfg.Security.ChannelTimeout,
		nowFn:          time.Now,
	}
}

// WithClock overrides the clock used for SentAt stamps.
func (d *Dispatcher) WithClock(nowFn func() time.Time) *Dispatcher {
	d.nowFn = nowFn
	return d
}

// Dispatch runs all channel attempts for the event, persists the outcomes,
// and marks the event processed once every attempt has resolved. The returned
// error is non-nil only for unrecoverable failures, in which case the event
// is marked unprocessed with the error attached.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.SecurityEvent) ([]models.NotificationOutcome, error) {
	if event.EventID == "" || event.DeviceID == "" || event.UserID == "" {
		return nil, ErrMalformedEvent
	}

	user, err := d.users.GetUser(ctx, event.UserID)
	if err != nil {
		dispatchErr := ErrUnknownUser
		if !errors.Is(err, repository.ErrNotFound) {
			dispatchErr = fmt.Errorf("failed to load user: %w", err)
		}
		if markErr := d.events.MarkProcessed(ctx, event.EventID, false, dispatchErr.Error()); markErr != nil {
			util.Error("Failed to record dispatch failure",
				zap.String("event_id", event.EventID),
				zap.Error(markErr))
		}
		event.Processed = false
		event.DispatchErr = dispatchErr.Error()
		return nil, dispatchErr
	}

	outcomes := make([]models.NotificationOutcome, len(d.channels))

	// Channels run in parallel; a slow or failing channel never blocks or
	// aborts its siblings.
	var g errgroup.Group
	for i, ch := range d.channels {
		i, ch := i, ch
		g.Go(func() error {
			outcomes[i] = d.attemptChannel(ctx, ch, user, event)
			return nil
		})
	}
	_ = g.Wait()

	if err := d.events.AppendOutcomes(ctx, event.EventID, outcomes); err != nil {
		util.Error("Failed to persist notification outcomes",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
	if err := d.events.MarkProcessed(ctx, event.EventID, true, ""); err != nil {
		util.Error("Failed to mark event processed",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}

	event.Outcomes = append(event.Outcomes, outcomes...)
	event.Processed = true

	return outcomes, nil
}

func (d *Dispatcher) attemptChannel(ctx context.Context, ch Channel, user *models.User, event *models.SecurityEvent) models.NotificationOutcome {
	outcome := models.NotificationOutcome{EventID: event.EventID, Channel: ch.Name()}

	if ch.Critical() && !event.EventType.IsCritical() {
		outcome.SkippedReason = models.SkipReasonPolicy
		return outcome
	}

	if user.ChannelDisabled(event.EventType, ch.Name()) {
		outcome.SkippedReason = models.SkipReasonDisabled
		return outcome
	}

	if interval := ch.MinInterval(); interval > 0 {
		allowed, err := d.limiter.Allow(ctx, user.UserID, ch.Name(), interval)
		if err != nil {
			// Rate limiter trouble must not suppress the alert.
			util.Warn("Notify limiter unavailable, sending anyway",
				zap.String("channel", ch.Name()),
				zap.Error(err))
		} else if !allowed {
			outcome.SkippedReason = models.SkipReasonRateLimit
			util.Info("Channel send rate limited",
				zap.String("event_id", event.EventID),
				zap.String("channel", ch.Name()),
				zap.String("user_id", user.UserID))
			return outcome
		}
	}

	contacts := user.ContactsFor(ch.Name())
	if len(contacts) == 0 {
		outcome.SkippedReason = models.SkipReasonNoRecipient
		return outcome
	}

	payload := &Payload{
		Kind:      "alert",
		EventID:   event.EventID,
		DeviceID:  event.DeviceID,
		UserID:    event.UserID,
		AlertType: event.EventType,
		SessionID: event.SessionID,
		Details:   event.Details,
		Timestamp: event.EventTime,
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.channelTimeout)
	defer cancel()

	var sendErr error
	for _, contact := range contacts {
		if err := ch.Send(sendCtx, contact, payload); err != nil {
			sendErr = err
		}
	}

	if sendErr != nil {
		if errors.Is(sendErr, context.DeadlineExceeded) {
			outcome.Error = "timeout"
		} else {
			outcome.Error = sendErr.Error()
		}
		util.Error("Channel delivery failed",
			zap.String("event_id", event.EventID),
			zap.String("channel", ch.Name()),
			zap.Error(sendErr))
		return outcome
	}

	now := d.nowFn().UTC()
	outcome.Sent = true
	outcome.SentAt = &now
	return outcome
}

// SendSummary pushes a session summary to the user's push contacts. It is
// best-effort: failures are logged, not returned.
func (d *Dispatcher) SendSummary(ctx context.Context, session *models.TrackingSession) {
	user, err := d.users.GetUser(ctx, session.UserID)
	if err != nil {
		util.Warn("Cannot send session summary without user record",
			zap.String("session_id", session.SessionID),
			zap.Error(err))
		return
	}

	endTime := d.nowFn().UTC()
	if session.EndTime != nil {
		endTime = *session.EndTime
	}

	payload := &Payload{
		Kind:      "session_summary",
		DeviceID:  session.DeviceID,
		UserID:    session.UserID,
		AlertType: session.AlertType,
		SessionID: session.SessionID,
		Timestamp: endTime,
		Summary: &SessionSummary{
			SessionID:   session.SessionID,
			StartTime:   session.StartTime,
			EndTime:     endTime,
			CloseReason: session.CloseReason,
			PointCount:  len(session.Locations),
			LastKnown:   session.LastLocation,
		},
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.channelTimeout)
	defer cancel()

	for _, ch := range d.channels {
		if ch.Name() != ChannelPush {
			continue
		}
		for _, contact := range user.ContactsFor(ch.Name()) {
			if err := ch.Send(sendCtx, contact, payload); err != nil {
				util.Error("Session summary delivery failed",
					zap.String("session_id", session.SessionID),
					zap.Error(err))
			}
		}
	}
}
