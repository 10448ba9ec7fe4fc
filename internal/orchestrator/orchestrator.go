// Package orchestrator coordinates the escalation pipeline: a security event
// comes in (from the credential gate or a device trigger), gets persisted,
// opens a tracking session when the type warrants one, and is fanned out to
// the notification channels. The device-status projection and the audit sink
// are updated along the way.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"powerguard-service/internal/alert"
	"powerguard-service/internal/audit"
	"powerguard-service/internal/bucketing"
	"powerguard-service/internal/models"
	"powerguard-service/internal/repository"
	"powerguard-service/internal/tracking"
	"powerguard-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidTrigger = errors.New("invalid trigger")

var validTriggerTypes = map[models.EventType]bool{
	models.EventUnauthorizedPoweroff: true,
	models.EventSIMChanged:           true,
	models.EventAppUninstallAttempt:  true,
	models.EventDeviceAdminRemoved:   true,
}

type Orchestrator struct {
	events     repository.EventRepository
	status     repository.StatusRepository
	dispatcher *alert.Dispatcher
	tracker    *tracking.Manager
	buckets    *bucketing.BucketingManager
	auditSink  audit.Sink
	nowFn      func() time.Time
}

func New(events repository.EventRepository, status repository.StatusRepository, dispatcher *alert.Dispatcher, tracker *tracking.Manager, buckets *bucketing.BucketingManager, auditSink audit.Sink) *Orchestrator {
	if auditSink == nil {
		auditSink = audit.NopSink{}
	}
	return &Orchestrator{
		events:     events,
		status:     status,
		dispatcher: dispatcher,
		tracker:    tracker,
		buckets:    buckets,
		auditSink:  auditSink,
		nowFn:      time.Now,
	}
}

func (o *Orchestrator) WithClock(nowFn func() time.Time) *Orchestrator {
	o.nowFn = nowFn
	return o
}

// Trigger builds and processes a device-reported security event. The event id
// is generated here; retries at the transport layer land on HandleEvent's
// idempotency check instead.
func (o *Orchestrator) Trigger(ctx context.Context, eventType models.EventType, deviceID, userID, details string) (*models.SecurityEvent, error) {
	if !validTriggerTypes[eventType] {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidTrigger, eventType)
	}
	if deviceID == "" || userID == "" {
		return nil, fmt.Errorf("%w: device and user are required", ErrInvalidTrigger)
	}

	now := o.nowFn()
	event := &models.SecurityEvent{
		EventID:     uuid.New().String(),
		EventBucket: o.buckets.GetEventBucket(deviceID),
		EventDate:   o.buckets.GetDateBucket(now),
		EventTime:   now.UTC(),
		EventType:   eventType,
		DeviceID:    deviceID,
		UserID:      userID,
		Details:     details,
	}

	if err := o.HandleEvent(ctx, event); err != nil {
		return event, err
	}
	return event, nil
}

// HandleEvent runs one event through the pipeline. Re-delivery of an already
// processed event id is a no-op. The event is marked processed only after
// every channel attempt has resolved.
func (o *Orchestrator) HandleEvent(ctx context.Context, event *models.SecurityEvent) error {
	existing, err := o.events.GetEvent(ctx, event.EventID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to check for duplicate event: %w", err)
	}
	if existing != nil && existing.Processed {
		util.Info("Duplicate event ignored",
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(event.EventType)))
		*event = *existing
		return nil
	}

	if err := o.events.SaveEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	if event.EventType.IsCritical() {
		session, err := o.tracker.Open(ctx, event.DeviceID, event.UserID, event.EventType)
		if err != nil {
			// Tracking is additive; the alert still goes out.
			util.Error("Failed to open tracking session",
				zap.String("event_id", event.EventID),
				zap.String("device_id", event.DeviceID),
				zap.Error(err))
		} else {
			event.SessionID = session.SessionID
			if err := o.events.AttachSession(ctx, event.EventID, session.SessionID); err != nil {
				util.Error("Failed to attach session to event",
					zap.String("event_id", event.EventID),
					zap.Error(err))
			}
		}
	}

	o.projectStatus(ctx, event)

	_, dispatchErr := o.dispatcher.Dispatch(ctx, event)

	o.auditSink.RecordEvent(ctx, event)

	if dispatchErr != nil {
		return fmt.Errorf("dispatch failed: %w", dispatchErr)
	}
	return nil
}

func (o *Orchestrator) projectStatus(ctx context.Context, event *models.SecurityEvent) {
	now := o.nowFn().UTC()
	alertAt := event.EventTime

	status := &models.DeviceStatus{
		DeviceID:      event.DeviceID,
		Status:        models.DeviceStatusSecurityAlert,
		LastAlert:     &alertAt,
		LastAlertType: event.EventType,
		UpdatedAt:     now,
	}

	if err := o.status.UpsertStatus(ctx, status); err != nil {
		util.Error("Failed to update device status",
			zap.String("device_id", event.DeviceID),
			zap.Error(err))
	}
}

// DeviceStatus returns the status projection, defaulting to normal when no
// alert has ever fired for the device.
func (o *Orchestrator) DeviceStatus(ctx context.Context, deviceID string) (*models.DeviceStatus, error) {
	status, err := o.status.GetStatus(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &models.DeviceStatus{
				DeviceID: deviceID,
				Status:   models.DeviceStatusNormal,
			}, nil
		}
		return nil, fmt.Errorf("failed to load device status: %w", err)
	}
	return status, nil
}

// Event returns a persisted event with its notification outcomes.
func (o *Orchestrator) Event(ctx context.Context, eventID string) (*models.SecurityEvent, error) {
	event, err := o.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return event, nil
}
