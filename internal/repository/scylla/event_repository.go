package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"powerguard-service/internal/models"
	"powerguard-service/internal/repository"
	"powerguard-service/internal/util"
)

type EventRepository struct {
	client *ScyllaClient
}

func NewEventRepository(client *ScyllaClient) *EventRepository {
	return &EventRepository{client: client}
}

func (r *EventRepository) SaveEvent(ctx context.Context, event *models.SecurityEvent) error {
	query := r.client.Prepared.SaveEvent.Bind(
		event.EventID, event.EventBucket, event.EventDate, event.EventTime,
		string(event.EventType), event.DeviceID, event.UserID, event.SessionID,
		event.Details, event.Processed, event.DispatchErr).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to save security event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(event.EventType)),
			zap.Error(err))
		return fmt.Errorf("failed to save security event: %w", err)
	}

	util.Info("Security event saved",
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.EventType)),
		zap.String("device_id", event.DeviceID))

	return nil
}

func (r *EventRepository) GetEvent(ctx context.Context, eventID string) (*models.SecurityEvent, error) {
	event := &models.SecurityEvent{}
	var eventType string

	query := r.client.Prepared.GetEvent.Bind(eventID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&event.EventID, &event.EventBucket, &event.EventDate, &event.EventTime,
		&eventType, &event.DeviceID, &event.UserID, &event.SessionID,
		&event.Details, &event.Processed, &event.DispatchErr)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		util.Error("Failed to get security event",
			zap.String("event_id", eventID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get security event: %w", err)
	}

	event.EventType = models.EventType(eventType)

	outcomes, err := r.getOutcomes(ctx, eventID)
	if err != nil {
		return nil, err
	}
	event.Outcomes = outcomes

	return event, nil
}

func (r *EventRepository) getOutcomes(ctx context.Context, eventID string) ([]models.NotificationOutcome, error) {
	iter := r.client.Prepared.GetOutcomes.Bind(eventID).WithContext(ctx).Iter()

	var outcomes []models.NotificationOutcome
	var outcome models.NotificationOutcome
	var sentAt time.Time
	for iter.Scan(&outcome.EventID, &outcome.Channel, &outcome.Sent,
		&sentAt, &outcome.SkippedReason, &outcome.Error) {
		if !sentAt.IsZero() {
			at := sentAt
			outcome.SentAt = &at
		} else {
			outcome.SentAt = nil
		}
		outcomes = append(outcomes, outcome)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list notification outcomes",
			zap.String("event_id", eventID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list notification outcomes: %w", err)
	}

	return outcomes, nil
}

func (r *EventRepository) AttachSession(ctx context.Context, eventID, sessionID string) error {
	query := r.client.Prepared.AttachSession.Bind(sessionID, eventID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to attach session to event",
			zap.String("event_id", eventID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to attach session to event: %w", err)
	}

	return nil
}

func (r *EventRepository) AppendOutcomes(ctx context.Context, eventID string, outcomes []models.NotificationOutcome) error {
	for _, outcome := range outcomes {
		var sentAt time.Time
		if outcome.SentAt != nil {
			sentAt = *outcome.SentAt
		}

		query := r.client.Prepared.AppendOutcome.Bind(
			eventID, outcome.Channel, outcome.Sent, sentAt,
			outcome.SkippedReason, outcome.Error).WithContext(ctx)

		if err := r.client.ExecuteWithRetry(query, 2); err != nil {
			util.Error("Failed to append notification outcome",
				zap.String("event_id", eventID),
				zap.String("channel", outcome.Channel),
				zap.Error(err))
			return fmt.Errorf("failed to append notification outcome: %w", err)
		}
	}

	return nil
}

func (r *EventRepository) MarkProcessed(ctx context.Context, eventID string, processed bool, dispatchErr string) error {
	query := r.client.Prepared.MarkProcessed.Bind(processed, dispatchErr, eventID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to mark event processed",
			zap.String("event_id", eventID),
			zap.Error(err))
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	return nil
}
