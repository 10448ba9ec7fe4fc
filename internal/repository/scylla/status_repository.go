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

type StatusRepository struct {
	client *ScyllaClient
}

func NewStatusRepository(client *ScyllaClient) *StatusRepository {
	return &StatusRepository{client: client}
}

func (r *StatusRepository) UpsertStatus(ctx context.Context, status *models.DeviceStatus) error {
	query := r.client.Prepared.UpsertStatus.Bind(
		status.DeviceID, status.Status, timeOrZero(status.LastAlert),
		string(status.LastAlertType), status.UpdatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to upsert device status",
			zap.String("device_id", status.DeviceID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert device status: %w", err)
	}

	return nil
}

func (r *StatusRepository) GetStatus(ctx context.Context, deviceID string) (*models.DeviceStatus, error) {
	status := &models.DeviceStatus{}
	var lastAlert time.Time
	var lastAlertType string

	query := r.client.Prepared.GetStatus.Bind(deviceID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&status.DeviceID, &status.Status, &lastAlert, &lastAlertType, &status.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		util.Error("Failed to get device status",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get device status: %w", err)
	}

	if !lastAlert.IsZero() {
		status.LastAlert = &lastAlert
	}
	status.LastAlertType = models.EventType(lastAlertType)

	return status, nil
}
