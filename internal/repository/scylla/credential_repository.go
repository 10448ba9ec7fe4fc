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

type CredentialRepository struct {
	client *ScyllaClient
}

func NewCredentialRepository(client *ScyllaClient) *CredentialRepository {
	return &CredentialRepository{client: client}
}

func (r *CredentialRepository) SaveCredential(ctx context.Context, cred *models.Credential) error {
	query := r.client.Prepared.SaveCredential.Bind(
		cred.DeviceID, string(cred.Kind), cred.UserID, cred.Salt, cred.Hash,
		cred.Iterations, cred.Algorithm, cred.CreatedAt, cred.UpdatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to save credential",
			zap.String("device_id", cred.DeviceID),
			zap.String("kind", string(cred.Kind)),
			zap.Error(err))
		return fmt.Errorf("failed to save credential: %w", err)
	}

	util.Info("Credential saved",
		zap.String("device_id", cred.DeviceID),
		zap.String("kind", string(cred.Kind)))

	return nil
}

func (r *CredentialRepository) GetCredential(ctx context.Context, deviceID string, kind models.CredentialKind) (*models.Credential, error) {
	cred := &models.Credential{}
	var kindStr string

	query := r.client.Prepared.GetCredential.Bind(deviceID, string(kind)).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&cred.DeviceID, &kindStr, &cred.UserID, &cred.Salt, &cred.Hash,
		&cred.Iterations, &cred.Algorithm, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		util.Error("Failed to get credential",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	cred.Kind = models.CredentialKind(kindStr)
	return cred, nil
}

func (r *CredentialRepository) GetAttemptState(ctx context.Context, deviceID string) (*models.AttemptState, error) {
	state := &models.AttemptState{}
	var lastAttempt, lockoutUntil time.Time

	query := r.client.Prepared.GetAttemptState.Bind(deviceID).WithContext(ctx)

	err := query.Scan(&state.DeviceID, &state.FailedCount, &lastAttempt, &lockoutUntil)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			// No attempts recorded yet
			return &models.AttemptState{DeviceID: deviceID}, nil
		}
		util.Error("Failed to get attempt state",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get attempt state: %w", err)
	}

	if !lastAttempt.IsZero() {
		state.LastAttemptAt = &lastAttempt
	}
	if !lockoutUntil.IsZero() {
		state.LockoutUntil = &lockoutUntil
	}

	return state, nil
}

func (r *CredentialRepository) SaveAttemptState(ctx context.Context, state *models.AttemptState) error {
	var lastAttempt, lockoutUntil time.Time
	if state.LastAttemptAt != nil {
		lastAttempt = *state.LastAttemptAt
	}
	if state.LockoutUntil != nil {
		lockoutUntil = *state.LockoutUntil
	}

	query := r.client.Prepared.SaveAttempts.Bind(
		state.DeviceID, state.FailedCount, lastAttempt, lockoutUntil).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to save attempt state",
			zap.String("device_id", state.DeviceID),
			zap.Error(err))
		return fmt.Errorf("failed to save attempt state: %w", err)
	}

	return nil
}
