package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"powerguard-service/internal/models"
	"powerguard-service/internal/repository"
	"powerguard-service/internal/util"
)

// UserRepository stores users with guardian contacts and opt-outs serialized
// as JSON text columns.
type UserRepository struct {
	client *ScyllaClient
}

func NewUserRepository(client *ScyllaClient) *UserRepository {
	return &UserRepository{client: client}
}

func (r *UserRepository) SaveUser(ctx context.Context, user *models.User) error {
	contacts, err := json.Marshal(user.Contacts)
	if err != nil {
		return fmt.Errorf("failed to marshal contacts: %w", err)
	}
	optOuts, err := json.Marshal(user.ChannelOptOuts)
	if err != nil {
		return fmt.Errorf("failed to marshal opt-outs: %w", err)
	}

	query := r.client.Prepared.SaveUser.Bind(
		user.UserID, user.DeviceID, user.DisplayName,
		string(contacts), string(optOuts), user.CreatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to save user",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to save user: %w", err)
	}

	util.Info("User saved", zap.String("user_id", user.UserID))
	return nil
}

func (r *UserRepository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user := &models.User{}
	var contacts, optOuts string

	query := r.client.Prepared.GetUser.Bind(userID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&user.UserID, &user.DeviceID, &user.DisplayName,
		&contacts, &optOuts, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		util.Error("Failed to get user",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if contacts != "" {
		if err := json.Unmarshal([]byte(contacts), &user.Contacts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal contacts: %w", err)
		}
	}
	if optOuts != "" {
		if err := json.Unmarshal([]byte(optOuts), &user.ChannelOptOuts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal opt-outs: %w", err)
		}
	}

	return user, nil
}
