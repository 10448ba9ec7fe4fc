package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"powerguard-service/internal/client"
	"powerguard-service/internal/util"
)

const notifyLimitPrefix = "notify_limit:"

// NotifyLimiter enforces the per-user minimum inter-send interval of a
// channel with a SETNX slot key: whoever sets the key owns the window.
type NotifyLimiter struct {
	client *client.RedisClient
}

func NewNotifyLimiter(client *client.RedisClient) *NotifyLimiter {
	return &NotifyLimiter{client: client}
}

func (l *NotifyLimiter) Allow(ctx context.Context, userID, channel string, interval time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := fmt.Sprintf("%s%s:%s", notifyLimitPrefix, userID, channel)

	allowed, err := l.client.SetNX(ctx, key, "sent", interval)
	if err != nil {
		util.Error("Failed to reserve notify slot",
			zap.String("user_id", userID),
			zap.String("channel", channel),
			zap.Error(err))
		return false, fmt.Errorf("failed to reserve notify slot: %w", err)
	}

	util.Debug("Notify slot checked",
		zap.String("user_id", userID),
		zap.String("channel", channel),
		zap.Bool("allowed", allowed),
		zap.Duration("interval", interval))

	return allowed, nil
}
