package memory

import (
	"context"
	"sync"
	"time"
)

// NotifyLimiter tracks the last reserved send per user/channel in process.
type NotifyLimiter struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
	nowFn    func() time.Time
}

func NewNotifyLimiter() *NotifyLimiter {
	return &NotifyLimiter{
		lastSent: make(map[string]time.Time),
		nowFn:    time.Now,
	}
}

// WithClock overrides the clock; tests use this to walk the interval window.
func (l *NotifyLimiter) WithClock(nowFn func() time.Time) *NotifyLimiter {
	l.nowFn = nowFn
	return l
}

func (l *NotifyLimiter) Allow(_ context.Context, userID, channel string, interval time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := userID + "/" + channel
	now := l.nowFn()
	if last, ok := l.lastSent[key]; ok && now.Sub(last) < interval {
		return false, nil
	}
	l.lastSent[key] = now
	return true, nil
}
