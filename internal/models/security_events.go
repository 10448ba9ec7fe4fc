package models

import "time"

type EventType string

const (
	EventUnauthorizedPoweroff EventType = "UNAUTHORIZED_POWEROFF"
	EventSIMChanged           EventType = "SIM_CHANGED"
	EventFailedAuthThreshold  EventType = "FAILED_AUTH_THRESHOLD"
	EventAppUninstallAttempt  EventType = "APP_UNINSTALL_ATTEMPT"
	EventDeviceAdminRemoved   EventType = "DEVICE_ADMIN_REMOVED"
)

// IsCritical reports whether the type belongs to the theft-grade set that is
// eligible for every notification channel and opens a tracking session.
func (t EventType) IsCritical() bool {
	switch t {
	case EventUnauthorizedPoweroff, EventSIMChanged, EventFailedAuthThreshold:
		return true
	}
	return false
}

type SecurityEvent struct {
	EventID     string    `db:"event_id"`
	EventBucket int       `db:"event_bucket"`
	EventDate   string    `db:"event_date"`
	EventTime   time.Time `db:"event_time"`
	EventType   EventType `db:"event_type"`
	DeviceID    string    `db:"device_id"`
	UserID      string    `db:"user_id"`
	SessionID   string    `db:"session_id"`
	Details     string    `db:"details"`
	Processed   bool      `db:"processed"`
	DispatchErr string    `db:"dispatch_err"`

	Outcomes []NotificationOutcome `db:"-"`
}
