package models

import "time"

const (
	CloseReasonAgeLimit = "age_limit"
	CloseReasonManual   = "manual"
)

type TrackingSession struct {
	SessionID      string          `db:"session_id"`
	DeviceID       string          `db:"device_id"`
	UserID         string          `db:"user_id"`
	AlertType      EventType       `db:"alert_type"`
	CreationBucket int64           `db:"creation_bucket"`
	Active         bool            `db:"active"`
	StartTime      time.Time       `db:"start_time"`
	EndTime        *time.Time      `db:"end_time"`
	CloseReason    string          `db:"close_reason"`
	Locations      []LocationPoint `db:"-"`
	LastLocation   *LocationPoint  `db:"-"`
}

// Age returns how long the session has been open (or was open, if closed).
func (s *TrackingSession) Age(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}
