package models

import "time"

// AttemptState tracks consecutive credential failures per device.
// LockoutUntil is nil unless a lockout is in force; it is cleared together
// with FailedCount only on a successful verification.
type AttemptState struct {
	DeviceID      string     `db:"device_id"`
	FailedCount   uint       `db:"failed_count"`
	LastAttemptAt *time.Time `db:"last_attempt_at"`
	LockoutUntil  *time.Time `db:"lockout_until"`
}
