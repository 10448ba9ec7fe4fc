package models

import "time"

const (
	DeviceStatusNormal        = "normal"
	DeviceStatusSecurityAlert = "security_alert"
)

type DeviceStatus struct {
	DeviceID      string     `db:"device_id"`
	Status        string     `db:"status"`
	LastAlert     *time.Time `db:"last_alert"`
	LastAlertType EventType  `db:"last_alert_type"`
	UpdatedAt     time.Time  `db:"updated_at"`
}
