package models

import "time"

const (
	SkipReasonRateLimit   = "rate_limit"
	SkipReasonDisabled    = "disabled_by_user"
	SkipReasonPolicy      = "not_eligible"
	SkipReasonNoRecipient = "no_recipient"
)

// NotificationOutcome is the append-only per-channel audit record of one
// dispatch attempt for one event.
type NotificationOutcome struct {
	EventID       string     `db:"event_id"`
	Channel       string     `db:"channel"`
	Sent          bool       `db:"sent"`
	SentAt        *time.Time `db:"sent_at"`
	SkippedReason string     `db:"skipped_reason"`
	Error         string     `db:"error"`
}
