package alert

import (
	"context"
	"time"

	"powerguard-service/internal/models"
)

const (
	ChannelPush    = "push"
	ChannelMessage = "message"
)

// Payload is the structured data handed to a channel. Rendering (templates,
// localization) happens on the far side of the channel; this service never
// formats final content.
type Payload struct {
	Kind      string           `json:"kind"`
	EventID   string           `json:"event_id,omitempty"`
	DeviceID  string           `json:"device_id"`
	UserID    string           `json:"user_id"`
	AlertType models.EventType `json:"alert_type,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Details   string           `json:"details,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Summary   *SessionSummary  `json:"summary,omitempty"`
}

// SessionSummary is attached to the payload sent when a tracking session
// auto-expires or is closed.
type SessionSummary struct {
	SessionID   string                `json:"session_id"`
	StartTime   time.Time             `json:"start_time"`
	EndTime     time.Time             `json:"end_time"`
	CloseReason string                `json:"close_reason"`
	PointCount  int                   `json:"point_count"`
	LastKnown   *models.LocationPoint `json:"last_known,omitempty"`
}

// Channel is a narrow outbound notification capability. Critical reports
// whether the channel belongs to the critical-only set (eligible solely for
// theft-grade alert types); MinInterval is the per-user minimum inter-send
// interval, zero for unlimited.
type Channel interface {
	Name() string
	Critical() bool
	MinInterval() time.Duration
	Send(ctx context.Context, recipient models.GuardianContact, payload *Payload) error
}
