package models

import "time"

// GuardianContact is one reachable recipient for a notification channel.
type GuardianContact struct {
	Channel string `db:"channel" json:"channel"`
	Address string `db:"address" json:"address"`
	Name    string `db:"name" json:"name"`
}

// User is the owner of a protected device together with the guardians to be
// alerted on escalation. ChannelOptOuts maps alert type -> channels the user
// disabled for that type.
type User struct {
	UserID         string              `db:"user_id"`
	DeviceID       string              `db:"device_id"`
	DisplayName    string              `db:"display_name"`
	Contacts       []GuardianContact   `db:"contacts"`
	ChannelOptOuts map[string][]string `db:"channel_opt_outs"`
	CreatedAt      time.Time           `db:"created_at"`
}

// ChannelDisabled reports whether the user opted the channel out for the
// given alert type.
func (u *User) ChannelDisabled(alertType EventType, channel string) bool {
	if u.ChannelOptOuts == nil {
		return false
	}
	for _, c := range u.ChannelOptOuts[string(alertType)] {
		if c == channel {
			return true
		}
	}
	return false
}

// ContactsFor returns the guardian contacts registered for a channel.
func (u *User) ContactsFor(channel string) []GuardianContact {
	var out []GuardianContact
	for _, c := range u.Contacts {
		if c.Channel == channel {
			out = append(out, c)
		}
	}
	return out
}
