package models

import "time"

type CredentialKind string

const (
	CredentialPIN      CredentialKind = "PIN"
	CredentialPassword CredentialKind = "PASSWORD"
)

type Credential struct {
	DeviceID   string         `db:"device_id"`
	UserID     string         `db:"user_id"`
	Kind       CredentialKind `db:"kind"`
	Salt       string         `db:"salt"`
	Hash       string         `db:"hash"`
	Iterations int            `db:"iterations"`
	Algorithm  string         `db:"algorithm"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}
