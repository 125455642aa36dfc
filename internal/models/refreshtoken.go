package models

import (
	"time"

	"github.com/google/uuid"
)

// Reason the token was revoked with. Set once, never cleared
type RevokeReason string

const (
	// Token was exchanged for its successor during normal rotation
	ReasonRotated RevokeReason = "rotated"

	// Token family was terminated because an already-revoked member was presented again
	ReasonTheftDetected RevokeReason = "theft_detected"

	// User or administrator terminated the session explicitly
	ReasonManualRevoke RevokeReason = "manual_revoke"
)

// Descriptive request metadata recorded on the token
// Display and audit only, never an authorization input on its own
type DeviceInfo struct {
	IP          string
	UserAgent   string
	Fingerprint string
	Name        string
}

// Merge returns d with empty fields filled from fallback
// Fresher values win, stored metadata fills the gaps
func (d DeviceInfo) Merge(fallback DeviceInfo) DeviceInfo {
	if d.IP == "" {
		d.IP = fallback.IP
	}
	if d.UserAgent == "" {
		d.UserAgent = fallback.UserAgent
	}
	if d.Fingerprint == "" {
		d.Fingerprint = fallback.Fingerprint
	}
	if d.Name == "" {
		d.Name = fallback.Name
	}
	return d
}

type RefreshToken struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	TenantID *uuid.UUID // nil for single-tenant installations

	// Secret token value. Unique across all rows, live or revoked
	Value string

	// All tokens descended from one login share the family
	// The family is the user facing "session" id
	Family uuid.UUID

	CreatedAt time.Time
	ExpiresAt time.Time

	Device DeviceInfo

	// Revocation fields, nil/empty until the single revocation write
	RevokedAt   *time.Time
	RevokedByIP string
	Reason      RevokeReason
	ReplacedBy  string // successor value, set only when Reason is ReasonRotated
}

func (t RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

// Revocation describes the one-way transition applied to a token row
type Revocation struct {
	At         time.Time
	ByIP       string
	Reason     RevokeReason
	ReplacedBy string
}
