package models

import (
	"time"

	"github.com/google/uuid"
)

// One user visible session. Collapses a whole token family into a single row
// built from the newest active member of the family
type Session struct {
	// Family id doubles as the session id the caller may revoke
	Family uuid.UUID

	DeviceName string
	UserAgent  string
	IP         string

	CreatedAt time.Time
	ExpiresAt time.Time

	// True when the session contains the token the caller presented
	Current bool
}
