package models

import (
	"time"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair returned on login and on every successful rotation
// Access is zero valued when no signer is configured
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
