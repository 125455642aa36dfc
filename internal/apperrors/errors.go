package apperrors

import (
	"errors"
)

var (
	// Presented token value is unknown, the caller has to authenticate again
	ErrTokenNotFound = errors.New("refresh token not found")

	// Token exists but its lifetime is over. Benign: no theft response
	ErrTokenExpired = errors.New("refresh token is expired")

	// Token exists and was revoked before (rotated, stolen or manually revoked)
	// Presenting it again is the strongest theft signal available
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")

	// Conditional revoke found the row revoked already
	ErrTokenAlreadyRevoked = errors.New("refresh token is already revoked")

	// Generated token value collided with an existing row
	// Internal only: the engine retries generation and never surfaces it
	ErrTokenValueTaken = errors.New("refresh token value already exists")

	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionForbidden = errors.New("session belongs to a different user")
)
