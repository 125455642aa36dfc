package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/avasiliev/tokenguard/internal/models"
)

// TokenStore persists refresh token rows
//
// Revocation methods must be conditional writes: a row is revoked only if it
// is not revoked yet, and the fields are never overwritten afterwards. That
// single-row compare-and-set is what keeps concurrent rotation safe
type TokenStore interface {
	// Save new token row
	// If a row with the same value exists must return apperrors.ErrTokenValueTaken
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the row whatever its state (revoked and expired rows included)
	// If the value is unknown must return apperrors.ErrTokenNotFound
	GetByValue(ctx context.Context, value string) (models.RefreshToken, error)

	// All non-revoked rows of the user expiring after 'now', newest first
	ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error)

	// Every row of the family, newest first
	ListByFamily(ctx context.Context, family uuid.UUID) ([]models.RefreshToken, error)

	// Set revocation fields if the row is not revoked yet and return the row
	// If the row is revoked already must keep it untouched and return it with
	// apperrors.ErrTokenAlreadyRevoked
	// If the value is unknown must return apperrors.ErrTokenNotFound
	Revoke(ctx context.Context, value string, rev models.Revocation) (models.RefreshToken, error)

	// Revoke every still active row of the family, return rows touched
	// Revoking a fully revoked family is a no-op, not an error
	RevokeFamily(ctx context.Context, family uuid.UUID, rev models.Revocation) (int64, error)

	// Revoke every active row of the user across all families
	// exceptFamily, when not nil, keeps that one family untouched
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, exceptFamily *uuid.UUID, rev models.Revocation) (int64, error)

	// Remove revoked rows whose expiry is before the cutoff
	// Retention sweep only, normal operation never deletes rows
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Storage aggregates repositories and allows to run them in one transaction
type Storage interface {
	Tokens() TokenStore

	InTx(ctx context.Context, fn func(Storage) error) error
}
