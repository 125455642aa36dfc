package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/avasiliev/tokenguard/internal/apperrors"
	"github.com/avasiliev/tokenguard/internal/models"
)

type TokenRepo struct {
	DB DBTX
}

const tokenColumns = `id, user_id, tenant_id, value, family, created_at, expires_at,
	ip, user_agent, device_fingerprint, device_name,
	revoked_at, revoked_by_ip, reason, replaced_by`

func rowToToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.TenantID, &t.Value, &t.Family, &t.CreatedAt, &t.ExpiresAt,
		&t.Device.IP, &t.Device.UserAgent, &t.Device.Fingerprint, &t.Device.Name,
		&t.RevokedAt, &t.RevokedByIP, &t.Reason, &t.ReplacedBy,
	)
	return t, err
}

const saveToken = `-- name: SaveToken
INSERT INTO refresh_tokens (id, user_id, tenant_id, value, family, created_at, expires_at,
	ip, user_agent, device_fingerprint, device_name)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + tokenColumns

func (r *TokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, saveToken,
		token.ID, token.UserID, token.TenantID, token.Value, token.Family,
		token.CreatedAt, token.ExpiresAt,
		token.Device.IP, token.Device.UserAgent, token.Device.Fingerprint, token.Device.Name,
	)
	saved, err := pgx.CollectOneRow(rows, rowToToken)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return saved, nil
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		return saved, fmt.Errorf("repo error: %w", apperrors.ErrTokenValueTaken)
	default:
		return saved, fmt.Errorf("db error: %w", err)
	}
}

const getTokenByValue = `-- name: GetTokenByValue
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE value = $1
`

// Return the row even if it is revoked or expired, the engine needs both
func (r *TokenRepo) GetByValue(ctx context.Context, value string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getTokenByValue, value)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const listActiveByUser = `-- name: ListActiveByUser
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
ORDER BY created_at DESC
`

func (r *TokenRepo) ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, listActiveByUser, userID, now)
	tokens, err := pgx.CollectRows(rows, rowToToken)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}

const listByFamily = `-- name: ListByFamily
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE family = $1
ORDER BY created_at DESC
`

func (r *TokenRepo) ListByFamily(ctx context.Context, family uuid.UUID) ([]models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, listByFamily, family)
	tokens, err := pgx.CollectRows(rows, rowToToken)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}

const revokeToken = `-- name: RevokeToken if not revoked yet
UPDATE refresh_tokens
SET revoked_at = $2, revoked_by_ip = $3, reason = $4, replaced_by = $5
WHERE value = $1 AND revoked_at IS NULL
RETURNING ` + tokenColumns

// Revoke the row only if it is not revoked yet
// The WHERE clause makes the write a single atomic compare-and-set: exactly
// one caller matches the row, everybody else matches nothing and gets the
// original revocation back with ErrTokenAlreadyRevoked. The winner is decided
// by row state, never by comparing timestamps, so two callers carrying the
// same clock reading still race to a single winner
func (r *TokenRepo) Revoke(ctx context.Context, value string, rev models.Revocation) (models.RefreshToken, error) {
	// Postgres keeps microseconds, align so the caller reads back what it wrote
	at := rev.At.Truncate(time.Microsecond)

	rows, _ := r.DB.Query(ctx, revokeToken, value, at, rev.ByIP, rev.Reason, rev.ReplacedBy)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Zero rows matched: the value is unknown or somebody revoked it
		// first. Re-read to tell the two apart
		current, getErr := r.GetByValue(ctx, value)
		if getErr != nil {
			return current, getErr
		}
		return current, fmt.Errorf("repo error: %w", apperrors.ErrTokenAlreadyRevoked)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeFamily = `-- name: RevokeFamily
UPDATE refresh_tokens
SET revoked_at = $2, revoked_by_ip = $3, reason = $4
WHERE family = $1 AND revoked_at IS NULL AND expires_at > $2
`

func (r *TokenRepo) RevokeFamily(ctx context.Context, family uuid.UUID, rev models.Revocation) (int64, error) {
	at := rev.At.Truncate(time.Microsecond)

	tag, err := r.DB.Exec(ctx, revokeFamily, family, at, rev.ByIP, rev.Reason)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const revokeAllForUser = `-- name: RevokeAllForUser
UPDATE refresh_tokens
SET revoked_at = $2, revoked_by_ip = $3, reason = $4
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
	AND ($5::uuid IS NULL OR family <> $5)
`

func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, exceptFamily *uuid.UUID, rev models.Revocation) (int64, error) {
	at := rev.At.Truncate(time.Microsecond)

	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID, at, rev.ByIP, rev.Reason, exceptFamily)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteExpiredBefore = `-- name: DeleteExpiredBefore
DELETE FROM refresh_tokens
WHERE revoked_at IS NOT NULL AND expires_at < $1
`

func (r *TokenRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredBefore, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
