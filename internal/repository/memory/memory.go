package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avasiliev/tokenguard/internal/apperrors"
	"github.com/avasiliev/tokenguard/internal/models"
)

// TokenStore is the reference in-memory implementation of repository.TokenStore
//
// A single mutex makes every method a unit, which gives the same
// compare-and-set guarantee the postgres conditional UPDATE provides.
// Meant for tests and single-process setups
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]models.RefreshToken // keyed by value
}

func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: map[string]models.RefreshToken{},
	}
}

func (s *TokenStore) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return models.RefreshToken{}, fmt.Errorf("store error: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.Value]; ok {
		return models.RefreshToken{}, fmt.Errorf("store error: %w", apperrors.ErrTokenValueTaken)
	}

	s.tokens[token.Value] = token
	return token, nil
}

func (s *TokenStore) GetByValue(ctx context.Context, value string) (models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return models.RefreshToken{}, fmt.Errorf("store error: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[value]
	if !ok {
		return models.RefreshToken{}, fmt.Errorf("store error: %w", apperrors.ErrTokenNotFound)
	}
	return token, nil
}

func (s *TokenStore) ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store error: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var tokens []models.RefreshToken
	for _, t := range s.tokens {
		if t.UserID == userID && t.IsActive(now) {
			tokens = append(tokens, t)
		}
	}

	sortNewestFirst(tokens)
	return tokens, nil
}

func (s *TokenStore) ListByFamily(ctx context.Context, family uuid.UUID) ([]models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store error: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var tokens []models.RefreshToken
	for _, t := range s.tokens {
		if t.Family == family {
			tokens = append(tokens, t)
		}
	}

	sortNewestFirst(tokens)
	return tokens, nil
}

func (s *TokenStore) Revoke(ctx context.Context, value string, rev models.Revocation) (models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return models.RefreshToken{}, fmt.Errorf("store error: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[value]
	if !ok {
		return models.RefreshToken{}, fmt.Errorf("store error: %w", apperrors.ErrTokenNotFound)
	}
	if token.IsRevoked() {
		// Keep the original revocation untouched
		return token, fmt.Errorf("store error: %w", apperrors.ErrTokenAlreadyRevoked)
	}

	token = revoked(token, rev)
	s.tokens[value] = token
	return token, nil
}

func (s *TokenStore) RevokeFamily(ctx context.Context, family uuid.UUID, rev models.Revocation) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("store error: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var touched int64
	for value, t := range s.tokens {
		if t.Family == family && t.IsActive(rev.At) {
			s.tokens[value] = revoked(t, rev)
			touched++
		}
	}
	return touched, nil
}

func (s *TokenStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID, exceptFamily *uuid.UUID, rev models.Revocation) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("store error: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var touched int64
	for value, t := range s.tokens {
		if t.UserID != userID || !t.IsActive(rev.At) {
			continue
		}
		if exceptFamily != nil && t.Family == *exceptFamily {
			continue
		}
		s.tokens[value] = revoked(t, rev)
		touched++
	}
	return touched, nil
}

func (s *TokenStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("store error: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for value, t := range s.tokens {
		if t.IsRevoked() && t.ExpiresAt.Before(cutoff) {
			delete(s.tokens, value)
			deleted++
		}
	}
	return deleted, nil
}

func revoked(t models.RefreshToken, rev models.Revocation) models.RefreshToken {
	at := rev.At
	t.RevokedAt = &at
	t.RevokedByIP = rev.ByIP
	t.Reason = rev.Reason
	t.ReplacedBy = rev.ReplacedBy
	return t
}

func sortNewestFirst(tokens []models.RefreshToken) {
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})
}
