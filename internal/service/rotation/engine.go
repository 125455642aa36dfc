package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avasiliev/tokenguard/internal/apperrors"
	"github.com/avasiliev/tokenguard/internal/events"
	"github.com/avasiliev/tokenguard/internal/logger"
	"github.com/avasiliev/tokenguard/internal/metrics"
	"github.com/avasiliev/tokenguard/internal/models"
	"github.com/avasiliev/tokenguard/internal/repository"
)

const (
	defaultRefreshTokenTTL = 30 * 24 * time.Hour

	// Attempts to mint a unique value before giving up
	// One collision is already astronomically unlikely with 256 bit values
	maxGenerateAttempts = 3
)

// AccessSigner issues short lived access tokens
// It is an external collaborator, this package never signs anything itself
type AccessSigner interface {
	Sign(userID uuid.UUID, tenantID *uuid.UUID, now time.Time) (models.IssuedToken, error)
}

// Engine configuration with sensible defaults
type Config struct {
	// Refresh token lifetime, defaults to 30 days
	RefreshTTL time.Duration

	// Clock, defaults to time.Now. Injected so tests can move time
	Now func() time.Time

	// Token value generator, defaults to the crypto/rand one
	Generator Generator

	// Optional access token signer. Without it token pairs carry
	// the refresh token only
	Signer AccessSigner

	// Optional sink for security facts, defaults to drop
	Sink events.Sink

	// Optional logger, defaults to no-op
	Logger logger.Logger

	// Optional counters
	Metrics *metrics.Metrics
}

// Engine issues and rotates refresh tokens
//
// Holds no shared mutable state between calls: concurrency safety comes
// entirely from the store's conditional revoke
type Engine struct {
	store   repository.TokenStore
	ttl     time.Duration
	now     func() time.Time
	gen     Generator
	signer  AccessSigner
	sink    events.Sink
	logger  logger.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, store repository.TokenStore) (*Engine, error) {
	if store == nil {
		return nil, errors.New("token store must not be nil")
	}

	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = defaultRefreshTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Generator == nil {
		cfg.Generator = NewGenerator()
	}
	if cfg.Sink == nil {
		cfg.Sink = events.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOp()
	}

	return &Engine{
		store:   store,
		ttl:     cfg.RefreshTTL,
		now:     cfg.Now,
		gen:     cfg.Generator,
		signer:  cfg.Signer,
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// IssueInitial creates the first token of a brand new family. Used at login
// ttl overrides the configured lifetime when non zero
func (e *Engine) IssueInitial(ctx context.Context, userID uuid.UUID, tenantID *uuid.UUID, device models.DeviceInfo, ttl time.Duration) (models.TokenPair, models.RefreshToken, error) {
	if ttl == 0 {
		ttl = e.ttl
	}

	now := e.now().Truncate(time.Microsecond)
	token, err := e.mint(ctx, models.RefreshToken{
		UserID:    userID,
		TenantID:  tenantID,
		Family:    uuid.New(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Device:    device,
	})
	if err != nil {
		return models.TokenPair{}, models.RefreshToken{}, err
	}

	pair, err := e.pair(token, now)
	if err != nil {
		return models.TokenPair{}, models.RefreshToken{}, err
	}

	if e.metrics != nil {
		e.metrics.IssuedTotal.Inc()
	}
	e.logger.Info("refresh token issued", "user_id", userID.String(), "family", token.Family.String())

	return pair, token, nil
}

// Rotate exchanges a presented refresh token for its successor
//
// Reuse of an already revoked token terminates the whole family and returns
// apperrors.ErrTokenReuseDetected. An expired token is benign and returns
// apperrors.ErrTokenExpired without any side effect
func (e *Engine) Rotate(ctx context.Context, presented string, device models.DeviceInfo) (models.TokenPair, error) {
	now := e.now().Truncate(time.Microsecond)

	token, err := e.store.GetByValue(ctx, presented)
	switch {
	case errors.Is(err, apperrors.ErrTokenNotFound):
		return models.TokenPair{}, fmt.Errorf("unknown token presented: %w", apperrors.ErrTokenNotFound)
	case err != nil:
		return models.TokenPair{}, fmt.Errorf("error while loading presented token. Err: %w", err)
	}

	if token.IsRevoked() {
		return models.TokenPair{}, e.reuseDetected(ctx, token, device, now)
	}

	if token.IsExpired(now) {
		// No family action: expiry is a function of time, not a theft signal
		return models.TokenPair{}, fmt.Errorf("token expired at %s: %w", token.ExpiresAt, apperrors.ErrTokenExpired)
	}

	// Insert the successor first. A crash here leaves an orphaned new token,
	// never two live tokens whose predecessor pointer was consumed
	successor, err := e.mint(ctx, models.RefreshToken{
		UserID:    token.UserID,
		TenantID:  token.TenantID,
		Family:    token.Family,
		CreatedAt: now,
		ExpiresAt: now.Add(e.ttl),
		Device:    device.Merge(token.Device),
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	_, err = e.store.Revoke(ctx, presented, models.Revocation{
		At:         now,
		ByIP:       device.IP,
		Reason:     models.ReasonRotated,
		ReplacedBy: successor.Value,
	})
	switch {
	case errors.Is(err, apperrors.ErrTokenAlreadyRevoked):
		// Lost the conditional write to a concurrent rotation of the same
		// value. Indistinguishable from theft, treated as theft. The family
		// revocation below also covers the successor minted above
		return models.TokenPair{}, e.reuseDetected(ctx, token, device, now)
	case err != nil:
		return models.TokenPair{}, fmt.Errorf("error while revoking predecessor token. Err: %w", err)
	}

	if e.metrics != nil {
		e.metrics.RotationsTotal.Inc()
	}
	e.logger.Debug("refresh token rotated", "user_id", token.UserID.String(), "family", token.Family.String())

	return e.pair(successor, now)
}

// mint persists a new token row, retrying generation on value collision
func (e *Engine) mint(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		value, err := e.gen.Generate()
		if err != nil {
			return models.RefreshToken{}, fmt.Errorf("error while generating token value. Err: %w", err)
		}

		token.ID = uuid.New()
		token.Value = value

		saved, err := e.store.Save(ctx, token)
		switch {
		case err == nil:
			return saved, nil
		case errors.Is(err, apperrors.ErrTokenValueTaken):
			continue
		default:
			return models.RefreshToken{}, fmt.Errorf("error while saving token. Err: %w", err)
		}
	}

	return models.RefreshToken{}, fmt.Errorf("generated value collided %d times: %w", maxGenerateAttempts, apperrors.ErrTokenValueTaken)
}

// reuseDetected terminates the family and reports the security fact
func (e *Engine) reuseDetected(ctx context.Context, token models.RefreshToken, device models.DeviceInfo, now time.Time) error {
	revoked, err := e.store.RevokeFamily(ctx, token.Family, models.Revocation{
		At:     now,
		ByIP:   device.IP,
		Reason: models.ReasonTheftDetected,
	})
	if err != nil {
		// The caller retries and lands in this branch again, never silently
		// treat a store failure as a handled theft
		return fmt.Errorf("error while revoking token family. Err: %w", err)
	}

	// A family with nothing left to revoke was already reported when it was
	// terminated, re-presenting its tokens has no further side effects
	if revoked > 0 {
		if e.metrics != nil {
			e.metrics.ReuseDetectedTotal.Inc()
		}
		e.logger.Warn("refresh token reuse detected",
			"user_id", token.UserID.String(),
			"family", token.Family.String(),
			"tokens_revoked", revoked,
		)
		e.sink.Emit(ctx, events.Event{
			At:            now,
			Severity:      events.SeverityCritical,
			UserID:        token.UserID,
			Family:        token.Family,
			Reason:        models.ReasonTheftDetected,
			TokensRevoked: revoked,
		})
	}

	return fmt.Errorf("revoked token presented again: %w", apperrors.ErrTokenReuseDetected)
}

func (e *Engine) pair(refresh models.RefreshToken, now time.Time) (models.TokenPair, error) {
	pair := models.TokenPair{
		Refresh: models.IssuedToken{Value: refresh.Value, ExpiresAt: refresh.ExpiresAt},
	}

	if e.signer == nil {
		return pair, nil
	}

	access, err := e.signer.Sign(refresh.UserID, refresh.TenantID, now)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}
	pair.Access = access

	return pair, nil
}
