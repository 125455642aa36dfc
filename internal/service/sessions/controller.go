package sessions

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

type ControllerConfig struct {
	// Clock, defaults to time.Now
	Now func() time.Time

	// Optional sink for security facts, defaults to drop
	Sink events.Sink

	// Optional logger, defaults to no-op
	Logger logger.Logger

	// Optional counters
	Metrics *metrics.Metrics
}

// Controller applies explicit user and administrator revocations
type Controller struct {
	store   repository.TokenStore
	now     func() time.Time
	sink    events.Sink
	logger  logger.Logger
	metrics *metrics.Metrics
}

func NewController(cfg ControllerConfig, store repository.TokenStore) (*Controller, error) {
	if store == nil {
		return nil, errors.New("token store must not be nil")
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sink == nil {
		cfg.Sink = events.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOp()
	}

	return &Controller{
		store:   store,
		now:     cfg.Now,
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// RevokeSession terminates one family owned by the user
//
// A family owned by somebody else fails with apperrors.ErrSessionForbidden,
// the same way an unknown family fails with apperrors.ErrSessionNotFound, so
// session ids cannot be enumerated across users.
// Revoking an already terminated session is a no-op
func (c *Controller) RevokeSession(ctx context.Context, userID uuid.UUID, family uuid.UUID, actorIP string) error {
	tokens, err := c.store.ListByFamily(ctx, family)
	if err != nil {
		return fmt.Errorf("error while loading token family. Err: %w", err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("unknown family %s: %w", family, apperrors.ErrSessionNotFound)
	}
	if tokens[0].UserID != userID {
		return fmt.Errorf("family %s: %w", family, apperrors.ErrSessionForbidden)
	}

	revoked, err := c.store.RevokeFamily(ctx, family, models.Revocation{
		At:     c.now().Truncate(time.Microsecond),
		ByIP:   actorIP,
		Reason: models.ReasonManualRevoke,
	})
	if err != nil {
		return fmt.Errorf("error while revoking token family. Err: %w", err)
	}

	c.report(ctx, userID, family, revoked)
	return nil
}

// RevokeAllSessions terminates every family of the user
// exceptFamily, when not nil, keeps that session alive. Used on password
// change to sign the user out everywhere but the session doing the change
func (c *Controller) RevokeAllSessions(ctx context.Context, userID uuid.UUID, exceptFamily *uuid.UUID, actorIP string) (int64, error) {
	revoked, err := c.store.RevokeAllForUser(ctx, userID, exceptFamily, models.Revocation{
		At:     c.now().Truncate(time.Microsecond),
		ByIP:   actorIP,
		Reason: models.ReasonManualRevoke,
	})
	if err != nil {
		return 0, fmt.Errorf("error while revoking user tokens. Err: %w", err)
	}

	c.report(ctx, userID, uuid.Nil, revoked)
	return revoked, nil
}

func (c *Controller) report(ctx context.Context, userID uuid.UUID, family uuid.UUID, revoked int64) {
	if revoked == 0 {
		return
	}

	if c.metrics != nil {
		c.metrics.ManualRevocationsTotal.Inc()
	}
	c.logger.Info("session revoked",
		"user_id", userID.String(),
		"family", family.String(),
		"tokens_revoked", revoked,
	)
	c.sink.Emit(ctx, events.Event{
		At:            c.now(),
		Severity:      events.SeverityInfo,
		UserID:        userID,
		Family:        family,
		Reason:        models.ReasonManualRevoke,
		TokensRevoked: revoked,
	})
}
