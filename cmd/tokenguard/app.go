package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avasiliev/tokenguard/internal/db"
	"github.com/avasiliev/tokenguard/internal/events"
	"github.com/avasiliev/tokenguard/internal/logger"
	"github.com/avasiliev/tokenguard/internal/metrics"
	"github.com/avasiliev/tokenguard/internal/models"
	"github.com/avasiliev/tokenguard/internal/repository"
	"github.com/avasiliev/tokenguard/internal/repository/postgres"
	"github.com/avasiliev/tokenguard/internal/service/rotation"
	"github.com/avasiliev/tokenguard/internal/service/sessions"
	"github.com/avasiliev/tokenguard/internal/service/signer"
)

// App wires the token subsystem for the admin CLI
type App struct {
	pool       *pgxpool.Pool
	store      repository.TokenStore
	engine     *rotation.Engine
	directory  *sessions.Directory
	controller *sessions.Controller
	logger     logger.Logger
}

func NewApp(ctx context.Context, c *Config) (*App, error) {
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	store := postgres.NewStorage(pool).Tokens()
	sink := events.NewLogSink(log)
	counters := metrics.New(prometheus.NewRegistry())

	var accessSigner rotation.AccessSigner
	if c.SecretKey != "" {
		accessSigner, err = signer.New(signer.Config{SecretKey: c.SecretKey})
		if err != nil {
			return nil, fmt.Errorf("error while creating signer. Err: %w", err)
		}
	}

	engine, err := rotation.New(rotation.Config{
		RefreshTTL: time.Duration(c.RefreshTTLDays) * 24 * time.Hour,
		Signer:     accessSigner,
		Sink:       sink,
		Logger:     log,
		Metrics:    counters,
	}, store)
	if err != nil {
		return nil, fmt.Errorf("error while creating rotation engine. Err: %w", err)
	}

	directory, err := sessions.NewDirectory(store, nil)
	if err != nil {
		return nil, fmt.Errorf("error while creating session directory. Err: %w", err)
	}

	controller, err := sessions.NewController(sessions.ControllerConfig{
		Sink:    sink,
		Logger:  log,
		Metrics: counters,
	}, store)
	if err != nil {
		return nil, fmt.Errorf("error while creating revocation controller. Err: %w", err)
	}

	return &App{
		pool:       pool,
		store:      store,
		engine:     engine,
		directory:  directory,
		controller: controller,
		logger:     log,
	}, nil
}

func (a *App) Close() {
	a.pool.Close()
}

func (a *App) Issue(ctx context.Context, userID uuid.UUID, tenantID *uuid.UUID, device models.DeviceInfo) error {
	pair, token, err := a.engine.IssueInitial(ctx, userID, tenantID, device, 0)
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"token_id":   token.ID,
		"family":     token.Family,
		"refresh":    pair.Refresh.Value,
		"expires_at": pair.Refresh.ExpiresAt,
		"access":     pair.Access.Value,
	})
}

func (a *App) Rotate(ctx context.Context, presented string, device models.DeviceInfo) error {
	pair, err := a.engine.Rotate(ctx, presented, device)
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"refresh":    pair.Refresh.Value,
		"expires_at": pair.Refresh.ExpiresAt,
		"access":     pair.Access.Value,
	})
}

func (a *App) Sessions(ctx context.Context, userID uuid.UUID, currentToken string) error {
	list, err := a.directory.ListSessions(ctx, userID, currentToken)
	if err != nil {
		return err
	}

	return printJSON(list)
}

func (a *App) Revoke(ctx context.Context, userID uuid.UUID, family uuid.UUID, actorIP string) error {
	return a.controller.RevokeSession(ctx, userID, family, actorIP)
}

func (a *App) RevokeAll(ctx context.Context, userID uuid.UUID, exceptFamily *uuid.UUID, actorIP string) error {
	revoked, err := a.controller.RevokeAllSessions(ctx, userID, exceptFamily, actorIP)
	if err != nil {
		return err
	}

	return printJSON(map[string]any{"tokens_revoked": revoked})
}

func (a *App) Sweep(ctx context.Context, olderThan time.Duration) error {
	deleted, err := a.store.DeleteExpiredBefore(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return err
	}

	return printJSON(map[string]any{"tokens_deleted": deleted})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
