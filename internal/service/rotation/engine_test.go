package rotation

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasiliev/tokenguard/internal/apperrors"
	"github.com/avasiliev/tokenguard/internal/events"
	"github.com/avasiliev/tokenguard/internal/models"
	"github.com/avasiliev/tokenguard/internal/repository/memory"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

// fakeClock lets tests move time explicitly
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// stubGenerator returns scripted values, for collision tests
type stubGenerator struct {
	mu     sync.Mutex
	values []string
}

func (g *stubGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.values) == 0 {
		return "", errors.New("stub generator exhausted")
	}
	v := g.values[0]
	g.values = g.values[1:]
	return v, nil
}

// stubSigner stands in for the external access token collaborator
type stubSigner struct{}

func (stubSigner) Sign(_ uuid.UUID, _ *uuid.UUID, now time.Time) (models.IssuedToken, error) {
	return models.IssuedToken{Value: "signed-access", ExpiresAt: now.Add(15 * time.Minute)}, nil
}

func Test_Engine(t *testing.T) {
	t.Parallel()

	start := mustParseTime("2024-01-01 19:00:01Z")
	userID := uuid.New()
	device := models.DeviceInfo{IP: "198.51.100.7", UserAgent: "test-agent", Name: "laptop"}

	newEngine := func(t *testing.T, cfg Config) (*Engine, *memory.TokenStore, *events.Recorder, *fakeClock) {
		t.Helper()

		store := memory.NewTokenStore()
		recorder := &events.Recorder{}
		clock := newFakeClock(start)

		cfg.Now = clock.Now
		cfg.Sink = recorder

		engine, err := New(cfg, store)
		require.NoError(t, err, "engine should be created without errors")

		return engine, store, recorder, clock
	}

	t.Run("new requires store", func(t *testing.T) {
		_, err := New(Config{}, nil)
		require.Error(t, err)
	})

	t.Run("IssueInitial", func(t *testing.T) {
		t.Run("creates first token of a new family", func(t *testing.T) {
			engine, store, _, _ := newEngine(t, Config{RefreshTTL: 7 * 24 * time.Hour})

			pair, token, err := engine.IssueInitial(t.Context(), userID, nil, device, 0)

			require.NoError(t, err)
			assert.NotEmpty(t, pair.Refresh.Value, "refresh token value should not be empty")
			assert.Equal(t, start.Add(7*24*time.Hour), pair.Refresh.ExpiresAt)
			assert.Equal(t, userID, token.UserID)
			assert.NotEqual(t, uuid.Nil, token.Family, "family must be allocated")
			assert.Equal(t, device, token.Device)
			assert.False(t, token.IsRevoked(), "fresh token must not be revoked")

			stored, err := store.GetByValue(t.Context(), pair.Refresh.Value)
			require.NoError(t, err, "issued token must be persisted")
			assert.Equal(t, token.ID, stored.ID)
		})

		t.Run("ttl argument overrides configured lifetime", func(t *testing.T) {
			engine, _, _, _ := newEngine(t, Config{RefreshTTL: 30 * 24 * time.Hour})

			pair, _, err := engine.IssueInitial(t.Context(), userID, nil, device, 24*time.Hour)

			require.NoError(t, err)
			assert.Equal(t, start.Add(24*time.Hour), pair.Refresh.ExpiresAt)
		})

		t.Run("keeps tenant on the token", func(t *testing.T) {
			engine, store, _, _ := newEngine(t, Config{})
			tenantID := uuid.New()

			pair, _, err := engine.IssueInitial(t.Context(), userID, &tenantID, device, 0)

			require.NoError(t, err)
			stored, err := store.GetByValue(t.Context(), pair.Refresh.Value)
			require.NoError(t, err)
			require.NotNil(t, stored.TenantID)
			assert.Equal(t, tenantID, *stored.TenantID)
		})
	})

	t.Run("Rotate", func(t *testing.T) {
		t.Run("revokes predecessor and links successor", func(t *testing.T) {
			engine, store, _, _ := newEngine(t, Config{})

			pair, token, err := engine.IssueInitial(t.Context(), userID, nil, device, 0)
			require.NoError(t, err)

			next, err := engine.Rotate(t.Context(), pair.Refresh.Value, models.DeviceInfo{IP: "203.0.113.9"})
			require.NoError(t, err)
			assert.NotEqual(t, pair.Refresh.Value, next.Refresh.Value, "successor must be a brand new value")

			predecessor, err := store.GetByValue(t.Context(), pair.Refresh.Value)
			require.NoError(t, err)
			assert.True(t, predecessor.IsRevoked(), "presented token must be revoked")
			assert.Equal(t, models.ReasonRotated, predecessor.Reason)
			assert.Equal(t, next.Refresh.Value, predecessor.ReplacedBy, "predecessor must point at the successor")

			successor, err := store.GetByValue(t.Context(), next.Refresh.Value)
			require.NoError(t, err)
			assert.Equal(t, token.Family, successor.Family, "rotation stays within the family")
			assert.Equal(t, "203.0.113.9", successor.Device.IP, "fresher metadata wins")
			assert.Equal(t, device.UserAgent, successor.Device.UserAgent, "stored metadata fills the gaps")
		})

		t.Run("unknown value fails without side effects", func(t *testing.T) {
			engine, _, recorder, _ := newEngine(t, Config{})

			_, err := engine.Rotate(t.Context(), "never-issued", device)

			require.ErrorIs(t, err, apperrors.ErrTokenNotFound)
			assert.Empty(t, recorder.Events(), "no security event for an unknown value")
		})

		t.Run("reuse of rotated token terminates the family", func(t *testing.T) {
			engine, store, recorder, _ := newEngine(t, Config{})

			pair, token, err := engine.IssueInitial(t.Context(), userID, nil, device, 0)
			require.NoError(t, err)

			next, err := engine.Rotate(t.Context(), pair.Refresh.Value, device)
			require.NoError(t, err)

			// Present the already rotated token again
			_, err = engine.Rotate(t.Context(), pair.Refresh.Value, device)
			require.ErrorIs(t, err, apperrors.ErrTokenReuseDetected)

			successor, err := store.GetByValue(t.Context(), next.Refresh.Value)
			require.NoError(t, err)
			assert.True(t, successor.IsRevoked(), "whole family must be terminated")
			assert.Equal(t, models.ReasonTheftDetected, successor.Reason)

			evs := recorder.Events()
			require.Len(t, evs, 1)
			assert.Equal(t, events.SeverityCritical, evs[0].Severity)
			assert.Equal(t, userID, evs[0].UserID)
			assert.Equal(t, token.Family, evs[0].Family)
			assert.Equal(t, models.ReasonTheftDetected, evs[0].Reason)
			assert.Equal(t, int64(1), evs[0].TokensRevoked, "only the successor was still active")

			// The freshly terminated successor is a reuse signal too, but the
			// family is already fully revoked so there is nothing to report
			_, err = engine.Rotate(t.Context(), next.Refresh.Value, device)
			require.ErrorIs(t, err, apperrors.ErrTokenReuseDetected)

			// Re-presenting once more changes nothing either
			_, err = engine.Rotate(t.Context(), pair.Refresh.Value, device)
			require.ErrorIs(t, err, apperrors.ErrTokenReuseDetected)
			assert.Len(t, recorder.Events(), 1, "a dead family is reported once, not on every retry")
		})

		t.Run("expired token is benign", func(t *testing.T) {
			engine, store, recorder, clock := newEngine(t, Config{RefreshTTL: 7 * 24 * time.Hour})

			pair, _, err := engine.IssueInitial(t.Context(), userID, nil, device, 0)
			require.NoError(t, err)

			clock.Advance(8 * 24 * time.Hour)

			_, err = engine.Rotate(t.Context(), pair.Refresh.Value, device)
			require.ErrorIs(t, err, apperrors.ErrTokenExpired)

			stored, err := store.GetByValue(t.Context(), pair.Refresh.Value)
			require.NoError(t, err)
			assert.False(t, stored.IsRevoked(), "expiry is not a revocation")
			assert.Empty(t, recorder.Events(), "expiry is never reported as theft")
		})

		t.Run("exactly at expiry the token is expired", func(t *testing.T) {
			engine, _, _, clock := newEngine(t, Config{RefreshTTL: time.Hour})

			pair, _, err := engine.IssueInitial(t.Context(), userID, nil, device, 0)
			require.NoError(t, err)

			clock.Advance(time.Hour)

			_, err = engine.Rotate(t.Context(), pair.Refresh.Value, device)
			require.ErrorIs(t, err, apperrors.ErrTokenExpired)
		})

		t.Run("concurrent rotation of one value succeeds exactly once", func(t *testing.T) {
			engine, store, _, _ := newEngine(t, Config{})

			pair, token, err := engine.IssueInitial(t.Context(), userID, nil, device, 0)
			require.NoError(t, err)

			const callers = 8
			errs := make(chan error, callers)

			var wg sync.WaitGroup
			for range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := engine.Rotate(t.Context(), pair.Refresh.Value, device)
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)

			var succeeded, reuse int
			for err := range errs {
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, apperrors.ErrTokenReuseDetected):
					reuse++
				default:
					t.Fatalf("unexpected rotation error: %v", err)
				}
			}

			assert.Equal(t, 1, succeeded, "exactly one concurrent caller may rotate the value")
			assert.Equal(t, callers-1, reuse, "every other caller must observe reuse")

			// The race is treated as theft, the family converges to all-revoked
			rows, err := store.ListByFamily(t.Context(), token.Family)
			require.NoError(t, err)
			for _, row := range rows {
				assert.True(t, row.IsRevoked(), "token %s must be revoked after the race", row.ID)
			}
		})
	})

	t.Run("token pair carries access token when signer configured", func(t *testing.T) {
		engine, _, _, _ := newEngine(t, Config{Signer: stubSigner{}})

		pair, _, err := engine.IssueInitial(t.Context(), userID, nil, device, 0)
		require.NoError(t, err)
		assert.Equal(t, "signed-access", pair.Access.Value)
		assert.Equal(t, start.Add(15*time.Minute), pair.Access.ExpiresAt)

		next, err := engine.Rotate(t.Context(), pair.Refresh.Value, device)
		require.NoError(t, err)
		assert.Equal(t, "signed-access", next.Access.Value, "rotation returns a fresh access token too")
	})

	t.Run("value collision", func(t *testing.T) {
		t.Run("retried transparently", func(t *testing.T) {
			gen := &stubGenerator{values: []string{"collision", "collision", "fresh-value"}}
			engine, store, _, _ := newEngine(t, Config{Generator: gen})

			// Occupy the colliding value
			_, err := store.Save(t.Context(), models.RefreshToken{
				ID:        uuid.New(),
				UserID:    uuid.New(),
				Value:     "collision",
				Family:    uuid.New(),
				CreatedAt: start,
				ExpiresAt: start.Add(time.Hour),
			})
			require.NoError(t, err)

			pair, _, err := engine.IssueInitial(t.Context(), userID, nil, device, 0)

			require.NoError(t, err, "collision must be retried, not surfaced")
			assert.Equal(t, "fresh-value", pair.Refresh.Value)
		})

		t.Run("gives up after repeated collisions", func(t *testing.T) {
			gen := &stubGenerator{values: []string{"collision", "collision", "collision"}}
			engine, store, _, _ := newEngine(t, Config{Generator: gen})

			_, err := store.Save(t.Context(), models.RefreshToken{
				ID:        uuid.New(),
				UserID:    uuid.New(),
				Value:     "collision",
				Family:    uuid.New(),
				CreatedAt: start,
				ExpiresAt: start.Add(time.Hour),
			})
			require.NoError(t, err)

			_, _, err = engine.IssueInitial(t.Context(), userID, nil, device, 0)
			require.Error(t, err)
		})
	})
}
