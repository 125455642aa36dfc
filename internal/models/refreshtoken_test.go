package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

func Test_RefreshToken_DerivedState(t *testing.T) {
	t.Parallel()

	now := mustParseTime("2024-01-01 19:00:01Z")

	t.Run("active token", func(t *testing.T) {
		token := RefreshToken{ExpiresAt: now.Add(time.Hour)}

		assert.False(t, token.IsRevoked())
		assert.False(t, token.IsExpired(now))
		assert.True(t, token.IsActive(now))
	})

	t.Run("expired exactly at the deadline", func(t *testing.T) {
		token := RefreshToken{ExpiresAt: now}

		assert.True(t, token.IsExpired(now))
		assert.False(t, token.IsActive(now))
	})

	t.Run("revoked token is not active even before expiry", func(t *testing.T) {
		revokedAt := now.Add(-time.Minute)
		token := RefreshToken{ExpiresAt: now.Add(time.Hour), RevokedAt: &revokedAt}

		assert.True(t, token.IsRevoked())
		assert.False(t, token.IsActive(now))
	})
}

func Test_DeviceInfo_Merge(t *testing.T) {
	t.Parallel()

	stored := DeviceInfo{IP: "10.0.0.1", UserAgent: "firefox", Fingerprint: "fp-1", Name: "laptop"}

	t.Run("fresh values win", func(t *testing.T) {
		fresh := DeviceInfo{IP: "10.0.0.2", UserAgent: "chrome"}

		got := fresh.Merge(stored)

		require.Equal(t, DeviceInfo{IP: "10.0.0.2", UserAgent: "chrome", Fingerprint: "fp-1", Name: "laptop"}, got)
	})

	t.Run("empty request context keeps everything stored", func(t *testing.T) {
		got := DeviceInfo{}.Merge(stored)

		require.Equal(t, stored, got)
	})
}
