package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avasiliev/tokenguard/internal/models"
	"github.com/avasiliev/tokenguard/internal/repository"
)

// Directory is the read side view over stored tokens: one session per family
type Directory struct {
	store repository.TokenStore
	now   func() time.Time
}

func NewDirectory(store repository.TokenStore, now func() time.Time) (*Directory, error) {
	if store == nil {
		return nil, errors.New("token store must not be nil")
	}
	if now == nil {
		now = time.Now
	}

	return &Directory{store: store, now: now}, nil
}

// ListSessions collapses the user's active tokens into one session per family
//
// A family may transiently hold more than one active looking row (a crash
// between insert and revoke leaves an orphan). The newest row represents the
// session, the rest is a data anomaly never surfaced as a duplicate.
// currentToken is the caller's own refresh token value and is the only thing
// that marks a session as current, device metadata is advisory
func (d *Directory) ListSessions(ctx context.Context, userID uuid.UUID, currentToken string) ([]models.Session, error) {
	tokens, err := d.store.ListActiveByUser(ctx, userID, d.now())
	if err != nil {
		return nil, fmt.Errorf("error while listing user tokens. Err: %w", err)
	}

	sessions := []models.Session{}
	seen := map[uuid.UUID]int{}

	// Tokens come newest first, so the first row of a family wins
	for _, t := range tokens {
		i, ok := seen[t.Family]
		if !ok {
			seen[t.Family] = len(sessions)
			sessions = append(sessions, models.Session{
				Family:     t.Family,
				DeviceName: t.Device.Name,
				UserAgent:  t.Device.UserAgent,
				IP:         t.Device.IP,
				CreatedAt:  t.CreatedAt,
				ExpiresAt:  t.ExpiresAt,
				Current:    t.Value == currentToken,
			})
			continue
		}

		// Older same-family row: only the current flag may come from it
		if t.Value == currentToken {
			sessions[i].Current = true
		}
	}

	return sessions, nil
}
