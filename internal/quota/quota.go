// Package quota enforces the rolling daily download limit. The window
// slides: every consumed download pushes the 24h expiry forward, it is
// not reset at a calendar boundary. Quota is consumed, never refunded,
// even when delivery later fails.
package quota

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/raymondsend/ytfetch/internal/kvstore"
	"github.com/raymondsend/ytfetch/internal/users"
)

const window = 24 * time.Hour

// UserSource supplies the per-user limit; satisfied by users.Repository.
type UserSource interface {
	Get(ctx context.Context, userID int64) (*users.User, error)
}

type Tracker struct {
	kv    kvstore.Store
	users UserSource
}

func New(kv kvstore.Store, src UserSource) *Tracker {
	return &Tracker{kv: kv, users: src}
}

// CanConsume is the download admission predicate. Unknown users are
// rejected, fail-closed.
func (t *Tracker) CanConsume(ctx context.Context, userID int64) (bool, error) {
	u, err := t.users.Get(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	limit := u.DownloadLimit
	if limit <= 0 {
		limit = users.DefaultDownloadLimit
	}

	current := 0
	raw, err := t.kv.Get(ctx, kvstore.QuotaKey(userID))
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		return false, err
	default:
		current, _ = strconv.Atoi(raw)
	}
	return current < limit, nil
}

// Consume charges one download and refreshes the 24h window.
func (t *Tracker) Consume(ctx context.Context, userID int64) error {
	_, err := t.kv.IncrWithTTL(ctx, kvstore.QuotaKey(userID), window)
	return err
}
