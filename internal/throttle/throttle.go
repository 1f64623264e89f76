// Package throttle is the per-user admission gate. A held key means a
// request for the same (user, action) is already in flight and must be
// rejected, never queued twice.
package throttle

import (
	"context"
	"time"

	"github.com/raymondsend/ytfetch/internal/kvstore"
)

const (
	// ActionSend guards link submission while format discovery runs.
	ActionSend = "send"
	// ActionDownload guards a fetch-and-upload job.
	ActionDownload = "dl"

	// DefaultTTL debounces chat commands.
	DefaultTTL = 3 * time.Second
	// LongTTL covers jobs that may run for minutes. Workers release the
	// key on completion, so the full TTL only matters when a worker dies.
	LongTTL = 10 * time.Minute
)

type Store struct {
	kv kvstore.Store
}

func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// TryAcquire reports true when the (user, action) pair is already
// throttled. When it reports false the key has been set atomically, so
// of N concurrent callers exactly one is admitted.
func (s *Store) TryAcquire(ctx context.Context, userID int64, action string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	set, err := s.kv.SetIfAbsent(ctx, kvstore.ThrottleKey(userID, action), "1", ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Release drops the key before its TTL so a finished job lets the next
// request through immediately.
func (s *Store) Release(ctx context.Context, userID int64, action string) error {
	return s.kv.Delete(ctx, kvstore.ThrottleKey(userID, action))
}
