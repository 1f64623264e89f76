package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// ErrorSentinel is the reserved value meaning "job ran to completion but
// failed". Distinct from key absence, which means "not finished yet".
const ErrorSentinel = "error"

// Store is the shared coordination surface between the bot, the workers
// and the reconciler. Every method is an independently atomic single-key
// operation; there are no multi-key transactions.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsent sets key only when it does not exist and reports
	// whether it did. Concurrent callers for the same key observe
	// exactly one true.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	// IncrWithTTL increments the counter at key and re-applies ttl,
	// returning the new value. The counter starts at zero.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Scan returns all keys matching a glob pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Unordered-set operations, used by the broadcast progress tracker.
	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetContains(ctx context.Context, key, member string) (bool, error)
	SetLen(ctx context.Context, key string) (int64, error)
}
