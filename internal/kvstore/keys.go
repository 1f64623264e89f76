package kvstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The whole key namespace of the shared store lives here. The text
// shapes are kept compatible with the store contents the previous
// deployment left behind, so a rolling upgrade does not strand results.

const (
	FormatsResultPattern = "yt_formats:*"
	FetchResultPattern   = "s3||result||*"

	KeyMailingProgress = "mailing_progress"
	KeyMailingTotal    = "mailing_total"

	TTLFormatsResult   = 10 * time.Minute
	TTLFormatSelection = time.Hour
	TTLFetchResult     = time.Hour
	TTLFetchError      = 10 * time.Minute
)

// ThrottleKey is the per-user, per-action cooldown marker.
func ThrottleKey(userID int64, action string) string {
	return fmt.Sprintf("throttle:%d:%s", userID, action)
}

// QuotaKey holds the rolling daily download counter.
func QuotaKey(userID int64) string {
	return fmt.Sprintf("downloads:%d", userID)
}

// FormatsResultKey holds a discovery job's terminal result.
func FormatsResultKey(userID int64, url string) string {
	return fmt.Sprintf("yt_formats:%d:%s", userID, url)
}

// FormatSelectionKey maps an offered format back to its source URL so a
// button click can be resolved later.
func FormatSelectionKey(userID int64, formatID string) string {
	return fmt.Sprintf("yt:%d:%s", userID, formatID)
}

// FetchResultKey holds a fetch-and-upload job's terminal result.
func FetchResultKey(userID int64, url string) string {
	return fmt.Sprintf("s3||result||%d||%s", userID, url)
}

// ParseFormatsResultKey recovers (user, url) from a yt_formats key. The
// URL is everything after the second colon; URLs contain colons.
func ParseFormatsResultKey(key string) (int64, string, error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "yt_formats" {
		return 0, "", fmt.Errorf("kvstore: malformed formats key %q", key)
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("kvstore: malformed formats key %q: %w", key, err)
	}
	return userID, parts[2], nil
}

// ParseFetchResultKey recovers (user, url) from an s3 result key.
func ParseFetchResultKey(key string) (int64, string, error) {
	parts := strings.Split(key, "||")
	if len(parts) < 4 || parts[0] != "s3" || parts[1] != "result" {
		return 0, "", fmt.Errorf("kvstore: malformed fetch key %q", key)
	}
	userID, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("kvstore: malformed fetch key %q: %w", key, err)
	}
	return userID, parts[len(parts)-1], nil
}
