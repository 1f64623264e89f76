package jobs

import (
	"fmt"
	"strings"
)

const (
	TaskFormatDiscovery = "video:formats"
	TaskFetchUpload     = "video:fetch"
)

type FormatDiscoveryPayload struct {
	UserID int64  `json:"user_id"`
	URL    string `json:"url"`
}

type FetchUploadPayload struct {
	URL      string `json:"url"`
	Selector string `json:"selector"` // "dl|<format_id>", same text as the button callback
	UserID   int64  `json:"user_id"`
}

const selectorPrefix = "dl"

// FetchSelector builds the callback/selector text for a format id.
func FetchSelector(formatID string) string {
	return selectorPrefix + "|" + formatID
}

// ParseSelector extracts the format id from a "dl|<format_id>" selector.
func ParseSelector(s string) (string, error) {
	parts := strings.SplitN(s, "|", 2)
	if len(parts) != 2 || parts[0] != selectorPrefix || parts[1] == "" {
		return "", fmt.Errorf("jobs: malformed selector %q", s)
	}
	return parts[1], nil
}
