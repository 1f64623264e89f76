package kvstore

import "testing"

func TestFormatsResultKeyRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		userID int64
		url    string
	}{
		{"short url", 42, "https://youtu.be/abc123"},
		{"watch url with query", 7, "https://www.youtube.com/watch?v=abc123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := FormatsResultKey(tt.userID, tt.url)
			userID, url, err := ParseFormatsResultKey(key)
			if err != nil {
				t.Fatalf("parse %q: %v", key, err)
			}
			if userID != tt.userID || url != tt.url {
				t.Errorf("got (%d, %q), want (%d, %q)", userID, url, tt.userID, tt.url)
			}
		})
	}
}

func TestParseFormatsResultKeyRejectsGarbage(t *testing.T) {
	for _, key := range []string{"", "yt_formats", "yt_formats:notanumber:url", "downloads:5"} {
		if _, _, err := ParseFormatsResultKey(key); err == nil {
			t.Errorf("ParseFormatsResultKey(%q) accepted malformed input", key)
		}
	}
}

func TestFetchResultKeyRoundTrip(t *testing.T) {
	key := FetchResultKey(99, "https://youtu.be/abc123")
	if key != "s3||result||99||https://youtu.be/abc123" {
		t.Fatalf("unexpected key text %q", key)
	}
	userID, url, err := ParseFetchResultKey(key)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if userID != 99 || url != "https://youtu.be/abc123" {
		t.Errorf("got (%d, %q)", userID, url)
	}
}

func TestParseFetchResultKeyRejectsGarbage(t *testing.T) {
	for _, key := range []string{"", "s3||result", "s3||result||x||url", "yt_formats:1:url"} {
		if _, _, err := ParseFetchResultKey(key); err == nil {
			t.Errorf("ParseFetchResultKey(%q) accepted malformed input", key)
		}
	}
}

func TestThrottleKeyShape(t *testing.T) {
	if got := ThrottleKey(5, "send"); got != "throttle:5:send" {
		t.Errorf("ThrottleKey = %q", got)
	}
	if got := QuotaKey(5); got != "downloads:5" {
		t.Errorf("QuotaKey = %q", got)
	}
	if got := FormatSelectionKey(5, "22"); got != "yt:5:22" {
		t.Errorf("FormatSelectionKey = %q", got)
	}
}
