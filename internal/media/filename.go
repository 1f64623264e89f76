package media

import (
	"fmt"
	"strings"
)

// SanitizeTitle strips characters that are illegal in file names.
// Characters are removed, not replaced.
func SanitizeTitle(title string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
			return -1
		}
		return r
	}, title)
}

// FileName builds "<title>_<quality>.<ext>" for the stored artifact.
// Quality falls back to the format id when the source reports none, the
// container to mp4.
func FileName(title, quality, ext, formatID string) string {
	if quality == "" {
		quality = formatID
	}
	if ext == "" {
		ext = extMP4
	}
	return fmt.Sprintf("%s_%s.%s", SanitizeTitle(title), quality, ext)
}
