package media

import "sort"

// Format describes one remote encoding. The JSON field names match the
// lists already stored under yt_formats:* keys by the previous
// deployment, so both generations of workers and reconcilers interop.
type Format struct {
	ID   string `json:"format_id"`
	Note string `json:"format_note"` // quality label, e.g. "720p"
	Ext  string `json:"ext"`
	Size int64  `json:"filesize"`
}

// Containers a browser can play back directly.
const (
	extMP4 = "mp4"
	extM4A = "m4a"
)

// BrowserPlayable keeps only formats with an allowed container and a
// known positive size, sorted by size descending.
func BrowserPlayable(in []Format) []Format {
	out := make([]Format, 0, len(in))
	for _, f := range in {
		if f.Ext != extMP4 && f.Ext != extM4A {
			continue
		}
		if f.Size <= 0 {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	return out
}
