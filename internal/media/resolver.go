package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	youtube "github.com/kkdai/youtube/v2"
)

// Resolver is the opaque "fetch video" collaborator the job pipeline
// depends on. The worker never sees past this interface.
type Resolver interface {
	// Formats lists every remote encoding; callers filter with
	// BrowserPlayable.
	Formats(ctx context.Context, url string) ([]Format, error)
	// Fetch streams the chosen format into dir and returns the local
	// path and the video title.
	Fetch(ctx context.Context, url, formatID, dir string) (string, string, error)
}

// YouTube resolves videos through the innertube API.
type YouTube struct {
	client youtube.Client
}

func NewYouTube() *YouTube {
	return &YouTube{}
}

func (y *YouTube) Formats(ctx context.Context, url string) ([]Format, error) {
	v, err := y.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("media: resolve %s: %w", url, err)
	}
	out := make([]Format, 0, len(v.Formats))
	for _, f := range v.Formats {
		out = append(out, Format{
			ID:   strconv.Itoa(f.ItagNo),
			Note: f.QualityLabel,
			Ext:  containerExt(f.MimeType),
			Size: f.ContentLength,
		})
	}
	return out, nil
}

func (y *YouTube) Fetch(ctx context.Context, url, formatID, dir string) (string, string, error) {
	v, err := y.client.GetVideoContext(ctx, url)
	if err != nil {
		return "", "", fmt.Errorf("media: resolve %s: %w", url, err)
	}
	itag, err := strconv.Atoi(formatID)
	if err != nil {
		return "", "", fmt.Errorf("media: bad format id %q: %w", formatID, err)
	}

	var target *youtube.Format
	for i := range v.Formats {
		if v.Formats[i].ItagNo == itag {
			target = &v.Formats[i]
			break
		}
	}
	if target == nil {
		return "", "", fmt.Errorf("media: format %s not available for %s", formatID, url)
	}

	stream, _, err := y.client.GetStreamContext(ctx, v, target)
	if err != nil {
		return "", "", fmt.Errorf("media: stream %s: %w", url, err)
	}
	defer stream.Close()

	name := FileName(v.Title, target.QualityLabel, containerExt(target.MimeType), formatID)
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(f, stream); err != nil {
		f.Close()
		os.Remove(path)
		return "", "", fmt.Errorf("media: download %s: %w", url, err)
	}
	if err := f.Close(); err != nil {
		return "", "", err
	}
	return path, v.Title, nil
}

// containerExt maps a MIME type to the container extension, "" when the
// container is not one a browser plays back.
func containerExt(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "video/mp4"):
		return extMP4
	case strings.HasPrefix(mimeType, "audio/mp4"):
		return extM4A
	default:
		return ""
	}
}
