// Package reconcile turns finished job results into outbound chat
// notifications. Two polling loops scan the result namespaces on fixed
// intervals; each pass deletes a key before acting on it, so delivery is
// at least once — a crash between delete and send loses at most that
// one notification, which is accepted.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raymondsend/ytfetch/internal/jobs"
	"github.com/raymondsend/ytfetch/internal/kvstore"
	"github.com/raymondsend/ytfetch/internal/media"
	"github.com/raymondsend/ytfetch/internal/notify"
)

const (
	// maxOptions caps the keyboard, not the data: formats past the cap
	// are dropped.
	maxOptions = 10

	// DefaultFormatsEvery and DefaultFetchEvery are the polling
	// intervals. Fetch jobs run for minutes, so a longer period keeps
	// scan pressure down.
	DefaultFormatsEvery = 2 * time.Second
	DefaultFetchEvery   = 10 * time.Second
)

const failureText = "❌ Something went wrong while fetching the video.\n\n" +
	"Please send a direct link to a video, for example:\n" +
	"https://youtu.be/VIDEO_ID\nor\nhttps://www.youtube.com/watch?v=VIDEO_ID\n\n" +
	"⚠️ Playlist, channel and mix links are not supported."

// QuotaSink charges a completed download; satisfied by quota.Tracker.
type QuotaSink interface {
	Consume(ctx context.Context, userID int64) error
}

// DownloadLog appends history rows; satisfied by users.Repository.
type DownloadLog interface {
	LogDownload(ctx context.Context, userID int64, url string) error
}

type Reconciler struct {
	kv       kvstore.Store
	notifier notify.Notifier
	quota    QuotaSink
	logs     DownloadLog
}

func New(kv kvstore.Store, n notify.Notifier, q QuotaSink, l DownloadLog) *Reconciler {
	return &Reconciler{kv: kv, notifier: n, quota: q, logs: l}
}

// Run starts both loops and blocks until ctx is done. Each loop runs
// its passes strictly sequentially, so instances of the same pass never
// overlap.
func (r *Reconciler) Run(ctx context.Context, formatsEvery, fetchEvery time.Duration) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.loop(ctx, formatsEvery, "formats", r.FormatsPass)
	}()
	go func() {
		defer wg.Done()
		r.loop(ctx, fetchEvery, "fetch", r.FetchPass)
	}()
	wg.Wait()
}

func (r *Reconciler) loop(ctx context.Context, every time.Duration, name string, pass func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A failed scan skips this tick and retries at the next one.
			if err := pass(ctx); err != nil {
				log.Warn().Err(err).Str("pass", name).Msg("reconcile pass skipped")
			}
		}
	}
}

// FormatsPass reaps every pending discovery result.
func (r *Reconciler) FormatsPass(ctx context.Context) error {
	keys, err := r.kv.Scan(ctx, kvstore.FormatsResultPattern)
	if err != nil {
		return err
	}
	for _, key := range keys {
		r.reapFormats(ctx, key)
	}
	return nil
}

func (r *Reconciler) reapFormats(ctx context.Context, key string) {
	userID, url, err := kvstore.ParseFormatsResultKey(key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("dropping malformed formats key")
		_ = r.kv.Delete(ctx, key)
		return
	}

	value, err := r.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return // expired between scan and read
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("formats read failed")
		return
	}
	if err := r.kv.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("formats delete failed")
		return
	}

	if value == kvstore.ErrorSentinel {
		r.send(userID, "❌ Could not read the video's formats.")
		return
	}

	var formats []media.Format
	if err := json.Unmarshal([]byte(value), &formats); err != nil {
		log.Error().Err(err).Str("key", key).Msg("malformed formats value")
		r.send(userID, failureText)
		return
	}
	if len(formats) == 0 {
		r.send(userID, "❌ Could not find any suitable formats.")
		return
	}
	if len(formats) > maxOptions {
		formats = formats[:maxOptions]
	}

	options := make([]notify.FormatOption, 0, len(formats))
	for _, f := range formats {
		sel := kvstore.FormatSelectionKey(userID, f.ID)
		if err := r.kv.Set(ctx, sel, url, kvstore.TTLFormatSelection); err != nil {
			log.Warn().Err(err).Str("key", sel).Msg("selection write failed")
			continue
		}
		options = append(options, notify.FormatOption{
			Label:    FormatLabel(f),
			Callback: jobs.FetchSelector(f.ID),
		})
	}
	if len(options) == 0 {
		r.send(userID, failureText)
		return
	}
	if err := r.notifier.Formats(userID, options); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("formats notification failed")
	}
	log.Info().Int64("user_id", userID).Str("url", url).Int("options", len(options)).Msg("formats offered")
}

// FetchPass reaps every pending fetch result.
func (r *Reconciler) FetchPass(ctx context.Context) error {
	keys, err := r.kv.Scan(ctx, kvstore.FetchResultPattern)
	if err != nil {
		return err
	}
	for _, key := range keys {
		r.reapFetch(ctx, key)
	}
	return nil
}

func (r *Reconciler) reapFetch(ctx context.Context, key string) {
	userID, origURL, err := kvstore.ParseFetchResultKey(key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("dropping malformed fetch key")
		_ = r.kv.Delete(ctx, key)
		return
	}

	value, err := r.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("fetch read failed")
		return
	}
	if err := r.kv.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("fetch delete failed")
		return
	}

	if value == kvstore.ErrorSentinel {
		r.send(userID, failureText)
		return
	}

	if err := r.notifier.Ready(userID, origURL, value); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("ready notification failed")
		r.send(userID, failureText)
		return
	}
	if err := r.quota.Consume(ctx, userID); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("quota charge failed")
	}
	if err := r.logs.LogDownload(ctx, userID, origURL); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("download log failed")
	}
	log.Info().Int64("user_id", userID).Str("url", origURL).Msg("download delivered")
}

func (r *Reconciler) send(userID int64, text string) {
	if err := r.notifier.Text(userID, text); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("notification failed")
	}
}

// FormatLabel renders "note ext - size MB" with the size in MiB to one
// decimal place.
func FormatLabel(f media.Format) string {
	mb := float64(f.Size) / 1024 / 1024
	return strings.TrimSpace(fmt.Sprintf("%s %s - %.1fMB", f.Note, f.Ext, mb))
}
