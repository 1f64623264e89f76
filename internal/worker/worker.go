// Package worker executes the two job kinds to completion. Every job
// leaves exactly one terminal result in the shared store, success or
// the "error" sentinel, and releases its throttle key either way; a job
// must never silently vanish.
package worker

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/oklog/ulid/v2"

	"github.com/raymondsend/ytfetch/internal/jobs"
	"github.com/raymondsend/ytfetch/internal/kvstore"
	"github.com/raymondsend/ytfetch/internal/logx"
	"github.com/raymondsend/ytfetch/internal/media"
	"github.com/raymondsend/ytfetch/internal/storage"
	"github.com/raymondsend/ytfetch/internal/throttle"
)

// Uploader is the "store bytes, get back a fetchable URL" collaborator.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

type Worker struct {
	kv       kvstore.Store
	throttle *throttle.Store
	resolver media.Resolver
	uploader Uploader
	scratch  string // base dir for per-job download scratch space
}

func New(kv kvstore.Store, th *throttle.Store, resolver media.Resolver, uploader Uploader, scratch string) *Worker {
	return &Worker{kv: kv, throttle: th, resolver: resolver, uploader: uploader, scratch: scratch}
}

// Mux wires both handlers into an asynq mux.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.TaskFormatDiscovery, w.HandleFormatDiscovery)
	mux.HandleFunc(jobs.TaskFetchUpload, w.HandleFetchUpload)
	return mux
}

// HandleFormatDiscovery resolves the remote encodings, keeps the
// browser-playable ones sorted largest first, and publishes the list.
// Resolver failure publishes the sentinel instead; a returned error here
// means only that the store itself was unreachable.
func (w *Worker) HandleFormatDiscovery(ctx context.Context, t *asynq.Task) error {
	var p jobs.FormatDiscoveryPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}
	ctx = logx.WithURL(logx.WithUser(ctx, p.UserID), p.URL)
	l := logx.FromCtx(ctx)
	defer func() {
		if err := w.throttle.Release(ctx, p.UserID, throttle.ActionSend); err != nil {
			l.Warn().Err(err).Msg("throttle release failed")
		}
	}()

	key := kvstore.FormatsResultKey(p.UserID, p.URL)
	formats, err := w.resolver.Formats(ctx, p.URL)
	if err != nil {
		l.Error().Err(err).Msg("format discovery failed")
		return w.kv.Set(ctx, key, kvstore.ErrorSentinel, kvstore.TTLFormatsResult)
	}

	playable := media.BrowserPlayable(formats)
	b, err := json.Marshal(playable)
	if err != nil {
		return w.kv.Set(ctx, key, kvstore.ErrorSentinel, kvstore.TTLFormatsResult)
	}
	l.Info().Int("formats", len(playable)).Msg("formats published")
	return w.kv.Set(ctx, key, string(b), kvstore.TTLFormatsResult)
}

// HandleFetchUpload downloads the chosen format, uploads it to object
// storage and publishes the presigned URL. Any stage failing publishes
// the sentinel with the shorter error TTL.
func (w *Worker) HandleFetchUpload(ctx context.Context, t *asynq.Task) error {
	var p jobs.FetchUploadPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}
	ctx = logx.WithURL(logx.WithUser(ctx, p.UserID), p.URL)
	l := logx.FromCtx(ctx)
	defer func() {
		if err := w.throttle.Release(ctx, p.UserID, throttle.ActionDownload); err != nil {
			l.Warn().Err(err).Msg("throttle release failed")
		}
	}()

	key := kvstore.FetchResultKey(p.UserID, p.URL)
	url, err := w.fetchAndUpload(ctx, p)
	if err != nil {
		l.Error().Err(err).Msg("fetch job failed")
		return w.kv.Set(ctx, key, kvstore.ErrorSentinel, kvstore.TTLFetchError)
	}
	l.Info().Msg("fetch result published")
	return w.kv.Set(ctx, key, url, kvstore.TTLFetchResult)
}

func (w *Worker) fetchAndUpload(ctx context.Context, p jobs.FetchUploadPayload) (string, error) {
	formatID, err := jobs.ParseSelector(p.Selector)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(w.scratch, newULID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path, _, err := w.resolver.Fetch(ctx, p.URL, formatID, dir)
	if err != nil {
		return "", err
	}
	return w.uploader.Upload(ctx, path, storage.ObjectKey(p.UserID, filepath.Base(path)))
}

func newULID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
