// Package dispatch hands jobs to the distributed worker pool. Enqueue
// returns as soon as the broker accepts the task; callers never block
// on job completion, results come back through the shared store.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/raymondsend/ytfetch/internal/jobs"
)

type Kind string

const (
	KindFormatDiscovery Kind = "format_discovery"
	KindFetchUpload     Kind = "fetch_upload"
)

// Handle identifies an accepted job. The pipeline itself keys results by
// (user, url); the handle exists for logging and admin tooling.
type Handle struct {
	ID   string
	Kind Kind
}

// maxRetry is the pool's crash-level retry budget. Executor failures
// never consume it: they are converted to terminal error results.
const maxRetry = 5

type Dispatcher struct {
	client *asynq.Client
}

func New(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

func (d *Dispatcher) EnqueueFormatDiscovery(ctx context.Context, userID int64, url string) (Handle, error) {
	b, err := json.Marshal(jobs.FormatDiscoveryPayload{UserID: userID, URL: url})
	if err != nil {
		return Handle{}, err
	}
	return d.enqueue(ctx, jobs.TaskFormatDiscovery, b, KindFormatDiscovery)
}

func (d *Dispatcher) EnqueueFetch(ctx context.Context, url, selector string, userID int64) (Handle, error) {
	if _, err := jobs.ParseSelector(selector); err != nil {
		return Handle{}, err
	}
	b, err := json.Marshal(jobs.FetchUploadPayload{URL: url, Selector: selector, UserID: userID})
	if err != nil {
		return Handle{}, err
	}
	return d.enqueue(ctx, jobs.TaskFetchUpload, b, KindFetchUpload)
}

func (d *Dispatcher) enqueue(ctx context.Context, task string, payload []byte, kind Kind) (Handle, error) {
	id := uuid.NewString()
	_, err := d.client.EnqueueContext(ctx,
		asynq.NewTask(task, payload),
		asynq.TaskID(id),
		asynq.MaxRetry(maxRetry),
	)
	if err != nil {
		return Handle{}, fmt.Errorf("dispatch: enqueue %s: %w", task, err)
	}
	return Handle{ID: id, Kind: kind}, nil
}
