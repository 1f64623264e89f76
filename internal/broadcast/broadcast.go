// Package broadcast walks a recipient list, tracking progress in the
// shared store so an in-flight mailing survives inspection and can be
// cancelled by clearing the pending set.
package broadcast

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raymondsend/ytfetch/internal/kvstore"
	"github.com/raymondsend/ytfetch/internal/users"
)

// SendFunc delivers one message to one user.
type SendFunc func(userID int64) error

// StatusSink transitions users whose delivery failure proves they are
// unreachable; satisfied by users.Repository.
type StatusSink interface {
	UpdateStatus(ctx context.Context, userID int64, status users.Status) error
}

type Result struct {
	Sent     int
	Failed   int
	Duration time.Duration
}

type Mailer struct {
	kv    kvstore.Store
	users StatusSink

	// Pause between sends keeps the sender under the chat API's flood
	// limits. Tests set it to zero.
	Pause time.Duration
}

func NewMailer(kv kvstore.Store, sink StatusSink) *Mailer {
	return &Mailer{kv: kv, users: sink, Pause: 500 * time.Millisecond}
}

// Run seeds the pending set and delivers to every recipient still in
// it. A recipient already removed (by Cancel or a concurrent run) is
// skipped.
func (m *Mailer) Run(ctx context.Context, recipients []int64, send SendFunc) (Result, error) {
	members := make([]string, len(recipients))
	for i, id := range recipients {
		members[i] = strconv.FormatInt(id, 10)
	}
	if err := m.kv.SetAdd(ctx, kvstore.KeyMailingProgress, members...); err != nil {
		return Result{}, err
	}
	if err := m.kv.Set(ctx, kvstore.KeyMailingTotal, strconv.Itoa(len(recipients)), 0); err != nil {
		return Result{}, err
	}

	start := time.Now()
	var res Result
	for i, id := range recipients {
		select {
		case <-ctx.Done():
			res.Duration = time.Since(start)
			return res, ctx.Err()
		default:
		}

		pending, err := m.kv.SetContains(ctx, kvstore.KeyMailingProgress, members[i])
		if err != nil || !pending {
			continue
		}

		if err := send(id); err != nil {
			res.Failed++
			_ = m.kv.SetRemove(ctx, kvstore.KeyMailingProgress, members[i])
			log.Error().Err(err).Int64("user_id", id).Msg("broadcast delivery failed")
			if st := ClassifyDeliveryError(err); st != "" {
				if uerr := m.users.UpdateStatus(ctx, id, st); uerr != nil {
					log.Warn().Err(uerr).Int64("user_id", id).Msg("status transition failed")
				}
			}
			continue
		}
		res.Sent++
		_ = m.kv.SetRemove(ctx, kvstore.KeyMailingProgress, members[i])
		if m.Pause > 0 {
			time.Sleep(m.Pause)
		}
	}

	res.Duration = time.Since(start)
	log.Info().Int("sent", res.Sent).Int("failed", res.Failed).Dur("took", res.Duration).Msg("broadcast finished")
	return res, nil
}

// Status reports how many recipients are still pending out of the total.
func (m *Mailer) Status(ctx context.Context) (pending, total int64, err error) {
	pending, err = m.kv.SetLen(ctx, kvstore.KeyMailingProgress)
	if err != nil {
		return 0, 0, err
	}
	raw, err := m.kv.Get(ctx, kvstore.KeyMailingTotal)
	switch {
	case err == nil:
		total, _ = strconv.ParseInt(raw, 10, 64)
	case !errors.Is(err, kvstore.ErrNotFound):
		return 0, 0, err
	}
	return pending, total, nil
}

// Cancel clears the pending set; an in-flight Run stops delivering as
// soon as it sees recipients missing from it.
func (m *Mailer) Cancel(ctx context.Context) error {
	return m.kv.Delete(ctx, kvstore.KeyMailingProgress, kvstore.KeyMailingTotal)
}

// ClassifyDeliveryError maps chat API failure text onto a user status
// transition. Unrecognized failures are counted but change nothing.
func ClassifyDeliveryError(err error) users.Status {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "bot was blocked by the user"):
		return users.StatusBlocked
	case strings.Contains(msg, "user is deactivated"):
		return users.StatusDeleted
	}
	return ""
}
