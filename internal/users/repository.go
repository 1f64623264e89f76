package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the relational side of the system: user profiles, the
// sent-link counter and the download history log.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, userID int64) (*User, error) {
	const q = `
		SELECT user_id, user_name, status, sent_links, COALESCE(download_limit, $2)
		FROM users WHERE user_id = $1`
	u := &User{}
	err := r.pool.QueryRow(ctx, q, userID, DefaultDownloadLimit).
		Scan(&u.ID, &u.Name, &u.Status, &u.SentLinks, &u.DownloadLimit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: get %d: %w", userID, err)
	}
	return u, nil
}

// Insert registers a user on first contact. Re-running it for a known
// user is a no-op.
func (r *Repository) Insert(ctx context.Context, userID int64, name string) error {
	const q = `
		INSERT INTO users (user_id, user_name, status, sent_links, download_limit)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, q, userID, name, StatusActive, DefaultDownloadLimit); err != nil {
		return fmt.Errorf("users: insert %d: %w", userID, err)
	}
	return nil
}

func (r *Repository) IncrementSentLinks(ctx context.Context, userID int64) error {
	const q = `UPDATE users SET sent_links = sent_links + 1 WHERE user_id = $1`
	if _, err := r.pool.Exec(ctx, q, userID); err != nil {
		return fmt.Errorf("users: increment sent_links %d: %w", userID, err)
	}
	return nil
}

// LogDownload appends one row of download history.
func (r *Repository) LogDownload(ctx context.Context, userID int64, url string) error {
	const q = `INSERT INTO downloads (user_id, url) VALUES ($1, $2)`
	if _, err := r.pool.Exec(ctx, q, userID, url); err != nil {
		return fmt.Errorf("users: log download %d: %w", userID, err)
	}
	return nil
}

// LogEvent records a chat-level event for audit.
func (r *Repository) LogEvent(ctx context.Context, userID int64, userName, action, kind string) error {
	const q = `INSERT INTO event_log (user_id, user_name, action, kind) VALUES ($1, $2, $3, $4)`
	if _, err := r.pool.Exec(ctx, q, userID, userName, action, kind); err != nil {
		return fmt.Errorf("users: log event %d: %w", userID, err)
	}
	return nil
}

func (r *Repository) UpdateStatus(ctx context.Context, userID int64, status Status) error {
	const q = `UPDATE users SET status = $2 WHERE user_id = $1`
	tag, err := r.pool.Exec(ctx, q, userID, status)
	if err != nil {
		return fmt.Errorf("users: update status %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveIDs lists every user the broadcast engine may message.
func (r *Repository) ActiveIDs(ctx context.Context) ([]int64, error) {
	const q = `SELECT user_id FROM users WHERE status = $1`
	rows, err := r.pool.Query(ctx, q, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("users: active ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("users: active ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
