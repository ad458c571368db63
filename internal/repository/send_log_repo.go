package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Send log statuses.
const (
	SendReserved = "reserved"
	SendSent     = "sent"
)

// sendWindowLockKey serializes reservations on postgres.
const sendWindowLockKey = 7243105

// SendLogRepository backs the hourly send budget.
type SendLogRepository struct {
	db DB
}

func NewSendLogRepository(db DB) *SendLogRepository {
	return &SendLogRepository{db: db}
}

// LockWindow takes a transaction-scoped lock so concurrent reservations see
// each other. sqlite already serializes writers.
func (r *SendLogRepository) LockWindow(ctx context.Context) error {
	if !isPostgres(r.db) {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, sendWindowLockKey); err != nil {
		return fmt.Errorf("lock send window: %w", err)
	}
	return nil
}

// CountSince counts reservations and sends whose effective time (send time,
// else reservation time) is after since.
func (r *SendLogRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`
        SELECT COUNT(*) FROM send_log
        WHERE (sent_at IS NOT NULL AND sent_at > ?) OR (sent_at IS NULL AND reserved_at > ?)
    `), utc(since), utc(since))
	if err != nil {
		return 0, fmt.Errorf("count send window: %w", err)
	}
	return n, nil
}

// SendEntry is one row of the send log.
type SendEntry struct {
	ID         int64      `db:"id"`
	EmailID    int64      `db:"email_id"`
	Status     string     `db:"status"`
	ReservedAt time.Time  `db:"reserved_at"`
	SentAt     *time.Time `db:"sent_at"`
}

// ForEmail returns the slot held by emailID, if any.
func (r *SendLogRepository) ForEmail(ctx context.Context, emailID int64) (*SendEntry, error) {
	var e SendEntry
	err := sqlx.GetContext(ctx, r.db, &e, r.db.Rebind(`
        SELECT id, email_id, status, reserved_at, sent_at FROM send_log WHERE email_id = ?
    `), emailID)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// Reserve records an in-flight send for emailID. An email holds at most one
// slot; a second claim fails with ErrDuplicate.
func (r *SendLogRepository) Reserve(ctx context.Context, emailID int64, at time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`
        INSERT INTO send_log (email_id, status, reserved_at) VALUES (?, ?, ?) RETURNING id
    `), emailID, SendReserved, utc(at)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reserve send slot: %w", duplicate(err))
	}
	return id, nil
}

// Confirm marks a reservation as sent at at.
func (r *SendLogRepository) Confirm(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE send_log SET status = ?, sent_at = ? WHERE id = ?`), SendSent, utc(at), id)
	if err != nil {
		return fmt.Errorf("confirm send slot: %w", err)
	}
	return nil
}

// Release drops a reservation whose send failed.
func (r *SendLogRepository) Release(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM send_log WHERE id = ? AND status = ?`), id, SendReserved)
	if err != nil {
		return fmt.Errorf("release send slot: %w", err)
	}
	return nil
}

// Oldest returns the effective time of the oldest entry counted after since.
func (r *SendLogRepository) Oldest(ctx context.Context, since time.Time) (*time.Time, error) {
	var rows []struct {
		ReservedAt time.Time  `db:"reserved_at"`
		SentAt     *time.Time `db:"sent_at"`
	}
	err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(`
        SELECT reserved_at, sent_at FROM send_log
        WHERE (sent_at IS NOT NULL AND sent_at > ?) OR (sent_at IS NULL AND reserved_at > ?)
    `), utc(since), utc(since))
	if err != nil {
		return nil, fmt.Errorf("oldest send: %w", err)
	}
	var oldest *time.Time
	for _, row := range rows {
		t := row.ReservedAt
		if row.SentAt != nil {
			t = *row.SentAt
		}
		if oldest == nil || t.Before(*oldest) {
			oldest = &t
		}
	}
	return oldest, nil
}
