package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

type DigestRepository struct {
	db DB
}

func NewDigestRepository(db DB) *DigestRepository {
	return &DigestRepository{db: db}
}

func (r *DigestRepository) Add(ctx context.Context, d *model.DigestEntry) error {
	d.CreatedAt = utc(d.CreatedAt)
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`
        INSERT INTO digest_entries (email_id, sender, subject, spam_score, created_at)
        VALUES (?, ?, ?, ?, ?) RETURNING id
    `), d.EmailID, d.Sender, d.Subject, d.SpamScore, d.CreatedAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert digest entry: %w", err)
	}
	return nil
}

// Pending returns undelivered entries oldest first.
func (r *DigestRepository) Pending(ctx context.Context, limit int) ([]model.DigestEntry, error) {
	var out []model.DigestEntry
	err := sqlx.SelectContext(ctx, r.db, &out, r.db.Rebind(`
        SELECT id, email_id, sender, subject, spam_score, created_at, delivered_at, resolved_at, resolution
        FROM digest_entries WHERE delivered_at IS NULL AND resolved_at IS NULL ORDER BY id LIMIT ?
    `), pageLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("list digest: %w", err)
	}
	return out, nil
}

func (r *DigestRepository) MarkDelivered(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE digest_entries SET delivered_at = ? WHERE id IN (?)`, utc(at), ids)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("mark digest delivered: %w", err)
	}
	return nil
}

// Unresolved returns delivered entries nobody has acted on yet, oldest
// first.
func (r *DigestRepository) Unresolved(ctx context.Context, limit int) ([]model.DigestEntry, error) {
	var out []model.DigestEntry
	err := sqlx.SelectContext(ctx, r.db, &out, r.db.Rebind(`
        SELECT id, email_id, sender, subject, spam_score, created_at, delivered_at, resolved_at, resolution
        FROM digest_entries WHERE delivered_at IS NOT NULL AND resolved_at IS NULL ORDER BY id LIMIT ?
    `), pageLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("list unresolved digest: %w", err)
	}
	return out, nil
}

// Resolve closes the open entries of the given emails. It returns how many
// entries it closed.
func (r *DigestRepository) Resolve(ctx context.Context, emailIDs []int64, resolution string, at time.Time) (int64, error) {
	if len(emailIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`
        UPDATE digest_entries SET resolved_at = ?, resolution = ?
        WHERE email_id IN (?) AND resolved_at IS NULL
    `, utc(at), resolution, emailIDs)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("resolve digest: %w", err)
	}
	return res.RowsAffected()
}
