package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

// SenderRepository stores the VIP and muted sender lists.
type SenderRepository struct {
	db DB
}

func NewSenderRepository(db DB) *SenderRepository {
	return &SenderRepository{db: db}
}

func normalizePattern(p string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p)), "@")
}

func (r *SenderRepository) ListVIP(ctx context.Context) ([]model.VipSender, error) {
	var out []model.VipSender
	if err := sqlx.SelectContext(ctx, r.db, &out, `SELECT id, pattern, note, created_at FROM vip_senders ORDER BY pattern`); err != nil {
		return nil, fmt.Errorf("list vip senders: %w", err)
	}
	return out, nil
}

func (r *SenderRepository) AddVIP(ctx context.Context, v *model.VipSender) error {
	v.Pattern = normalizePattern(v.Pattern)
	v.CreatedAt = utc(v.CreatedAt)
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(
		`INSERT INTO vip_senders (pattern, note, created_at) VALUES (?, ?, ?) RETURNING id`),
		v.Pattern, v.Note, v.CreatedAt).Scan(&v.ID)
	if err != nil {
		return duplicate(fmt.Errorf("insert vip sender: %w", err))
	}
	return nil
}

func (r *SenderRepository) DeleteVIP(ctx context.Context, id int64) error {
	return r.deleteFrom(ctx, "vip_senders", id)
}

func (r *SenderRepository) ListMuted(ctx context.Context) ([]model.MutedSender, error) {
	var out []model.MutedSender
	if err := sqlx.SelectContext(ctx, r.db, &out, `SELECT id, pattern, reason, created_at FROM muted_senders ORDER BY pattern`); err != nil {
		return nil, fmt.Errorf("list muted senders: %w", err)
	}
	return out, nil
}

func (r *SenderRepository) AddMuted(ctx context.Context, m *model.MutedSender) error {
	m.Pattern = normalizePattern(m.Pattern)
	m.CreatedAt = utc(m.CreatedAt)
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(
		`INSERT INTO muted_senders (pattern, reason, created_at) VALUES (?, ?, ?) RETURNING id`),
		m.Pattern, m.Reason, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return duplicate(fmt.Errorf("insert muted sender: %w", err))
	}
	return nil
}

func (r *SenderRepository) DeleteMuted(ctx context.Context, id int64) error {
	return r.deleteFrom(ctx, "muted_senders", id)
}

// table is one of the two fixed names above, never user input.
func (r *SenderRepository) deleteFrom(ctx context.Context, table string, id int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM `+table+` WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsMuted reports whether sender matches any muted pattern.
func (r *SenderRepository) IsMuted(ctx context.Context, sender string) (bool, error) {
	muted, err := r.ListMuted(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range muted {
		if model.MatchesSender(m.Pattern, sender) {
			return true, nil
		}
	}
	return false, nil
}

// IsVIP reports whether sender matches any stored VIP pattern.
func (r *SenderRepository) IsVIP(ctx context.Context, sender string) (bool, error) {
	vips, err := r.ListVIP(ctx)
	if err != nil {
		return false, err
	}
	for _, v := range vips {
		if model.MatchesSender(v.Pattern, sender) {
			return true, nil
		}
	}
	return false, nil
}
