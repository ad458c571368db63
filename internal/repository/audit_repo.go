package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

// AuditRepository only ever inserts and reads.
type AuditRepository struct {
	db DB
}

func NewAuditRepository(db DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, e *model.AuditEntry) error {
	e.Timestamp = utc(e.Timestamp)
	query := r.db.Rebind(`
        INSERT INTO audit_log (ts, agent, action, email_id, details, user_command, success, error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id
    `)
	if err := r.db.QueryRowxContext(ctx, query,
		e.Timestamp, e.Agent, e.Action, e.EmailID, e.Details, e.UserCommand, e.Success, e.Error,
	).Scan(&e.ID); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List returns entries matching f, newest first.
func (r *AuditRepository) List(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	var where []string
	var args []interface{}
	if f.Agent != "" {
		where = append(where, "agent = ?")
		args = append(args, f.Agent)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.EmailID != 0 {
		where = append(where, "email_id = ?")
		args = append(args, f.EmailID)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, utc(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, utc(f.Until))
	}
	if f.Success != nil {
		where = append(where, "success = ?")
		args = append(args, *f.Success)
	}

	query := `SELECT id, ts, agent, action, email_id, details, user_command, success, error FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, pageLimit(f.Limit, 100, 1000), max(f.Offset, 0))

	var out []model.AuditEntry
	if err := sqlx.SelectContext(ctx, r.db, &out, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return out, nil
}
