package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/pkg/util"
)

const emailColumns = `id, message_id, mailbox, thread_id, sender, sender_name, recipients,
	subject, body, summary, state, category, priority, spam_score, spam_rule_id,
	current_draft, draft_count, approval_token, notify_channel, retry_count, error_message,
	follow_up_at, follow_up_note, follow_up_reminded_count, is_vip, is_auto_sent,
	auto_send_eligible, response_time_minutes, received_at, created_at, updated_at,
	sent_at, version`

// EmailFilter narrows email listings. Zero values mean "any".
type EmailFilter struct {
	States   []model.State
	Category model.Category
	Sender   string
	SortBy   string
	Desc     bool
	Limit    int
	Offset   int
}

var emailSortColumns = map[string]string{
	"":            "id",
	"id":          "id",
	"received_at": "received_at",
	"updated_at":  "updated_at",
	"priority":    "priority",
}

type EmailRepository struct {
	db DB
}

func NewEmailRepository(db DB) *EmailRepository {
	return &EmailRepository{db: db}
}

// Create inserts a new email and fills in its id.
func (r *EmailRepository) Create(ctx context.Context, e *model.Email) error {
	e.Version = 1
	e.ReceivedAt = utc(e.ReceivedAt)
	e.CreatedAt = utc(e.CreatedAt)
	e.UpdatedAt = utc(e.UpdatedAt)
	query := r.db.Rebind(`
        INSERT INTO emails (message_id, mailbox, thread_id, sender, sender_name, recipients,
            subject, body, summary, state, category, priority, spam_score, is_vip,
            received_at, created_at, updated_at, version)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id
    `)
	err := r.db.QueryRowxContext(ctx, query,
		e.MessageID, e.Mailbox, e.ThreadID, e.Sender, e.SenderName, e.Recipients,
		e.Subject, e.Body, e.Summary, e.State, string(e.Category), e.Priority, e.SpamScore, e.IsVIP,
		e.ReceivedAt, e.CreatedAt, e.UpdatedAt, e.Version,
	).Scan(&e.ID)
	if err != nil {
		return duplicate(fmt.Errorf("insert email: %w", err))
	}
	return nil
}

// GetByID returns the email or ErrNotFound.
func (r *EmailRepository) GetByID(ctx context.Context, id int64) (*model.Email, error) {
	var e model.Email
	err := sqlx.GetContext(ctx, r.db, &e, r.db.Rebind(`SELECT `+emailColumns+` FROM emails WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// GetByMessage looks an email up by its provider identity.
func (r *EmailRepository) GetByMessage(ctx context.Context, messageID, mailbox string) (*model.Email, error) {
	var e model.Email
	err := sqlx.GetContext(ctx, r.db, &e,
		r.db.Rebind(`SELECT `+emailColumns+` FROM emails WHERE message_id = ? AND mailbox = ?`),
		messageID, mailbox)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// FindByToken returns the email holding token. Tokens are cleared when an
// email leaves the approval-pending states, so a stale token finds nothing.
func (r *EmailRepository) FindByToken(ctx context.Context, token string) (*model.Email, error) {
	var e model.Email
	err := sqlx.GetContext(ctx, r.db, &e,
		r.db.Rebind(`SELECT `+emailColumns+` FROM emails WHERE approval_token = ?`),
		strings.ToLower(token))
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// ListAwaiting returns the emails awaiting approval whose notification went
// to channel.
func (r *EmailRepository) ListAwaiting(ctx context.Context, channel string) ([]*model.Email, error) {
	var out []*model.Email
	err := sqlx.SelectContext(ctx, r.db, &out,
		r.db.Rebind(`SELECT `+emailColumns+` FROM emails WHERE state = ? AND notify_channel = ? ORDER BY id`),
		model.StateAwaitingApproval, channel)
	if err != nil {
		return nil, fmt.Errorf("list awaiting: %w", err)
	}
	return out, nil
}

// List pages through emails matching f and reports the total match count.
func (r *EmailRepository) List(ctx context.Context, f EmailFilter) ([]*model.Email, int, error) {
	var where []string
	var args []interface{}

	if len(f.States) > 0 {
		where = append(where, "state IN (?)")
		args = append(args, f.States)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Sender != "" {
		where = append(where, "LOWER(sender) = ?")
		args = append(args, strings.ToLower(f.Sender))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	sortCol, ok := emailSortColumns[f.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported sort column %q", f.SortBy)
	}
	order := "ASC"
	if f.Desc {
		order = "DESC"
	}

	countQuery, countArgs, err := sqlx.In(`SELECT COUNT(*) FROM emails`+clause, args...)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, r.db.Rebind(countQuery), countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count emails: %w", err)
	}

	listQuery, listArgs, err := sqlx.In(
		`SELECT `+emailColumns+` FROM emails`+clause+
			fmt.Sprintf(` ORDER BY %s %s, id %s LIMIT ? OFFSET ?`, sortCol, order, order),
		append(args, pageLimit(f.Limit, 50, 500), max(f.Offset, 0))...)
	if err != nil {
		return nil, 0, err
	}
	var out []*model.Email
	if err := sqlx.SelectContext(ctx, r.db, &out, r.db.Rebind(listQuery), listArgs...); err != nil {
		return nil, 0, fmt.Errorf("list emails: %w", err)
	}
	return out, total, nil
}

// ListInState returns up to limit emails in state last updated before
// updatedBefore (zero means no bound), oldest first.
func (r *EmailRepository) ListInState(ctx context.Context, state model.State, updatedBefore time.Time, limit int) ([]*model.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE state = ?`
	args := []interface{}{state}
	if !updatedBefore.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, utc(updatedBefore))
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, pageLimit(limit, 100, 1000))

	var out []*model.Email
	if err := sqlx.SelectContext(ctx, r.db, &out, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list %s emails: %w", state, err)
	}
	return out, nil
}

// DueFollowUps returns non-terminal emails with follow_up_at <= now and
// id > afterID, in id order. It is the page source for keyset iteration.
func (r *EmailRepository) DueFollowUps(ctx context.Context, now time.Time, afterID int64, limit int) ([]*model.Email, error) {
	query, args, err := sqlx.In(
		`SELECT `+emailColumns+` FROM emails
         WHERE follow_up_at IS NOT NULL AND follow_up_at <= ? AND id > ? AND state IN (?)
         ORDER BY id LIMIT ?`,
		utc(now), afterID, model.NonTerminalStates(), pageLimit(limit, 100, 1000))
	if err != nil {
		return nil, err
	}
	var out []*model.Email
	if err := sqlx.SelectContext(ctx, r.db, &out, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("due follow-ups: %w", err)
	}
	return out, nil
}

// UpdateGuarded writes every mutable field of e if the stored row still
// has expectedVersion. It bumps e.Version and appends e.PendingDraft.
// Zero matched rows yield ErrConflict; a token clash yields ErrTokenTaken.
func (r *EmailRepository) UpdateGuarded(ctx context.Context, e *model.Email, expectedVersion int64) error {
	e.UpdatedAt = utc(e.UpdatedAt)
	e.FollowUpAt = utcPtr(e.FollowUpAt)
	e.SentAt = utcPtr(e.SentAt)

	query := r.db.Rebind(`
        UPDATE emails SET
            thread_id = ?, summary = ?, state = ?, category = ?, priority = ?, spam_score = ?,
            spam_rule_id = ?, current_draft = ?, draft_count = ?, approval_token = ?,
            notify_channel = ?, retry_count = ?, error_message = ?, follow_up_at = ?,
            follow_up_note = ?, follow_up_reminded_count = ?, is_vip = ?, is_auto_sent = ?,
            auto_send_eligible = ?, response_time_minutes = ?, updated_at = ?, sent_at = ?,
            version = version + 1
        WHERE id = ? AND version = ?
    `)
	res, err := r.db.ExecContext(ctx, query,
		e.ThreadID, e.Summary, e.State, string(e.Category), e.Priority, e.SpamScore,
		e.SpamRuleID, e.CurrentDraft, e.DraftCount, e.ApprovalToken,
		e.NotifyChannel, e.RetryCount, e.ErrorMessage, e.FollowUpAt,
		e.FollowUpNote, e.FollowUpRemindedCount, e.IsVIP, e.IsAutoSent,
		e.AutoSendEligible, e.ResponseTimeMinutes, e.UpdatedAt, e.SentAt,
		e.ID, expectedVersion,
	)
	if err != nil {
		if util.IsUniqueViolation(err) && e.ApprovalToken != nil {
			return ErrTokenTaken
		}
		return fmt.Errorf("update email %d: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	e.Version = expectedVersion + 1

	if e.PendingDraft != nil {
		if err := r.InsertDraft(ctx, e.PendingDraft); err != nil {
			return err
		}
		e.PendingDraft = nil
	}
	return nil
}

// InsertDraft appends one draft version.
func (r *EmailRepository) InsertDraft(ctx context.Context, d *model.DraftVersion) error {
	d.CreatedAt = utc(d.CreatedAt)
	query := r.db.Rebind(`
        INSERT INTO draft_versions (email_id, version, body, instructions, confidence, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        RETURNING id
    `)
	if err := r.db.QueryRowxContext(ctx, query,
		d.EmailID, d.Version, d.Body, d.Instructions, d.Confidence, d.CreatedAt,
	).Scan(&d.ID); err != nil {
		return duplicate(fmt.Errorf("insert draft version: %w", err))
	}
	return nil
}

// Drafts returns the draft history oldest first.
func (r *EmailRepository) Drafts(ctx context.Context, emailID int64) ([]model.DraftVersion, error) {
	var out []model.DraftVersion
	err := sqlx.SelectContext(ctx, r.db, &out,
		r.db.Rebind(`SELECT id, email_id, version, body, instructions, confidence, created_at
            FROM draft_versions WHERE email_id = ? ORDER BY version`), emailID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	return out, nil
}
