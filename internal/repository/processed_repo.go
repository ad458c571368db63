package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ProcessedRepository is the write-once dedup ledger.
type ProcessedRepository struct {
	db DB
}

func NewProcessedRepository(db DB) *ProcessedRepository {
	return &ProcessedRepository{db: db}
}

// Insert records (messageID, mailbox) unless present. It reports whether
// this call created the row; the primary key makes that decision atomic.
func (r *ProcessedRepository) Insert(ctx context.Context, messageID, mailbox string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
        INSERT INTO processed_messages (message_id, mailbox, processed_at)
        VALUES (?, ?, ?)
        ON CONFLICT (message_id, mailbox) DO NOTHING
    `), messageID, mailbox, utc(at))
	if err != nil {
		return false, fmt.Errorf("insert ledger row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Exists reports whether the pair was already admitted.
func (r *ProcessedRepository) Exists(ctx context.Context, messageID, mailbox string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(
		`SELECT COUNT(*) FROM processed_messages WHERE message_id = ? AND mailbox = ?`), messageID, mailbox)
	if err != nil {
		return false, fmt.Errorf("check ledger: %w", err)
	}
	return n > 0, nil
}

// Delete removes the pair so it can be admitted again.
func (r *ProcessedRepository) Delete(ctx context.Context, messageID, mailbox string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM processed_messages WHERE message_id = ? AND mailbox = ?`), messageID, mailbox)
	if err != nil {
		return fmt.Errorf("delete ledger row: %w", err)
	}
	return nil
}
