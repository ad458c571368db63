package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

const spamRuleColumns = `id, rule_type, pattern, action, confidence, hit_count, false_positives,
	active, created_at, last_hit_at`

type SpamRuleRepository struct {
	db DB
}

func NewSpamRuleRepository(db DB) *SpamRuleRepository {
	return &SpamRuleRepository{db: db}
}

// ListActive returns active rules by descending confidence.
func (r *SpamRuleRepository) ListActive(ctx context.Context) ([]model.SpamRule, error) {
	var out []model.SpamRule
	err := sqlx.SelectContext(ctx, r.db, &out, r.db.Rebind(
		`SELECT `+spamRuleColumns+` FROM spam_rules WHERE active = ? ORDER BY confidence DESC, hit_count DESC, id`), true)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	return out, nil
}

// List returns every rule, active or not.
func (r *SpamRuleRepository) List(ctx context.Context) ([]model.SpamRule, error) {
	var out []model.SpamRule
	err := sqlx.SelectContext(ctx, r.db, &out, `SELECT `+spamRuleColumns+` FROM spam_rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return out, nil
}

func (r *SpamRuleRepository) Get(ctx context.Context, id int64) (*model.SpamRule, error) {
	var rule model.SpamRule
	err := sqlx.GetContext(ctx, r.db, &rule, r.db.Rebind(`SELECT `+spamRuleColumns+` FROM spam_rules WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &rule, nil
}

// FindByPattern returns the rule for (type, pattern), active or not.
func (r *SpamRuleRepository) FindByPattern(ctx context.Context, t model.RuleType, pattern string) (*model.SpamRule, error) {
	var rule model.SpamRule
	err := sqlx.GetContext(ctx, r.db, &rule, r.db.Rebind(
		`SELECT `+spamRuleColumns+` FROM spam_rules WHERE rule_type = ? AND pattern = ?`), string(t), pattern)
	if err != nil {
		return nil, notFound(err)
	}
	return &rule, nil
}

func (r *SpamRuleRepository) Create(ctx context.Context, rule *model.SpamRule) error {
	rule.CreatedAt = utc(rule.CreatedAt)
	query := r.db.Rebind(`
        INSERT INTO spam_rules (rule_type, pattern, action, confidence, hit_count, false_positives, active, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id
    `)
	if err := r.db.QueryRowxContext(ctx, query,
		string(rule.RuleType), rule.Pattern, string(rule.Action), rule.Confidence,
		rule.HitCount, rule.FalsePositives, rule.Active, rule.CreatedAt,
	).Scan(&rule.ID); err != nil {
		return duplicate(fmt.Errorf("insert spam rule: %w", err))
	}
	return nil
}

// Update overwrites the mutable fields of rule.
func (r *SpamRuleRepository) Update(ctx context.Context, rule *model.SpamRule) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
        UPDATE spam_rules SET rule_type = ?, pattern = ?, action = ?, confidence = ?,
            hit_count = ?, false_positives = ?, active = ?, last_hit_at = ?
        WHERE id = ?
    `), string(rule.RuleType), rule.Pattern, string(rule.Action), rule.Confidence,
		rule.HitCount, rule.FalsePositives, rule.Active, utcPtr(rule.LastHitAt), rule.ID)
	if err != nil {
		return duplicate(fmt.Errorf("update spam rule %d: %w", rule.ID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordHit increments hit_count in place so concurrent classifications
// never lose a count.
func (r *SpamRuleRepository) RecordHit(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE spam_rules SET hit_count = hit_count + 1, last_hit_at = ? WHERE id = ?`), utc(at), id)
	if err != nil {
		return fmt.Errorf("record rule hit %d: %w", id, err)
	}
	return nil
}

func (r *SpamRuleRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM spam_rules WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete spam rule %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Strengthen raises confidence by boost (capped at 100), counts a hit and
// re-activates the rule.
func (r *SpamRuleRepository) Strengthen(ctx context.Context, id int64, boost int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
        UPDATE spam_rules SET
            confidence = CASE WHEN confidence + ? > 100 THEN 100 ELSE confidence + ? END,
            hit_count = hit_count + 1,
            active = ?,
            last_hit_at = ?
        WHERE id = ?
    `), boost, boost, true, utc(at), id)
	if err != nil {
		return fmt.Errorf("strengthen rule %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddFalsePositive counts a human override, lowers confidence by penalty
// and deactivates the rule once it has minSamples hits and its
// false-positive ratio reaches ratio.
func (r *SpamRuleRepository) AddFalsePositive(ctx context.Context, id int64, penalty, minSamples int, ratio float64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
        UPDATE spam_rules SET
            false_positives = false_positives + 1,
            confidence = CASE WHEN confidence - ? < 0 THEN 0 ELSE confidence - ? END,
            active = CASE
                WHEN hit_count > 0 AND hit_count >= ? AND (false_positives + 1) >= CAST(? AS DOUBLE PRECISION) * hit_count THEN ?
                ELSE active
            END
        WHERE id = ?
    `), penalty, penalty, minSamples, ratio, false, id)
	if err != nil {
		return fmt.Errorf("record false positive on rule %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAction changes the disposal action of a rule.
func (r *SpamRuleRepository) SetAction(ctx context.Context, id int64, action model.RuleAction) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE spam_rules SET action = ? WHERE id = ?`), string(action), id)
	if err != nil {
		return fmt.Errorf("set rule %d action: %w", id, err)
	}
	return nil
}
