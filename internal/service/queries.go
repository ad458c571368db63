package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/repository"
)

// EmailDetail is an email with its draft history.
type EmailDetail struct {
	*model.Email
	Drafts []model.DraftVersion `json:"drafts"`
}

func (e *Engine) GetEmail(ctx context.Context, id int64) (*EmailDetail, error) {
	em, err := e.emails.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	drafts, err := e.emails.Drafts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &EmailDetail{Email: em, Drafts: drafts}, nil
}

func (e *Engine) ListEmails(ctx context.Context, f repository.EmailFilter) ([]*model.Email, int, error) {
	return e.emails.List(ctx, f)
}

func (e *Engine) ListAudit(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	return e.audit.List(ctx, f)
}

// ValidationError is an administrative input the store would not accept.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *Engine) ListSpamRules(ctx context.Context) ([]model.SpamRule, error) {
	return e.spam.Rules().List(ctx)
}

func (e *Engine) GetSpamRule(ctx context.Context, id int64) (*model.SpamRule, error) {
	return e.spam.Rules().Get(ctx, id)
}

// CreateSpamRule adds an operator-defined rule.
func (e *Engine) CreateSpamRule(ctx context.Context, r *model.SpamRule) error {
	if err := validateRule(r); err != nil {
		return err
	}
	r.CreatedAt = e.now()
	r.Active = true
	return e.spam.Rules().Create(ctx, r)
}

// UpdateSpamRule replaces the editable fields of a rule.
func (e *Engine) UpdateSpamRule(ctx context.Context, r *model.SpamRule) error {
	if err := validateRule(r); err != nil {
		return err
	}
	return e.spam.Rules().Update(ctx, r)
}

func (e *Engine) DeleteSpamRule(ctx context.Context, id int64) error {
	return e.spam.Rules().Delete(ctx, id)
}

func validateRule(r *model.SpamRule) error {
	if _, err := model.ParseRuleType(string(r.RuleType)); err != nil {
		return &ValidationError{Field: "rule_type", Reason: err.Error()}
	}
	if r.Action == "" {
		r.Action = model.RuleActionDigest
	}
	if _, err := model.ParseRuleAction(string(r.Action)); err != nil {
		return &ValidationError{Field: "action", Reason: err.Error()}
	}
	r.Pattern = strings.TrimSpace(r.Pattern)
	if r.Pattern == "" {
		return &ValidationError{Field: "pattern", Reason: "must not be empty"}
	}
	if r.RuleType == model.RulePattern {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return &ValidationError{Field: "pattern", Reason: err.Error()}
		}
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return &ValidationError{Field: "confidence", Reason: "must be within 0..100"}
	}
	return nil
}

func (e *Engine) ListVIPSenders(ctx context.Context) ([]model.VipSender, error) {
	return e.senders.ListVIP(ctx)
}

func (e *Engine) AddVIPSender(ctx context.Context, v *model.VipSender) error {
	if strings.TrimSpace(v.Pattern) == "" {
		return &ValidationError{Field: "pattern", Reason: "must not be empty"}
	}
	v.CreatedAt = e.now()
	return e.senders.AddVIP(ctx, v)
}

func (e *Engine) DeleteVIPSender(ctx context.Context, id int64) error {
	return e.senders.DeleteVIP(ctx, id)
}

func (e *Engine) ListMutedSenders(ctx context.Context) ([]model.MutedSender, error) {
	return e.senders.ListMuted(ctx)
}

func (e *Engine) AddMutedSender(ctx context.Context, m *model.MutedSender) error {
	if strings.TrimSpace(m.Pattern) == "" {
		return &ValidationError{Field: "pattern", Reason: "must not be empty"}
	}
	m.CreatedAt = e.now()
	return e.senders.AddMuted(ctx, m)
}

func (e *Engine) DeleteMutedSender(ctx context.Context, id int64) error {
	return e.senders.DeleteMuted(ctx, id)
}
