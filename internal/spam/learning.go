package spam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/repository"
)

// Shared mailbox providers; a domain rule on these would hit everyone.
var freemailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"outlook.com":    true,
	"hotmail.com":    true,
	"live.com":       true,
	"icloud.com":     true,
	"aol.com":        true,
	"proton.me":      true,
	"protonmail.com": true,
	"gmx.com":        true,
	"mail.com":       true,
}

// Learned describes what a spam command did to the rule set.
type Learned struct {
	Rule    *model.SpamRule
	Created bool
}

// LearnSpam teaches the engine that e is spam. The rule that flagged e, or
// else the rule for its sender (freemail) or domain, is strengthened; when
// none exists a new digest rule is created below the disposal threshold.
func (g *Engine) LearnSpam(ctx context.Context, e *model.Email) (Learned, error) {
	var existing *model.SpamRule
	var err error
	if e.SpamRuleID != nil {
		existing, err = g.rules.Get(ctx, *e.SpamRuleID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return Learned{}, err
		}
	}

	ruleType, pattern := learnTarget(e)
	if pattern == "" {
		return Learned{}, fmt.Errorf("email %d has no sender to learn from", e.ID)
	}
	if existing == nil {
		existing, err = g.rules.FindByPattern(ctx, ruleType, pattern)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return Learned{}, err
		}
	}

	if existing == nil {
		rule := &model.SpamRule{
			RuleType:   ruleType,
			Pattern:    pattern,
			Action:     model.RuleActionDigest,
			Confidence: min(g.cfg.LearnedConfidence, g.cfg.DisposalThreshold-1),
			HitCount:   1,
			Active:     true,
			CreatedAt:  g.now(),
		}
		if err := g.rules.Create(ctx, rule); err != nil {
			return Learned{}, err
		}
		g.logger.Info("Learned new spam rule",
			zap.Int64("rule_id", rule.ID),
			zap.String("rule_type", string(rule.RuleType)),
			zap.String("pattern", rule.Pattern),
			zap.Int("confidence", rule.Confidence),
		)
		return Learned{Rule: rule, Created: true}, nil
	}

	if err := g.rules.Strengthen(ctx, existing.ID, g.cfg.Boost, g.now()); err != nil {
		return Learned{}, err
	}
	rule, err := g.rules.Get(ctx, existing.ID)
	if err != nil {
		return Learned{}, err
	}
	if next := escalation(rule.HitCount, g.cfg); next.Rank() > rule.Action.Rank() {
		if err := g.rules.SetAction(ctx, rule.ID, next); err != nil {
			return Learned{}, err
		}
		rule.Action = next
	}
	g.logger.Info("Strengthened spam rule",
		zap.Int64("rule_id", rule.ID),
		zap.Int("confidence", rule.Confidence),
		zap.Int("hit_count", rule.HitCount),
		zap.String("action", string(rule.Action)),
	)
	return Learned{Rule: rule}, nil
}

// RecordFalsePositive counts a human not-spam override against ruleID.
// The returned rule may have been deactivated.
func (g *Engine) RecordFalsePositive(ctx context.Context, ruleID int64) (*model.SpamRule, error) {
	err := g.rules.AddFalsePositive(ctx, ruleID, g.cfg.FPPenalty, g.cfg.FPMinSamples, g.cfg.FPRatio)
	if err != nil {
		return nil, err
	}
	rule, err := g.rules.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.Active {
		g.logger.Info("Spam rule deactivated by false positives",
			zap.Int64("rule_id", rule.ID),
			zap.Int("hit_count", rule.HitCount),
			zap.Int("false_positives", rule.FalsePositives),
		)
	}
	return rule, nil
}

func learnTarget(e *model.Email) (model.RuleType, string) {
	domain := e.SenderDomain()
	if domain == "" {
		return model.RuleSender, ""
	}
	if freemailDomains[domain] {
		return model.RuleSender, strings.ToLower(strings.TrimSpace(e.Sender))
	}
	return model.RuleDomain, domain
}
