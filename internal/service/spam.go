package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
)

// MarkSpam disposes email id as spam on the operator's word and teaches
// the rule engine about its sender.
func (e *Engine) MarkSpam(ctx context.Context, id int64) (*model.Email, error) {
	return e.markSpam(ctx, id, AgentOperator, "")
}

func (e *Engine) markSpam(ctx context.Context, id int64, agent, raw string) (*model.Email, error) {
	out, applied, err := e.machine.Try(ctx, id, lifecycle.Transition{
		To:      model.StateSpamDetected,
		Agent:   agent,
		Reason:  "marked as spam",
		Command: raw,
		Mutate: func(m *model.Email) error {
			m.Category = model.CategorySpamCandidate
			return nil
		},
	})
	if err != nil || !applied {
		return out, err
	}

	learned, err := e.spam.LearnSpam(ctx, out)
	if err != nil {
		e.log(ctx).Error("Spam learning failed", zap.Int64("email_id", id), zap.Error(err))
	} else {
		ruleID := learned.Rule.ID
		amended, aerr := e.machine.Amend(ctx, id, lifecycle.Amendment{
			Agent:   AgentSpam,
			Action:  model.ActionSpamRuleLearned,
			Command: raw,
			Details: model.Details{
				"rule_id":    ruleID,
				"created":    learned.Created,
				"rule_type":  string(learned.Rule.RuleType),
				"pattern":    learned.Rule.Pattern,
				"confidence": learned.Rule.Confidence,
				"action":     string(learned.Rule.Action),
			},
			States: []model.State{model.StateSpamDetected},
			Mutate: func(m *model.Email) error {
				m.SpamRuleID = &ruleID
				return nil
			},
		})
		if aerr != nil {
			e.log(ctx).Warn("Failed to link learned spam rule", zap.Int64("email_id", id), zap.Error(aerr))
		} else {
			out = amended
		}
	}

	e.moveMail(ctx, out, MoveSpam, agent)
	return out, nil
}

// MarkNotSpam overrides a spam disposal. The rule that disposed the email
// takes a false positive, its digest entry is closed as kept, and the email
// goes to drafting.
func (e *Engine) MarkNotSpam(ctx context.Context, id int64) (*model.Email, error) {
	return e.markNotSpam(ctx, id, AgentOperator, "")
}

func (e *Engine) markNotSpam(ctx context.Context, id int64, agent, raw string) (*model.Email, error) {
	em, err := e.emails.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ruleID := em.SpamRuleID

	_, applied, err := e.machine.Try(ctx, id, lifecycle.Transition{
		To:      model.StateActionRequired,
		From:    []model.State{model.StateSpamDetected},
		Agent:   agent,
		Reason:  "not spam",
		Command: raw,
		Mutate: func(m *model.Email) error {
			m.Category = model.CategoryActionRequired
			m.SpamRuleID = nil
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if applied {
		e.resolveDigest(ctx, model.DigestKept, id)
	}
	if applied && ruleID != nil {
		rule, err := e.spam.RecordFalsePositive(ctx, *ruleID)
		if err != nil {
			e.audit.Failure(ctx, AgentSpam, model.ActionSpamFalsePositive, id, model.Details{"rule_id": *ruleID}, err)
		} else {
			e.audit.Success(ctx, AgentSpam, model.ActionSpamFalsePositive, id, model.Details{
				"rule_id":         rule.ID,
				"false_positives": rule.FalsePositives,
				"hit_count":       rule.HitCount,
				"active":          rule.Active,
			})
		}
	}
	return e.Draft(ctx, id, "")
}

// resolveDigest closes the open digest entries of ids. A failure leaves
// the entries listed by review and is only logged.
func (e *Engine) resolveDigest(ctx context.Context, resolution string, ids ...int64) {
	if _, err := e.digest.Resolve(ctx, ids, resolution, e.now()); err != nil {
		e.log(ctx).Warn("Failed to resolve spam digest entries",
			zap.Int64s("email_ids", ids),
			zap.String("resolution", resolution),
			zap.Error(err),
		)
	}
}
