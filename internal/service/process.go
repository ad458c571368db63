package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/spam"
)

// Process classifies a new email and routes it: muted senders are
// archived and spam is disposed. Alerts, FYI and meeting notices are
// notified or held. Forward candidates are offered for forwarding, and
// everything else, meeting invitations included, goes to drafting. Emails
// that already left new are returned unchanged.
func (e *Engine) Process(ctx context.Context, id int64) (*model.Email, error) {
	em, err := e.emails.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if em.State != model.StateNew {
		return em, nil
	}
	log := e.log(ctx).With(zap.Int64("email_id", id))

	muted, err := e.senders.IsMuted(ctx, em.Sender)
	if err != nil {
		return em, err
	}
	if muted {
		out, err := e.machine.Apply(ctx, id, lifecycle.Transition{
			To:     model.StateArchived,
			From:   []model.State{model.StateNew},
			Agent:  AgentIngestion,
			Reason: "muted sender",
		})
		if err != nil {
			return out, err
		}
		e.moveMail(ctx, out, MoveArchive, AgentIngestion)
		return out, nil
	}

	v, err := e.spam.Classify(ctx, em)
	if err != nil {
		return em, fmt.Errorf("classify email %d: %w", id, err)
	}
	e.audit.Success(ctx, AgentSpam, model.ActionSpamClassified, id, verdictDetails(v))
	if v.Dispose {
		return e.dispose(ctx, em, v)
	}
	scored := func(m *model.Email) {
		m.SpamScore = v.Score
		if v.Rule != nil {
			rid := v.Rule.ID
			m.SpamRuleID = &rid
		}
	}

	if e.isAlert(ctx, em) {
		log.Info("Alert email routed to FYI")
		em.Category = model.CategoryAlert
		scored(em)
		return e.notifyFYI(ctx, em, model.StateNew, func(m *model.Email) error {
			m.Category = model.CategoryAlert
			scored(m)
			return nil
		})
	}

	tr := e.triage(ctx, em)
	if tr.Summary == "" {
		tr.Summary = e.summarize(ctx, em)
	}
	switch meeting(em, tr) {
	case meetingInvite:
		tr.Category, tr.NeedsReply = model.CategoryMeeting, true
	case meetingNotice:
		tr.Category, tr.NeedsReply = model.CategoryMeeting, false
	}
	classified := func(m *model.Email) error {
		m.Category = tr.Category
		m.Priority = tr.Priority
		m.Summary = tr.Summary
		scored(m)
		return nil
	}

	if tr.Category == model.CategoryForwardCandidate {
		out, err := e.machine.Apply(ctx, id, lifecycle.Transition{
			To:      model.StateActionRequired,
			From:    []model.State{model.StateNew},
			Agent:   AgentTriage,
			Reason:  "forward candidate",
			Details: model.Details{"category": string(tr.Category), "priority": tr.Priority},
			Mutate:  classified,
		})
		if err != nil {
			return out, err
		}
		return e.suggestForward(ctx, out)
	}

	if tr.Category == model.CategoryFYI || !tr.NeedsReply {
		if tr.Priority >= model.PriorityLow {
			return e.machine.Apply(ctx, id, lifecycle.Transition{
				To:     model.StateHeldForMorning,
				From:   []model.State{model.StateNew},
				Agent:  AgentTriage,
				Reason: "low priority fyi",
				Mutate: classified,
			})
		}
		view := em.Clone()
		_ = classified(view)
		return e.notifyFYI(ctx, view, model.StateNew, classified)
	}

	out, err := e.machine.Apply(ctx, id, lifecycle.Transition{
		To:      model.StateActionRequired,
		From:    []model.State{model.StateNew},
		Agent:   AgentTriage,
		Reason:  "reply needed",
		Details: model.Details{"category": string(tr.Category), "priority": tr.Priority},
		Mutate:  classified,
	})
	if err != nil {
		return out, err
	}
	return e.Draft(ctx, id, "")
}

// suggestForward asks the channel where an action_required email should
// be forwarded and parks it in forward_suggested until the operator
// answers.
func (e *Engine) suggestForward(ctx context.Context, em *model.Email) (*model.Email, error) {
	if err := e.notify(ctx, AgentTriage, forwardSuggestionMessage(em)); err != nil {
		e.fail(ctx, em.ID, AgentTriage, err)
		return nil, err
	}
	return e.machine.Apply(ctx, em.ID, lifecycle.Transition{
		To:     model.StateForwardSuggested,
		From:   []model.State{model.StateActionRequired},
		Agent:  AgentTriage,
		Reason: "forward suggested",
		Mutate: func(m *model.Email) error {
			m.NotifyChannel = e.settings.Channel
			return nil
		},
	})
}

// dispose routes a new email straight to spam and applies the verdict's
// action to the mailbox.
func (e *Engine) dispose(ctx context.Context, em *model.Email, v spam.Verdict) (*model.Email, error) {
	out, err := e.machine.Apply(ctx, em.ID, lifecycle.Transition{
		To:      model.StateSpamDetected,
		From:    []model.State{model.StateNew},
		Agent:   AgentSpam,
		Reason:  v.Reason,
		Details: model.Details{"score": v.Score, "action": string(v.Action)},
		Mutate: func(m *model.Email) error {
			m.SpamScore = v.Score
			m.Category = model.CategorySpamCandidate
			if v.Rule != nil {
				rid := v.Rule.ID
				m.SpamRuleID = &rid
			}
			return nil
		},
	})
	if err != nil {
		return out, err
	}

	switch v.Action {
	case model.RuleActionArchive:
		e.moveMail(ctx, out, MoveSpam, AgentSpam)
	case model.RuleActionDelete:
		e.moveMail(ctx, out, MoveTrash, AgentSpam)
	default:
		err := e.digest.Add(ctx, &model.DigestEntry{
			EmailID:   out.ID,
			Sender:    out.Sender,
			Subject:   out.Subject,
			SpamScore: out.SpamScore,
			CreatedAt: e.now(),
		})
		if err != nil {
			e.log(ctx).Error("Failed to queue spam digest entry", zap.Int64("email_id", out.ID), zap.Error(err))
		}
	}
	return out, nil
}

// triage asks the collaborator for a classification. A failure is not
// fatal: the email is treated as needing a reply at normal priority.
func (e *Engine) triage(ctx context.Context, em *model.Email) TriageResult {
	var tr TriageResult
	err := e.call(ctx, "triage", em.ID, func(ctx context.Context) error {
		var err error
		tr, err = e.triager.Triage(ctx, em)
		return err
	})
	if err != nil {
		e.audit.Failure(ctx, AgentTriage, model.ActionTriage, em.ID, model.Details{"fallback": "action_required"}, err)
		e.log(ctx).Warn("Triage failed, assuming a reply is needed", zap.Int64("email_id", em.ID), zap.Error(err))
		return TriageResult{
			Category:   model.CategoryActionRequired,
			Priority:   model.PriorityNormal,
			NeedsReply: true,
		}
	}
	e.audit.Success(ctx, AgentTriage, model.ActionTriage, em.ID, model.Details{
		"category":    string(tr.Category),
		"priority":    tr.Priority,
		"needs_reply": tr.NeedsReply,
	})
	if tr.Priority < model.PriorityCritical || tr.Priority > model.PriorityMinimal {
		tr.Priority = model.PriorityNormal
	}
	if em.IsVIP && tr.Priority > model.PriorityHigh {
		tr.Priority = model.PriorityHigh
	}
	if e.isInternal(em.Sender) && tr.Category == model.CategoryUncategorized {
		tr.Category = model.CategoryActionRequired
	}
	return tr
}

func (e *Engine) summarize(ctx context.Context, em *model.Email) string {
	var summary string
	err := e.call(ctx, "summarize", 0, func(ctx context.Context) error {
		var err error
		summary, err = e.drafter.Summarize(ctx, em)
		return err
	})
	if err != nil {
		e.log(ctx).Warn("Summary unavailable", zap.Int64("email_id", em.ID), zap.Error(err))
		return ""
	}
	return summary
}

// notifyFYI tells the channel about em and moves it to fyi_notified.
func (e *Engine) notifyFYI(ctx context.Context, em *model.Email, from model.State, mutate func(*model.Email) error) (*model.Email, error) {
	if err := e.notify(ctx, AgentTriage, fyiMessage(em)); err != nil {
		e.fail(ctx, em.ID, AgentTriage, err)
		return nil, err
	}
	return e.machine.Apply(ctx, em.ID, lifecycle.Transition{
		To:     model.StateFYINotified,
		From:   []model.State{from},
		Agent:  AgentTriage,
		Reason: "notified",
		Mutate: mutate,
	})
}

func verdictDetails(v spam.Verdict) model.Details {
	d := model.Details{
		"score":    v.Score,
		"source":   v.Source,
		"dispose":  v.Dispose,
		"possible": v.Possible,
	}
	if v.Reason != "" {
		d["reason"] = v.Reason
	}
	if v.Rule != nil {
		d["rule_id"] = v.Rule.ID
	}
	if v.Dispose {
		d["action"] = string(v.Action)
	}
	if v.VIPProtected {
		d["vip_protected"] = true
	}
	return d
}
