package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
)

// Draft generates the first reply for an action_required email, issues its
// approval token and asks the channel for approval. With auto-send on, an
// eligible email is approved and sent without asking.
func (e *Engine) Draft(ctx context.Context, id int64, instructions string) (*model.Email, error) {
	em, err := e.emails.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if em.State.ApprovalPending() {
		return em, nil
	}
	if em.State != model.StateActionRequired {
		return e.machine.Apply(ctx, id, lifecycle.Transition{
			To:     model.StateDraftGenerated,
			From:   []model.State{model.StateActionRequired},
			Agent:  AgentDrafting,
			Reason: "draft requested",
		})
	}

	dr, err := e.generate(ctx, em, instructions)
	if err != nil {
		e.fail(ctx, id, AgentDrafting, err)
		return nil, err
	}

	eligible := e.autoSendEligible(em, dr.Confidence, e.possibleSpam(em))
	out, err := e.machine.Apply(ctx, id, lifecycle.Transition{
		To:         model.StateDraftGenerated,
		From:       []model.State{model.StateActionRequired},
		Agent:      AgentDrafting,
		Reason:     "draft ready",
		IssueToken: true,
		Mutate: func(m *model.Email) error {
			m.AppendDraft(dr.Body, instructions, dr.Confidence, e.now())
			m.AutoSendEligible = eligible
			return nil
		},
	})
	if err != nil {
		return out, err
	}
	e.audit.Success(ctx, AgentDrafting, model.ActionDraftGenerated, id, model.Details{
		"version":    out.DraftCount,
		"confidence": dr.Confidence,
		"eligible":   eligible,
	})

	return e.offer(ctx, out)
}

// offer hands a fresh draft to auto-send when policy allows, else to the
// approval channel.
func (e *Engine) offer(ctx context.Context, em *model.Email) (*model.Email, error) {
	if e.settings.AutoSend.Enabled && em.AutoSendEligible {
		return e.autoSend(ctx, em)
	}
	return e.requestApproval(ctx, em, AgentDrafting)
}

// generate calls the drafting collaborator under the retry budget. The
// first draft for a meeting invitation is guided by meetingGuidance unless
// the caller gave instructions.
func (e *Engine) generate(ctx context.Context, em *model.Email, instructions string) (DraftResult, error) {
	if instructions == "" && em.DraftCount == 0 && em.Category == model.CategoryMeeting {
		instructions = e.meetingGuidance(em)
	}
	var dr DraftResult
	err := e.call(ctx, "draft", em.ID, func(ctx context.Context) error {
		var err error
		dr, err = e.drafter.Draft(ctx, em, instructions)
		if err == nil && dr.Body == "" {
			return ErrNoDraft
		}
		return err
	})
	if err != nil {
		e.audit.Failure(ctx, AgentDrafting, model.ActionDraftGenerated, em.ID, model.Details{"instructions": instructions}, err)
		return DraftResult{}, err
	}
	return dr, nil
}

// requestApproval sends the approval request for em and, from
// draft_generated, moves it to awaiting_approval. A redraft that is
// already awaiting is only re-notified.
func (e *Engine) requestApproval(ctx context.Context, em *model.Email, agent string) (*model.Email, error) {
	if err := e.notify(ctx, agent, approvalMessage(em, e.possibleSpam(em))); err != nil {
		e.fail(ctx, em.ID, agent, err)
		return nil, err
	}
	if em.State == model.StateAwaitingApproval {
		return em, nil
	}
	return e.machine.Apply(ctx, em.ID, lifecycle.Transition{
		To:     model.StateAwaitingApproval,
		From:   []model.State{model.StateDraftGenerated},
		Agent:  agent,
		Reason: "approval requested",
		Mutate: func(m *model.Email) error {
			m.NotifyChannel = e.settings.Channel
			return nil
		},
	})
}

func (e *Engine) autoSend(ctx context.Context, em *model.Email) (*model.Email, error) {
	_, err := e.machine.Apply(ctx, em.ID, lifecycle.Transition{
		To:     model.StateApproved,
		From:   []model.State{model.StateDraftGenerated},
		Agent:  AgentAutoSend,
		Reason: "auto-send policy",
		Mutate: func(m *model.Email) error {
			m.IsAutoSent = true
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	e.log(ctx).Info("Email approved by auto-send policy", zap.Int64("email_id", em.ID))

	out, err := e.SendApproved(ctx, em.ID)
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrSendInFlight) {
		return out, nil
	}
	return out, err
}
