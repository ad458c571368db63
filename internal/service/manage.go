package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
)

// Acknowledge closes a notified FYI email.
func (e *Engine) Acknowledge(ctx context.Context, id int64) (*model.Email, error) {
	return e.machine.Apply(ctx, id, lifecycle.Transition{
		To:     model.StateAcknowledged,
		From:   []model.State{model.StateFYINotified},
		Agent:  AgentOperator,
		Reason: "acknowledged",
	})
}

// SetFollowUp schedules a reminder for a non-terminal email and resets its
// reminder count. A nil at clears the follow-up.
func (e *Engine) SetFollowUp(ctx context.Context, id int64, at *time.Time, note string) (*model.Email, error) {
	details := model.Details{"note": note}
	if at != nil {
		details["follow_up_at"] = at.UTC().Format(time.RFC3339)
	}
	return e.machine.Amend(ctx, id, lifecycle.Amendment{
		Agent:   AgentOperator,
		Reason:  "follow-up set",
		Details: details,
		States:  model.NonTerminalStates(),
		Mutate: func(m *model.Email) error {
			if at != nil {
				t := at.UTC()
				m.FollowUpAt = &t
			} else {
				m.FollowUpAt = nil
			}
			m.FollowUpNote = note
			m.FollowUpRemindedCount = 0
			return nil
		},
	})
}

// Retry takes an email out of error. With a draft it goes back to
// draft_generated under a fresh token and is offered for approval again;
// without one it restarts at classification.
func (e *Engine) Retry(ctx context.Context, id int64) (*model.Email, error) {
	em, err := e.emails.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if em.State != model.StateError {
		return em, &lifecycle.StateMismatchError{EmailID: id, State: em.State, Want: []model.State{model.StateError}}
	}

	target := model.StateNew
	if em.HasDraft() {
		target = model.StateDraftGenerated
	}
	out, err := e.machine.Apply(ctx, id, lifecycle.Transition{
		To:         target,
		From:       []model.State{model.StateError},
		Agent:      AgentOperator,
		Reason:     "retry",
		IssueToken: target.ApprovalPending(),
		Details:    model.Details{"retry_count": em.RetryCount},
		Mutate: func(m *model.Email) error {
			m.ErrorMessage = ""
			return nil
		},
	})
	if err != nil {
		return out, err
	}

	switch target {
	case model.StateDraftGenerated:
		return e.requestApproval(ctx, out, AgentOperator)
	case model.StateNew:
		return e.Process(ctx, id)
	}
	return out, fmt.Errorf("unexpected retry target %s", target)
}
