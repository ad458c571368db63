package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/followup"
	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
)

// RunFollowUps sends a reminder for every follow-up due at now. An email
// that used up its reminders is moved on instead of nagged again. It
// returns the number of reminders delivered.
func (e *Engine) RunFollowUps(ctx context.Context, now time.Time) (int, error) {
	sent := 0
	for em, err := range e.followups.Due(ctx, now) {
		if err != nil {
			return sent, err
		}
		if e.followups.Capped(em) {
			e.capFollowUp(ctx, em)
			continue
		}

		if err := e.notify(ctx, AgentFollowUp, reminderMessage(em)); err != nil {
			e.fail(ctx, em.ID, AgentFollowUp, err)
			continue
		}
		_, err := e.machine.Amend(ctx, em.ID, lifecycle.Amendment{
			Agent:   AgentFollowUp,
			Action:  model.ActionFollowUpReminder,
			Details: model.Details{"reminder": em.FollowUpRemindedCount + 1},
			States:  model.NonTerminalStates(),
			Mutate: func(m *model.Email) error {
				e.followups.Reminded(m, now)
				return nil
			},
		})
		if err != nil {
			e.log(ctx).Warn("Failed to record follow-up reminder", zap.Int64("email_id", em.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

func (e *Engine) capFollowUp(ctx context.Context, em *model.Email) {
	log := e.log(ctx).With(zap.Int64("email_id", em.ID))
	target, ok := e.followups.CapTarget(em.State)
	if !ok {
		_, err := e.machine.Amend(ctx, em.ID, lifecycle.Amendment{
			Agent:  AgentFollowUp,
			Reason: "reminder cap reached",
			States: []model.State{em.State},
			Mutate: func(m *model.Email) error {
				followup.Clear(m)
				return nil
			},
		})
		if err != nil {
			log.Warn("Failed to clear capped follow-up", zap.Error(err))
		}
		return
	}
	_, err := e.machine.Apply(ctx, em.ID, lifecycle.Transition{
		To:      target,
		From:    []model.State{em.State},
		Agent:   AgentFollowUp,
		Reason:  "reminder cap reached",
		Details: model.Details{"reminders": em.FollowUpRemindedCount},
		Mutate: func(m *model.Email) error {
			followup.Clear(m)
			return nil
		},
	})
	if err != nil {
		log.Warn("Failed to move capped follow-up", zap.Stringer("target", target), zap.Error(err))
	}
}
