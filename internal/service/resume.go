package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

const resumeBatch = 50

// resumable are the states an email passes through without waiting on a
// person. An email resting in one of them past the grace period was left
// behind by a crash or a cancelled request.
var resumable = []model.State{
	model.StateNew,
	model.StateActionRequired,
	model.StateDraftGenerated,
}

// Resume re-drives emails stuck mid-pipeline: new emails are classified,
// action_required emails drafted or offered for forwarding, and
// draft_generated emails offered for approval or auto-sent. Only emails untouched for the grace period are
// picked up. Approved emails are left to SendDeferred and errored ones to
// an operator Retry.
func (e *Engine) Resume(ctx context.Context, now time.Time) (int, error) {
	grace := e.settings.Schedule.ResumeGrace
	if grace <= 0 {
		return 0, nil
	}
	log := e.log(ctx)

	resumed := 0
	for _, state := range resumable {
		stuck, err := e.emails.ListInState(ctx, state, now.Add(-grace), resumeBatch)
		if err != nil {
			return resumed, err
		}
		for _, em := range stuck {
			if ctx.Err() != nil {
				return resumed, ctx.Err()
			}
			log.Info("Resuming stalled email",
				zap.Int64("email_id", em.ID),
				zap.Stringer("state", em.State),
				zap.Time("updated_at", em.UpdatedAt),
			)
			e.audit.Success(ctx, AgentScheduler, model.ActionResumed, em.ID, model.Details{
				"state":      em.State.String(),
				"stalled_at": em.UpdatedAt.UTC().Format(time.RFC3339),
			})
			if _, err := e.resumeOne(ctx, em); err != nil {
				log.Warn("Failed to resume email", zap.Int64("email_id", em.ID), zap.Error(err))
				continue
			}
			resumed++
		}
	}
	return resumed, nil
}

func (e *Engine) resumeOne(ctx context.Context, em *model.Email) (*model.Email, error) {
	switch em.State {
	case model.StateNew:
		return e.Process(ctx, em.ID)
	case model.StateActionRequired:
		if em.Category == model.CategoryForwardCandidate {
			return e.suggestForward(ctx, em)
		}
		return e.Draft(ctx, em.ID, "")
	default:
		return e.offer(ctx, em)
	}
}
