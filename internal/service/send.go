package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/ratelimit"
	"github.com/Skycomm/email-ai-manager/pkg/metrics"
)

// SendApproved sends the current draft of an approved email. Without a
// free slot in the hourly budget it returns ErrRateLimited and the email
// stays approved. A send that fails past the retry budget moves the email
// to error.
//
// The send slot is the claim: an email holds at most one, so a concurrent
// caller gets ErrSendInFlight and never reaches the provider. A slot that
// is already confirmed means an earlier call sent the reply but did not
// record it; the email is moved to sent without sending again.
func (e *Engine) SendApproved(ctx context.Context, id int64) (*model.Email, error) {
	em, err := e.emails.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if em.State == model.StateSent {
		return em, nil
	}
	if em.State != model.StateApproved {
		return em, &lifecycle.StateMismatchError{EmailID: id, State: em.State, Want: []model.State{model.StateApproved}}
	}
	if em.CurrentDraft == "" {
		return em, ErrNoDraft
	}
	log := e.log(ctx).With(zap.Int64("email_id", id))

	now := e.now()
	res, ok, err := e.limiter.Reserve(ctx, id, now)
	var already *ratelimit.AlreadySentError
	switch {
	case errors.Is(err, ratelimit.ErrInFlight):
		log.Info("Send already in flight")
		return em, ErrSendInFlight
	case errors.As(err, &already):
		log.Warn("Send already confirmed, recording it", zap.Time("sent_at", already.SentAt))
		return e.markSent(ctx, id, already.SentAt)
	case err != nil:
		return em, err
	}
	if !ok {
		next, nerr := e.limiter.NextSlot(ctx, now)
		if nerr != nil {
			log.Warn("Failed to compute next send slot", zap.Error(nerr))
		}
		metrics.IncrementSend("deferred")
		e.audit.Success(ctx, AgentSender, model.ActionSendDeferred, id, model.Details{
			"max_per_hour": e.limiter.Max(),
			"next_slot":    next.UTC().Format(time.RFC3339),
		})
		log.Info("Send deferred by rate limit", zap.Time("next_slot", next))
		return em, ErrRateLimited
	}

	err = e.call(ctx, "send", id, func(ctx context.Context) error {
		return e.mail.Send(ctx, em, em.CurrentDraft)
	})
	if err != nil {
		if rerr := e.limiter.Release(ctx, res); rerr != nil {
			log.Error("Failed to release send slot", zap.Error(rerr))
		}
		metrics.IncrementSend("failed")
		e.audit.Failure(ctx, AgentSender, model.ActionSend, id, nil, err)
		e.fail(ctx, id, AgentSender, err)
		return nil, err
	}

	sentAt := e.now()
	if err := e.limiter.Confirm(ctx, res, sentAt); err != nil {
		log.Error("Failed to confirm send slot", zap.Error(err))
	}
	metrics.IncrementSend("sent")
	e.audit.Success(ctx, AgentSender, model.ActionSend, id, model.Details{"auto": em.IsAutoSent})
	return e.markSent(ctx, id, sentAt)
}

func (e *Engine) markSent(ctx context.Context, id int64, sentAt time.Time) (*model.Email, error) {
	return e.machine.Apply(ctx, id, lifecycle.Transition{
		To:     model.StateSent,
		From:   []model.State{model.StateApproved},
		Agent:  AgentSender,
		Reason: "delivered",
		Mutate: func(m *model.Email) error {
			t := sentAt
			m.SentAt = &t
			minutes := int(sentAt.Sub(m.ReceivedAt).Minutes())
			m.ResponseTimeMinutes = &minutes
			return nil
		},
	})
}

// SendDeferred retries approved emails, oldest first, until the budget
// runs out. It returns how many were sent.
func (e *Engine) SendDeferred(ctx context.Context) (int, error) {
	pending, err := e.emails.ListInState(ctx, model.StateApproved, time.Time{}, 100)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, em := range pending {
		_, err := e.SendApproved(ctx, em.ID)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrRateLimited):
			return sent, nil
		case errors.Is(err, ErrSendInFlight):
		default:
			e.log(ctx).Warn("Deferred send failed", zap.Int64("email_id", em.ID), zap.Error(err))
		}
	}
	return sent, nil
}
