package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
)

const (
	summaryLimit     = 200
	maxDigestBatches = 20
	maxDigestReview  = 100
)

// SendMorningSummary notifies everything held for the morning in one
// message and moves each email to fyi_notified.
func (e *Engine) SendMorningSummary(ctx context.Context, now time.Time) (int, error) {
	held, err := e.emails.ListInState(ctx, model.StateHeldForMorning, time.Time{}, summaryLimit)
	if err != nil || len(held) == 0 {
		return 0, err
	}
	if err := e.notify(ctx, AgentScheduler, morningSummaryMessage(held, now)); err != nil {
		return 0, err
	}

	moved := 0
	for _, em := range held {
		_, err := e.machine.Apply(ctx, em.ID, lifecycle.Transition{
			To:     model.StateFYINotified,
			From:   []model.State{model.StateHeldForMorning},
			Agent:  AgentScheduler,
			Reason: "morning summary",
		})
		if err != nil {
			e.log(ctx).Warn("Failed to release held email", zap.Int64("email_id", em.ID), zap.Error(err))
			continue
		}
		moved++
	}
	e.log(ctx).Info("Morning summary sent", zap.Int("emails", moved))
	return moved, nil
}

// ArchiveStaleFYI archives notified FYI mail nobody touched within the
// auto-archive window.
func (e *Engine) ArchiveStaleFYI(ctx context.Context, now time.Time) (int, error) {
	window := e.settings.Schedule.FYIAutoArchive
	if window <= 0 {
		return 0, nil
	}
	stale, err := e.emails.ListInState(ctx, model.StateFYINotified, now.Add(-window), summaryLimit)
	if err != nil {
		return 0, err
	}
	archived := 0
	for _, em := range stale {
		out, err := e.machine.Apply(ctx, em.ID, lifecycle.Transition{
			To:     model.StateArchived,
			From:   []model.State{model.StateFYINotified},
			Agent:  AgentScheduler,
			Reason: "fyi auto-archive",
		})
		if err != nil {
			e.log(ctx).Warn("Failed to archive stale FYI", zap.Int64("email_id", em.ID), zap.Error(err))
			continue
		}
		e.moveMail(ctx, out, MoveArchive, AgentScheduler)
		archived++
	}
	return archived, nil
}

// FlushSpamDigest notifies queued spam digest entries in batches and marks
// each delivered batch.
func (e *Engine) FlushSpamDigest(ctx context.Context) (int, error) {
	size := e.settings.Schedule.DigestBatchSize
	if size <= 0 {
		size = 5
	}
	delivered := 0
	for range maxDigestBatches {
		batch, err := e.digest.Pending(ctx, size)
		if err != nil {
			return delivered, err
		}
		if len(batch) == 0 {
			break
		}
		if err := e.notify(ctx, AgentSpam, digestMessage(batch)); err != nil {
			return delivered, err
		}
		ids := make([]int64, len(batch))
		for i, d := range batch {
			ids[i] = d.ID
		}
		if err := e.digest.MarkDelivered(ctx, ids, e.now()); err != nil {
			return delivered, err
		}
		delivered += len(batch)
		if len(batch) < size {
			break
		}
	}
	return delivered, nil
}
