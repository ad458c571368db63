package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/repository"
)

// IngestMailbox fetches new messages from mailbox and ingests each one.
// It returns how many new emails were admitted.
func (e *Engine) IngestMailbox(ctx context.Context, mailbox string) (int, error) {
	var raws []model.RawMessage
	err := e.call(ctx, "fetch", 0, func(ctx context.Context) error {
		var err error
		raws, err = e.mail.FetchNew(ctx, mailbox)
		return err
	})
	if err != nil {
		e.audit.Failure(ctx, AgentIngestion, model.ActionEmailReceived, 0, model.Details{"mailbox": mailbox}, err)
		return 0, err
	}

	admitted := 0
	for _, raw := range raws {
		if raw.Mailbox == "" {
			raw.Mailbox = mailbox
		}
		_, err := e.IngestMessage(ctx, raw)
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrDuplicateMessage):
		default:
			e.log(ctx).Error("Failed to ingest message",
				zap.String("message_id", raw.MessageID),
				zap.String("mailbox", raw.Mailbox),
				zap.Error(err),
			)
		}
	}
	e.log(ctx).Info("Mailbox polled",
		zap.String("mailbox", mailbox),
		zap.Int("fetched", len(raws)),
		zap.Int("admitted", admitted),
	)
	return admitted, nil
}

// IngestMessage admits raw through the dedup ledger, creates its email in
// the same transaction and runs it through classification. A replay
// returns ErrDuplicateMessage and creates nothing.
func (e *Engine) IngestMessage(ctx context.Context, raw model.RawMessage) (*model.Email, error) {
	if raw.MessageID == "" || raw.Mailbox == "" {
		return nil, fmt.Errorf("message id and mailbox are required")
	}
	if e.dedup.Seen(ctx, raw.MessageID, raw.Mailbox) {
		e.duplicate(ctx, raw)
		return nil, ErrDuplicateMessage
	}

	vip, err := e.isVIP(ctx, raw.Sender)
	if err != nil {
		return nil, err
	}

	now := e.now()
	em := &model.Email{
		MessageID:  raw.MessageID,
		Mailbox:    raw.Mailbox,
		ThreadID:   raw.ThreadID,
		Sender:     raw.Sender,
		SenderName: raw.SenderName,
		Recipients: raw.Recipients,
		Subject:    raw.Subject,
		Body:       raw.Body,
		State:      model.StateNew,
		Priority:   model.PriorityNormal,
		IsVIP:      vip,
		ReceivedAt: raw.ReceivedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if em.ReceivedAt.IsZero() {
		em.ReceivedAt = now
	}

	admitted := false
	err = repository.InTx(ctx, e.db, func(tx *sqlx.Tx) error {
		ok, err := e.dedup.AdmitIn(ctx, tx, raw.MessageID, raw.Mailbox)
		if err != nil || !ok {
			return err
		}
		admitted = true
		return repository.NewEmailRepository(tx).Create(ctx, em)
	})
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", raw.MessageID, err)
	}
	if !admitted {
		e.duplicate(ctx, raw)
		return nil, ErrDuplicateMessage
	}
	e.dedup.Committed(ctx, raw.MessageID, raw.Mailbox)

	e.audit.Success(ctx, AgentIngestion, model.ActionEmailReceived, em.ID, model.Details{
		"message_id": em.MessageID,
		"mailbox":    em.Mailbox,
		"sender":     em.Sender,
		"is_vip":     em.IsVIP,
	})
	e.log(ctx).Info("Email ingested",
		zap.Int64("email_id", em.ID),
		zap.String("message_id", em.MessageID),
		zap.String("mailbox", em.Mailbox),
	)

	processed, err := e.Process(ctx, em.ID)
	if err != nil {
		return em, err
	}
	return processed, nil
}

func (e *Engine) duplicate(ctx context.Context, raw model.RawMessage) {
	e.audit.Success(ctx, AgentIngestion, model.ActionDuplicateIgnored, 0, model.Details{
		"message_id": raw.MessageID,
		"mailbox":    raw.Mailbox,
	})
	e.log(ctx).Debug("Duplicate message ignored",
		zap.String("message_id", raw.MessageID),
		zap.String("mailbox", raw.Mailbox),
	)
}
