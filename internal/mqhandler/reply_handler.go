package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/service"
	"github.com/Skycomm/email-ai-manager/pkg/logger"
	"github.com/Skycomm/email-ai-manager/pkg/mq"
	"github.com/Skycomm/email-ai-manager/pkg/util"
)

// ReplyProcessor is the engine entry point for chat replies.
type ReplyProcessor interface {
	HandleReply(ctx context.Context, ev service.ReplyEvent) (*service.CommandResult, error)
}

// RetryCounter counts redeliveries across consumers.
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// DeadLetterer parks messages that will never succeed.
type DeadLetterer interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, failedAt string) error
}

// ReplyHandler consumes chat replies. A delivery is requeued while its
// error is retryable and the redelivery budget lasts; everything else is
// parked on the dead letter exchange and acked. Without a retry counter the
// budget is zero.
type ReplyHandler struct {
	engine      ReplyProcessor
	retries     RetryCounter
	dlq         DeadLetterer
	maxRequeues int64
	logger      *zap.Logger
}

func NewReplyHandler(engine ReplyProcessor, retries RetryCounter, dlq DeadLetterer, maxRequeues int64, log *zap.Logger) *ReplyHandler {
	return &ReplyHandler{
		engine:      engine,
		retries:     retries,
		dlq:         dlq,
		maxRequeues: maxRequeues,
		logger:      log.Named("reply_handler"),
	}
}

// Handle is an mq.MessageHandler.
func (h *ReplyHandler) Handle(ctx context.Context, d mq.Delivery) error {
	log := logger.WithTrace(ctx, h.logger)

	var ev service.ReplyEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		log.Error("Failed to unmarshal reply event (non-retryable)", zap.Error(err))
		return h.deadLetter(ctx, d, err)
	}
	if ev.EventID == "" {
		ev.EventID = d.MessageID
	}
	if ev.EventID == "" || ev.Channel == "" {
		return h.deadLetter(ctx, d, fmt.Errorf("reply event without event id or channel"))
	}

	res, err := h.engine.HandleReply(ctx, ev)
	switch {
	case err == nil:
		h.reset(ctx, ev.EventID)
		if res != nil {
			log.Info("Chat reply handled",
				zap.String("event_id", ev.EventID),
				zap.String("kind", res.Kind),
				zap.Int64("email_id", res.EmailID),
			)
		}
		return nil
	case errors.Is(err, service.ErrDuplicateMessage):
		log.Info("Duplicate chat reply skipped", zap.String("event_id", ev.EventID))
		h.reset(ctx, ev.EventID)
		return nil
	}

	retryable, errType := util.IsRetryableError(err)
	log.Error("Failed to handle chat reply",
		zap.String("event_id", ev.EventID),
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Error(err),
	)
	if retryable && h.retries != nil {
		count, cerr := h.retries.IncrementAndGet(ctx, util.FormatRetryKey("chat_reply", ev.EventID))
		if cerr != nil {
			log.Warn("Retry counter unavailable, requeueing", zap.Error(cerr))
			return err
		}
		if util.ShouldRetry(count, h.maxRequeues, retryable) {
			return err
		}
	}
	h.reset(ctx, ev.EventID)
	return h.deadLetter(ctx, d, err)
}

func (h *ReplyHandler) reset(ctx context.Context, eventID string) {
	if h.retries == nil {
		return
	}
	if err := h.retries.Reset(ctx, util.FormatRetryKey("chat_reply", eventID)); err != nil {
		h.logger.Debug("Failed to reset retry counter", zap.Error(err))
	}
}

// deadLetter acks d after parking it. A failed park is returned so the
// broker redelivers instead of losing the message.
func (h *ReplyHandler) deadLetter(ctx context.Context, d mq.Delivery, cause error) error {
	if h.dlq == nil {
		h.logger.Warn("No dead letter exchange, dropping reply", zap.Error(cause))
		return nil
	}
	if err := h.dlq.PublishToDLQ(ctx, d.RoutingKey, d.Body, cause.Error(), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	logger.WithTrace(ctx, h.logger).Warn("Chat reply dead-lettered",
		zap.String("routing_key", d.RoutingKey),
		zap.Error(cause),
	)
	return nil
}
