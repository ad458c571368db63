package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/service"
	"github.com/Skycomm/email-ai-manager/pkg/logger"
)

// Publisher is the part of mq.Publisher the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Envelope is the wire payload the chat bridge consumes.
type Envelope struct {
	Channel string          `json:"channel"`
	Message service.Message `json:"message"`
	SentAt  time.Time       `json:"sent_at"`
}

// Notifier publishes chat messages to the bridge over rabbitmq. The
// broker's publish confirm is the delivery ack the engine relies on.
type Notifier struct {
	pub        Publisher
	routingKey string
	now        func() time.Time
	logger     *zap.Logger
}

func NewNotifier(pub Publisher, routingKey string, log *zap.Logger) *Notifier {
	return &Notifier{
		pub:        pub,
		routingKey: routingKey,
		now:        time.Now,
		logger:     log.Named("notify"),
	}
}

func (n *Notifier) Notify(ctx context.Context, channel string, msg service.Message) error {
	if channel == "" {
		return fmt.Errorf("notify %s: empty channel", msg.Kind)
	}
	env := Envelope{Channel: channel, Message: msg, SentAt: n.now().UTC()}
	if err := n.pub.Publish(ctx, n.routingKey, env); err != nil {
		return fmt.Errorf("publish %s notification: %w", msg.Kind, err)
	}
	logger.WithTrace(ctx, n.logger).Debug("Notification published",
		zap.String("channel", channel),
		zap.String("kind", msg.Kind),
		zap.Int64("email_id", msg.EmailID),
	)
	return nil
}
