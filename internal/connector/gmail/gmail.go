package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Skycomm/email-ai-manager/internal/connector"
	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/service"
	"github.com/Skycomm/email-ai-manager/pkg/config"
	"github.com/Skycomm/email-ai-manager/pkg/logger"
	"github.com/Skycomm/email-ai-manager/pkg/util"
)

var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

const lookback = "newer_than:3d"

// Connector implements service.MailConnector over the Gmail API. Emails
// it ingests carry the Gmail message id as MessageID and the Gmail thread
// id as ThreadID.
type Connector struct {
	svc      *gmailapi.Service
	user     string
	fetchMax int64
	now      func() time.Time
	logger   *zap.Logger

	mu   sync.Mutex
	from string
}

// New builds a connector. Without opts the client authenticates with the
// configured refresh token.
func New(ctx context.Context, cfg config.GmailConfig, fetchMax int64, log *zap.Logger, opts ...option.ClientOption) (*Connector, error) {
	if len(opts) == 0 {
		oc := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     googleEndpoint,
			Scopes:       []string{gmailapi.GmailModifyScope},
		}
		ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		opts = append(opts, option.WithTokenSource(ts))
	}
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	user := cfg.User
	if user == "" {
		user = "me"
	}
	c := &Connector{
		svc:      svc,
		user:     user,
		fetchMax: fetchMax,
		now:      time.Now,
		logger:   log.Named("gmail"),
	}
	if fetchMax <= 0 {
		c.fetchMax = 50
	}
	return c, nil
}

// FetchNew lists recent messages under the mailbox label. Already ingested
// messages come back too; the dedup ledger drops them.
func (c *Connector) FetchNew(ctx context.Context, mailbox string) ([]model.RawMessage, error) {
	label := mailbox
	if label == "" {
		label = "INBOX"
	}
	list, err := c.svc.Users.Messages.List(c.user).LabelIds(label).Q(lookback).MaxResults(c.fetchMax).Context(ctx).Do()
	if err != nil {
		return nil, apiError("list messages", err)
	}

	log := logger.WithTrace(ctx, c.logger)
	out := make([]model.RawMessage, 0, len(list.Messages))
	for _, m := range list.Messages {
		full, err := c.svc.Users.Messages.Get(c.user, m.Id).Format("full").Context(ctx).Do()
		if err != nil {
			log.Warn("Failed to get message", zap.String("gmail_id", m.Id), zap.Error(err))
			continue
		}
		out = append(out, toRaw(full, label))
	}
	return out, nil
}

func toRaw(m *gmailapi.Message, mailbox string) model.RawMessage {
	raw := model.RawMessage{
		MessageID: m.Id,
		Mailbox:   mailbox,
		ThreadID:  m.ThreadId,
	}
	if m.InternalDate > 0 {
		raw.ReceivedAt = time.UnixMilli(m.InternalDate).UTC()
	}
	if m.Payload == nil {
		return raw
	}
	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			raw.Subject = h.Value
		case "from":
			raw.SenderName, raw.Sender = connector.ParseSender(h.Value)
		case "to", "cc":
			for _, a := range strings.Split(h.Value, ",") {
				if _, addr := connector.ParseSender(a); addr != "" {
					raw.Recipients = append(raw.Recipients, addr)
				}
			}
		}
	}
	text, html := bodies(m.Payload)
	raw.Body = text
	if raw.Body == "" && html != "" {
		raw.Body = connector.StripHTML(html)
	}
	if raw.Body == "" {
		raw.Body = m.Snippet
	}
	return raw
}

// bodies walks the part tree for the first text/plain and text/html.
func bodies(p *gmailapi.MessagePart) (text, html string) {
	var walk func(*gmailapi.MessagePart)
	walk = func(p *gmailapi.MessagePart) {
		if p.Body != nil && p.Body.Data != "" {
			if b, err := base64.URLEncoding.DecodeString(p.Body.Data); err == nil {
				switch {
				case p.MimeType == "text/plain" && text == "":
					text = string(b)
				case p.MimeType == "text/html" && html == "":
					html = string(b)
				}
			}
		}
		for _, child := range p.Parts {
			walk(child)
		}
	}
	walk(p)
	return text, html
}

// Send replies on e's Gmail thread with In-Reply-To taken from the
// original message headers.
func (c *Connector) Send(ctx context.Context, e *model.Email, body string) error {
	thread, err := c.thread(ctx, e.MessageID)
	if err != nil {
		return err
	}
	from, err := c.address(ctx)
	if err != nil {
		return err
	}
	msg, err := connector.ComposeReply(from, e, thread, body, c.now())
	if err != nil {
		return err
	}
	return c.send(ctx, msg, e.ThreadID)
}

func (c *Connector) Forward(ctx context.Context, e *model.Email, to string) error {
	from, err := c.address(ctx)
	if err != nil {
		return err
	}
	msg, err := connector.ComposeForward(from, to, e, c.now())
	if err != nil {
		return err
	}
	return c.send(ctx, msg, "")
}

func (c *Connector) send(ctx context.Context, raw []byte, threadID string) error {
	_, err := c.svc.Users.Messages.Send(c.user, &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: threadID,
	}).Context(ctx).Do()
	if err != nil {
		return apiError("send message", err)
	}
	return nil
}

// Move maps targets onto labels: archive drops INBOX, spam swaps it for
// SPAM, trash uses the trash call.
func (c *Connector) Move(ctx context.Context, e *model.Email, target service.MoveTarget) error {
	var err error
	switch target {
	case service.MoveArchive:
		_, err = c.svc.Users.Messages.Modify(c.user, e.MessageID, &gmailapi.ModifyMessageRequest{
			RemoveLabelIds: []string{"INBOX"},
		}).Context(ctx).Do()
	case service.MoveSpam:
		_, err = c.svc.Users.Messages.Modify(c.user, e.MessageID, &gmailapi.ModifyMessageRequest{
			AddLabelIds:    []string{"SPAM"},
			RemoveLabelIds: []string{"INBOX"},
		}).Context(ctx).Do()
	case service.MoveTrash:
		_, err = c.svc.Users.Messages.Trash(c.user, e.MessageID).Context(ctx).Do()
	default:
		return fmt.Errorf("unknown move target %q", target)
	}
	if err != nil {
		return apiError("move message to "+string(target), err)
	}
	return nil
}

func (c *Connector) thread(ctx context.Context, gmailID string) (connector.Thread, error) {
	m, err := c.svc.Users.Messages.Get(c.user, gmailID).Format("metadata").
		MetadataHeaders("Message-ID", "References").Context(ctx).Do()
	if err != nil {
		return connector.Thread{}, apiError("get original message", err)
	}
	var t connector.Thread
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "message-id":
				t.InReplyTo = h.Value
			case "references":
				t.References = strings.Fields(h.Value)
			}
		}
	}
	return t, nil
}

// address is the authenticated mailbox address, looked up once.
func (c *Connector) address(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.from != "" {
		return c.from, nil
	}
	p, err := c.svc.Users.GetProfile(c.user).Context(ctx).Do()
	if err != nil {
		return "", apiError("get profile", err)
	}
	c.from = p.EmailAddress
	return c.from, nil
}

// apiError keeps the HTTP status of a Gmail API failure visible to the
// retry classifier.
func apiError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return fmt.Errorf("failed to %s: %w", op, &util.StatusError{Op: "gmail", Code: gerr.Code, Body: gerr.Message})
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
