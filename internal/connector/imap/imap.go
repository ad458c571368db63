package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/connector"
	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/service"
	"github.com/Skycomm/email-ai-manager/pkg/config"
	"github.com/Skycomm/email-ai-manager/pkg/logger"
)

const (
	lookback    = 72 * time.Hour
	dialTimeout = 30 * time.Second
)

// Connector implements service.MailConnector with IMAP for reading and
// moving and SMTP for sending. Every call opens its own session.
// MessageID is the RFC 5322 Message-ID, which is also how messages are
// found again for moves.
type Connector struct {
	imap     config.IMAPConfig
	smtp     config.SMTPConfig
	fetchMax int
	now      func() time.Time
	logger   *zap.Logger
}

func New(imapCfg config.IMAPConfig, smtpCfg config.SMTPConfig, fetchMax int64, log *zap.Logger) *Connector {
	if fetchMax <= 0 {
		fetchMax = 50
	}
	return &Connector{
		imap:     imapCfg,
		smtp:     smtpCfg,
		fetchMax: int(fetchMax),
		now:      time.Now,
		logger:   log.Named("imap"),
	}
}

func (c *Connector) connect() (*imapclient.Client, error) {
	addr := net.JoinHostPort(c.imap.Host, c.imap.Port)

	var client *imapclient.Client
	var err error
	if c.imap.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	if err := client.Login(c.imap.Username, c.imap.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("IMAP login for %s: %w", c.imap.Username, err)
	}
	return client, nil
}

// FetchNew reads messages from the last few days without setting \Seen.
func (c *Connector) FetchNew(ctx context.Context, mailbox string) ([]model.RawMessage, error) {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	client, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", mailbox, err)
	}

	data, err := client.UIDSearch(&imap.SearchCriteria{Since: c.now().Add(-lookback)}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", mailbox, err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > c.fetchMax {
		uids = uids[len(uids)-c.fetchMax:]
	}

	section := &imap.FetchItemBodySection{Peek: true}
	fetch := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	})
	defer fetch.Close()

	log := logger.WithTrace(ctx, c.logger)
	var out []model.RawMessage
	for {
		msg := fetch.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			log.Warn("Failed to collect message", zap.Error(err))
			continue
		}
		raw, err := toRaw(buf.FindBodySection(section), buf.InternalDate, mailbox)
		if err != nil {
			log.Warn("Skipping unparseable message", zap.Uint32("uid", uint32(buf.UID)), zap.Error(err))
			continue
		}
		out = append(out, raw)
	}
	if err := fetch.Close(); err != nil {
		return out, fmt.Errorf("fetching %s: %w", mailbox, err)
	}
	return out, nil
}

func toRaw(body []byte, internal time.Time, mailbox string) (model.RawMessage, error) {
	if body == nil {
		return model.RawMessage{}, fmt.Errorf("empty body section")
	}
	p, err := connector.Parse(body)
	if err != nil {
		return model.RawMessage{}, err
	}
	if p.MessageID == "" {
		return model.RawMessage{}, fmt.Errorf("message without Message-ID")
	}
	received := p.Date
	if !internal.IsZero() {
		received = internal
	}
	thread := p.MessageID
	if len(p.References) > 0 {
		thread = p.References[0]
	} else if p.InReplyTo != "" {
		thread = p.InReplyTo
	}
	return model.RawMessage{
		MessageID:  p.MessageID,
		Mailbox:    mailbox,
		ThreadID:   thread,
		Sender:     p.From,
		SenderName: p.FromName,
		Recipients: p.To,
		Subject:    p.Subject,
		Body:       p.Body,
		ReceivedAt: received.UTC(),
	}, nil
}

// Send replies to e over SMTP, referencing its Message-ID.
func (c *Connector) Send(ctx context.Context, e *model.Email, body string) error {
	thread := connector.Thread{InReplyTo: e.MessageID}
	if e.ThreadID != "" && e.ThreadID != e.MessageID {
		thread.References = []string{e.ThreadID}
	}
	msg, err := connector.ComposeReply(c.smtp.From, e, thread, body, c.now())
	if err != nil {
		return err
	}
	return c.sendMail(ctx, e.Sender, msg)
}

func (c *Connector) Forward(ctx context.Context, e *model.Email, to string) error {
	msg, err := connector.ComposeForward(c.smtp.From, to, e, c.now())
	if err != nil {
		return err
	}
	return c.sendMail(ctx, to, msg)
}

// Move finds e by Message-ID in its mailbox and moves it to the folder
// for target. Trash only flags the message deleted.
func (c *Connector) Move(ctx context.Context, e *model.Email, target service.MoveTarget) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	mailbox := e.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", mailbox, err)
	}

	data, err := client.UIDSearch(&imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Message-ID", Value: e.MessageID}},
	}, nil).Wait()
	if err != nil {
		return fmt.Errorf("searching for %s: %w", e.MessageID, err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		logger.WithTrace(ctx, c.logger).Info("Message already gone from mailbox",
			zap.Int64("email_id", e.ID),
			zap.String("mailbox", mailbox),
		)
		return nil
	}
	set := imap.UIDSetNum(uids...)

	switch target {
	case service.MoveArchive:
		_, err = client.Move(set, c.imap.Archive).Wait()
	case service.MoveSpam:
		_, err = client.Move(set, c.imap.Spam).Wait()
	case service.MoveTrash:
		err = client.Store(set, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagDeleted},
		}, nil).Close()
	default:
		return fmt.Errorf("unknown move target %q", target)
	}
	if err != nil {
		return fmt.Errorf("moving %s to %s: %w", e.MessageID, target, err)
	}
	return nil
}

// sendMail delivers msg with STARTTLS on 587 and implicit TLS on 465.
func (c *Connector) sendMail(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(c.smtp.Host, c.smtp.Port)
	d := net.Dialer{Timeout: dialTimeout}

	var conn net.Conn
	var err error
	if c.smtp.Port == "465" {
		conn, err = (&tls.Dialer{NetDialer: &d, Config: &tls.Config{ServerName: c.smtp.Host}}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.smtp.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if c.smtp.Port != "465" {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: c.smtp.Host}); err != nil {
				return fmt.Errorf("SMTP STARTTLS: %w", err)
			}
		}
	}
	if c.smtp.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", c.smtp.Username, c.smtp.Password, c.smtp.Host)); err != nil {
			return fmt.Errorf("SMTP auth: %w", err)
		}
	}

	from := c.smtp.From
	if _, addr := connector.ParseSender(from); addr != "" {
		from = addr
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing message: %w", err)
	}
	return client.Quit()
}
