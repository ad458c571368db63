// Package connector holds what the mail connectors share: composing
// replies and forwards, and reading MIME bodies.
package connector

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

// Thread carries the ids a reply must reference to stay on its thread.
type Thread struct {
	InReplyTo  string
	References []string
}

// ComposeReply renders body as a plain-text reply to e.
func ComposeReply(from string, e *model.Email, thread Thread, body string, at time.Time) ([]byte, error) {
	subject := e.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var h mail.Header
	if err := setAddresses(&h, from, e.Sender); err != nil {
		return nil, err
	}
	h.SetSubject(subject)
	if id := NormalizeMessageID(thread.InReplyTo); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
		refs := make([]string, 0, len(thread.References)+1)
		for _, r := range thread.References {
			if r = NormalizeMessageID(r); r != "" && r != id {
				refs = append(refs, r)
			}
		}
		h.SetMsgIDList("References", append(refs, id))
	}
	return write(h, at, body)
}

// ComposeForward renders e as an inline forward to to.
func ComposeForward(from, to string, e *model.Email, at time.Time) ([]byte, error) {
	var h mail.Header
	if err := setAddresses(&h, from, to); err != nil {
		return nil, err
	}
	h.SetSubject("Fwd: " + e.Subject)

	var b strings.Builder
	b.WriteString("---------- Forwarded message ---------\r\n")
	fmt.Fprintf(&b, "From: %s\r\n", displayAddress(e.SenderName, e.Sender))
	fmt.Fprintf(&b, "Date: %s\r\n", e.ReceivedAt.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Subject: %s\r\n", e.Subject)
	if len(e.Recipients) > 0 {
		fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.Recipients, ", "))
	}
	b.WriteString("\r\n")
	b.WriteString(e.Body)
	return write(h, at, b.String())
}

func setAddresses(h *mail.Header, from, to string) error {
	f, err := mail.ParseAddress(from)
	if err != nil {
		return fmt.Errorf("invalid from address %q: %w", from, err)
	}
	t, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	h.SetAddressList("From", []*mail.Address{f})
	h.SetAddressList("To", []*mail.Address{t})
	return nil
}

func write(h mail.Header, at time.Time, body string) ([]byte, error) {
	h.SetDate(at)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message body: %w", err)
	}
	return buf.Bytes(), nil
}

// ParsedMessage is what ingestion needs from a raw RFC 5322 message.
type ParsedMessage struct {
	MessageID  string
	InReplyTo  string
	From       string
	FromName   string
	To         []string
	Subject    string
	Date       time.Time
	Body       string
	References []string
}

// Parse reads headers and the best text body from raw. text/plain wins
// over text/html; html is reduced to text.
func Parse(raw []byte) (*ParsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	p := &ParsedMessage{}
	p.Subject, _ = mr.Header.Subject()
	p.Date, _ = mr.Header.Date()
	if id, err := mr.Header.MessageID(); err == nil {
		p.MessageID = id
	}
	if ids, err := mr.Header.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		p.InReplyTo = ids[0]
	}
	p.References, _ = mr.Header.MsgIDList("References")
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		p.From = strings.ToLower(from[0].Address)
		p.FromName = from[0].Name
	}
	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, a := range to {
			p.To = append(p.To, strings.ToLower(a.Address))
		}
	}

	var text, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(ct, "text/plain") && text == "":
			text = string(b)
		case strings.HasPrefix(ct, "text/html") && htmlBody == "":
			htmlBody = string(b)
		}
	}
	p.Body = text
	if p.Body == "" && htmlBody != "" {
		p.Body = StripHTML(htmlBody)
	}
	return p, nil
}

var (
	htmlTagPattern   = regexp.MustCompile(`<[^>]*>`)
	htmlBlockPattern = regexp.MustCompile(`(?i)<(br|/p|/div|/li|/tr)[^>]*>`)
	blankRunPattern  = regexp.MustCompile(`\n{3,}`)
)

// StripHTML gives a rough plain-text rendering of s.
func StripHTML(s string) string {
	s = htmlBlockPattern.ReplaceAllString(s, "\n")
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = blankRunPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// NormalizeMessageID strips whitespace and angle brackets.
func NormalizeMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// ParseSender splits a From header value into display name and lower-cased
// address. Unparseable values are returned as the address.
func ParseSender(v string) (name, addr string) {
	a, err := mail.ParseAddress(v)
	if err != nil {
		return "", strings.ToLower(strings.Trim(strings.TrimSpace(v), "<>"))
	}
	return a.Name, strings.ToLower(a.Address)
}

func displayAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}
