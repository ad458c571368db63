package connector

import (
	"strings"
	"testing"
	"time"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

var at = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestComposeReplyRoundTrip(t *testing.T) {
	em := &model.Email{Sender: "alice@example.com", Subject: "Contract"}
	raw, err := ComposeReply("Me <me@example.com>", em, Thread{
		InReplyTo:  "<orig@example.com>",
		References: []string{"<root@example.com>"},
	}, "Confirmed.", at)
	if err != nil {
		t.Fatalf("ComposeReply: %v", err)
	}

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Subject != "Re: Contract" {
		t.Errorf("Subject = %q", p.Subject)
	}
	if p.InReplyTo != "orig@example.com" {
		t.Errorf("InReplyTo = %q", p.InReplyTo)
	}
	if len(p.References) != 2 || p.References[0] != "root@example.com" || p.References[1] != "orig@example.com" {
		t.Errorf("References = %v", p.References)
	}
	if p.From != "me@example.com" || len(p.To) != 1 || p.To[0] != "alice@example.com" {
		t.Errorf("from %q to %v", p.From, p.To)
	}
	if p.MessageID == "" {
		t.Error("no Message-ID generated")
	}
	if strings.TrimSpace(p.Body) != "Confirmed." {
		t.Errorf("Body = %q", p.Body)
	}
}

func TestComposeReplyKeepsExistingPrefix(t *testing.T) {
	em := &model.Email{Sender: "alice@example.com", Subject: "RE: Contract"}
	raw, err := ComposeReply("me@example.com", em, Thread{}, "ok", at)
	if err != nil {
		t.Fatalf("ComposeReply: %v", err)
	}
	p, _ := Parse(raw)
	if p.Subject != "RE: Contract" {
		t.Errorf("Subject = %q", p.Subject)
	}
	if p.InReplyTo != "" {
		t.Errorf("InReplyTo = %q, want none without a thread", p.InReplyTo)
	}
}

func TestComposeForward(t *testing.T) {
	em := &model.Email{
		Sender: "alice@example.com", SenderName: "Alice", Subject: "Invoice",
		Body: "Please pay.", ReceivedAt: at, Recipients: model.StringList{"me@example.com"},
	}
	raw, err := ComposeForward("me@example.com", "finance@example.com", em, at)
	if err != nil {
		t.Fatalf("ComposeForward: %v", err)
	}
	p, _ := Parse(raw)
	if p.Subject != "Fwd: Invoice" || p.To[0] != "finance@example.com" {
		t.Errorf("header = %+v", p)
	}
	for _, want := range []string{"From: Alice <alice@example.com>", "Please pay."} {
		if !strings.Contains(p.Body, want) {
			t.Errorf("body missing %q:\n%s", want, p.Body)
		}
	}
}

func TestComposeRejectsBadAddress(t *testing.T) {
	if _, err := ComposeForward("me@example.com", "not an address", &model.Email{}, at); err == nil {
		t.Error("want error for an invalid recipient")
	}
}

func TestParsePrefersPlainText(t *testing.T) {
	msg := "From: a@example.com\r\n" +
		"Message-ID: <m1@example.com>\r\n" +
		"Content-Type: multipart/alternative; boundary=XX\r\n" +
		"\r\n" +
		"--XX\r\nContent-Type: text/html\r\n\r\n<p>html</p>\r\n" +
		"--XX\r\nContent-Type: text/plain\r\n\r\nplain\r\n" +
		"--XX--\r\n"
	p, err := Parse([]byte(msg))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if strings.TrimSpace(p.Body) != "plain" {
		t.Errorf("Body = %q", p.Body)
	}
}

func TestStripHTML(t *testing.T) {
	got := StripHTML("<div>Hello&nbsp;<b>Bob</b></div><p>Line&amp;two</p><br><br><br><br>")
	if !strings.Contains(got, "Hello\u00a0Bob") || !strings.Contains(got, "Line&two") {
		t.Errorf("StripHTML = %q", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank runs not collapsed: %q", got)
	}
}

func TestParseSender(t *testing.T) {
	tests := []struct {
		in, name, addr string
	}{
		{`"Alice Smith" <Alice@Example.com>`, "Alice Smith", "alice@example.com"},
		{"bob@example.com", "", "bob@example.com"},
		{"<Carol@Example.com>", "", "carol@example.com"},
	}
	for _, tt := range tests {
		name, addr := ParseSender(tt.in)
		if name != tt.name || addr != tt.addr {
			t.Errorf("ParseSender(%q) = %q, %q", tt.in, name, addr)
		}
	}
}
