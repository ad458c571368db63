package service

import (
	"context"
	"time"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

// MoveTarget names a mailbox destination understood by every connector.
type MoveTarget string

const (
	MoveArchive MoveTarget = "archive"
	MoveSpam    MoveTarget = "spam"
	MoveTrash   MoveTarget = "trash"
)

// MailConnector is the mail provider.
type MailConnector interface {
	FetchNew(ctx context.Context, mailbox string) ([]model.RawMessage, error)
	// Send replies to e with body on e's thread.
	Send(ctx context.Context, e *model.Email, body string) error
	Forward(ctx context.Context, e *model.Email, to string) error
	Move(ctx context.Context, e *model.Email, target MoveTarget) error
}

// TriageResult is the drafting service's reading of an email.
type TriageResult struct {
	Category   model.Category `json:"category"`
	Priority   int            `json:"priority"`
	Summary    string         `json:"summary"`
	NeedsReply bool           `json:"needs_reply"`
	Confidence int            `json:"confidence"`
}

// DraftResult is one generated reply.
type DraftResult struct {
	Body       string `json:"body"`
	Confidence int    `json:"confidence"`
}

type Triager interface {
	Triage(ctx context.Context, e *model.Email) (TriageResult, error)
}

// Drafter writes replies. A non-empty instructions revises e.CurrentDraft;
// an empty one drafts from scratch.
type Drafter interface {
	Summarize(ctx context.Context, e *model.Email) (string, error)
	Draft(ctx context.Context, e *model.Email, instructions string) (DraftResult, error)
}

// Message kinds sent to the chat channel.
const (
	MessageApprovalRequest   = "approval_request"
	MessageForwardSuggestion = "forward_suggestion"
	MessageFYI               = "fyi"
	MessageReminder          = "reminder"
	MessageDigest            = "spam_digest"
	MessageMorningSummary    = "morning_summary"
	MessageCommandResult     = "command_result"
	MessageFailure           = "failure"
)

// Message is a rendered chat notification.
type Message struct {
	Kind    string `json:"kind"`
	EmailID int64  `json:"email_id,omitempty"`
	Token   string `json:"token,omitempty"`
	Subject string `json:"subject,omitempty"`
	Text    string `json:"text"`
}

// Notifier delivers chat messages. A nil error is the delivery ack.
type Notifier interface {
	Notify(ctx context.Context, channel string, msg Message) error
}

// ReplyEvent is one inbound chat reply.
type ReplyEvent struct {
	EventID    string    `json:"event_id"`
	Channel    string    `json:"channel"`
	User       string    `json:"user"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}
