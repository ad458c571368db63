package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Category is the triage bucket an email falls into.
type Category string

const (
	CategoryUncategorized    Category = ""
	CategoryUrgent           Category = "urgent"
	CategoryActionRequired   Category = "action_required"
	CategoryFYI              Category = "fyi"
	CategoryMeeting          Category = "meeting"
	CategoryAlert            Category = "alert"
	CategorySpamCandidate    Category = "spam_candidate"
	CategoryForwardCandidate Category = "forward_candidate"
)

// Priority runs from PriorityCritical (1) to PriorityMinimal (5).
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityNormal   = 3
	PriorityLow      = 4
	PriorityMinimal  = 5
)

// Email is the canonical record of one inbound message.
type Email struct {
	ID         int64      `db:"id" json:"id"`
	MessageID  string     `db:"message_id" json:"message_id"`
	Mailbox    string     `db:"mailbox" json:"mailbox"`
	ThreadID   string     `db:"thread_id" json:"thread_id"`
	Sender     string     `db:"sender" json:"sender"`
	SenderName string     `db:"sender_name" json:"sender_name"`
	Recipients StringList `db:"recipients" json:"recipients"`
	Subject    string     `db:"subject" json:"subject"`
	Body       string     `db:"body" json:"body"`
	Summary    string     `db:"summary" json:"summary"`

	State      State    `db:"state" json:"state"`
	Category   Category `db:"category" json:"category"`
	Priority   int      `db:"priority" json:"priority"`
	SpamScore  int      `db:"spam_score" json:"spam_score"`
	SpamRuleID *int64   `db:"spam_rule_id" json:"spam_rule_id,omitempty"`

	CurrentDraft  string  `db:"current_draft" json:"current_draft"`
	DraftCount    int     `db:"draft_count" json:"draft_count"`
	ApprovalToken *string `db:"approval_token" json:"approval_token,omitempty"`
	NotifyChannel string  `db:"notify_channel" json:"notify_channel"`

	RetryCount            int        `db:"retry_count" json:"retry_count"`
	ErrorMessage          string     `db:"error_message" json:"error_message,omitempty"`
	FollowUpAt            *time.Time `db:"follow_up_at" json:"follow_up_at,omitempty"`
	FollowUpNote          string     `db:"follow_up_note" json:"follow_up_note,omitempty"`
	FollowUpRemindedCount int        `db:"follow_up_reminded_count" json:"follow_up_reminded_count"`

	IsVIP               bool `db:"is_vip" json:"is_vip"`
	IsAutoSent          bool `db:"is_auto_sent" json:"is_auto_sent"`
	AutoSendEligible    bool `db:"auto_send_eligible" json:"auto_send_eligible"`
	ResponseTimeMinutes *int `db:"response_time_minutes" json:"response_time_minutes,omitempty"`

	ReceivedAt time.Time  `db:"received_at" json:"received_at"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	SentAt     *time.Time `db:"sent_at" json:"sent_at,omitempty"`

	// Version guards optimistic updates.
	Version int64 `db:"version" json:"version"`

	// PendingDraft is appended to the draft history by the next transition.
	PendingDraft *DraftVersion `db:"-" json:"-"`
}

// Clone returns a copy that can be mutated without touching e.
func (e *Email) Clone() *Email {
	c := *e
	c.Recipients = append(StringList(nil), e.Recipients...)
	if e.ApprovalToken != nil {
		t := *e.ApprovalToken
		c.ApprovalToken = &t
	}
	if e.FollowUpAt != nil {
		t := *e.FollowUpAt
		c.FollowUpAt = &t
	}
	if e.SentAt != nil {
		t := *e.SentAt
		c.SentAt = &t
	}
	c.PendingDraft = nil
	return &c
}

// SenderDomain returns the lower-cased domain part of the sender address.
func (e *Email) SenderDomain() string {
	return DomainOf(e.Sender)
}

// Token returns the outstanding approval token or "".
func (e *Email) Token() string {
	if e.ApprovalToken == nil {
		return ""
	}
	return *e.ApprovalToken
}

// HasDraft reports whether at least one draft was ever produced.
func (e *Email) HasDraft() bool {
	return e.DraftCount > 0
}

// AppendDraft stages a new draft version; current_draft follows it.
func (e *Email) AppendDraft(body, instructions string, confidence int, at time.Time) {
	e.DraftCount++
	e.CurrentDraft = body
	e.PendingDraft = &DraftVersion{
		EmailID:      e.ID,
		Version:      e.DraftCount,
		Body:         body,
		Instructions: instructions,
		Confidence:   confidence,
		CreatedAt:    at,
	}
}

// DraftVersion is one entry in an email's append-only draft history.
type DraftVersion struct {
	ID           int64     `db:"id" json:"id"`
	EmailID      int64     `db:"email_id" json:"email_id"`
	Version      int       `db:"version" json:"version"`
	Body         string    `db:"body" json:"body"`
	Instructions string    `db:"instructions" json:"instructions,omitempty"`
	Confidence   int       `db:"confidence" json:"confidence"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// RawMessage is what a mail connector hands over for ingestion.
type RawMessage struct {
	MessageID  string
	Mailbox    string
	ThreadID   string
	Sender     string
	SenderName string
	Recipients []string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// DomainOf extracts the lower-cased domain of an address.
func DomainOf(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	addr = strings.Trim(addr, "<>")
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// StringList is stored as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(l))
}
