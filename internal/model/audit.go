package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Audit actions.
const (
	ActionEmailReceived      = "email_received"
	ActionDuplicateIgnored   = "duplicate_ignored"
	ActionTransition         = "transition"
	ActionTransitionRejected = "transition_rejected"
	ActionTriage             = "triage"
	ActionSpamClassified     = "spam_classified"
	ActionSpamRuleLearned    = "spam_rule_learned"
	ActionSpamFalsePositive  = "spam_false_positive"
	ActionDraftGenerated     = "draft_generated"
	ActionNotify             = "notify"
	ActionSend               = "send"
	ActionSendDeferred       = "send_deferred"
	ActionForward            = "forward"
	ActionMailMove           = "mail_move"
	ActionCommand            = "command"
	ActionCommandRejected    = "command_rejected"
	ActionFollowUpReminder   = "follow_up_reminder"
	ActionRetryAttempt       = "retry_attempt"
	ActionEmailUpdated       = "email_updated"
	ActionResumed            = "resumed"
)

// AuditEntry is one immutable line of the audit log.
type AuditEntry struct {
	ID          int64     `db:"id" json:"id"`
	Timestamp   time.Time `db:"ts" json:"timestamp"`
	Agent       string    `db:"agent" json:"agent"`
	Action      string    `db:"action" json:"action"`
	EmailID     *int64    `db:"email_id" json:"email_id,omitempty"`
	Details     Details   `db:"details" json:"details,omitempty"`
	UserCommand string    `db:"user_command" json:"user_command,omitempty"`
	Success     bool      `db:"success" json:"success"`
	Error       string    `db:"error" json:"error,omitempty"`
}

// Details holds structured audit context, stored as JSON.
type Details map[string]any

func (d Details) Value() (driver.Value, error) {
	if len(d) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(d))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *Details) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into Details", src)
	}
	if len(raw) == 0 {
		*d = nil
		return nil
	}
	return json.Unmarshal(raw, (*map[string]any)(d))
}

// AuditFilter narrows audit queries. Zero values mean "any".
type AuditFilter struct {
	Agent   string
	Action  string
	EmailID int64
	Since   time.Time
	Until   time.Time
	Success *bool
	Limit   int
	Offset  int
}
