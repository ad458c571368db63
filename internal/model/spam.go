package model

import (
	"fmt"
	"time"
)

// RuleType selects which part of an email a spam rule inspects.
type RuleType string

const (
	RuleSender         RuleType = "sender"
	RuleDomain         RuleType = "domain"
	RuleSubjectKeyword RuleType = "subject_keyword"
	RulePattern        RuleType = "pattern"
)

func ParseRuleType(s string) (RuleType, error) {
	switch t := RuleType(s); t {
	case RuleSender, RuleDomain, RuleSubjectKeyword, RulePattern:
		return t, nil
	}
	return "", fmt.Errorf("unknown spam rule type %q", s)
}

// RuleAction is what happens to an email disposed by a rule.
type RuleAction string

const (
	RuleActionDigest  RuleAction = "digest"
	RuleActionArchive RuleAction = "archive"
	RuleActionDelete  RuleAction = "delete"
)

func ParseRuleAction(s string) (RuleAction, error) {
	switch a := RuleAction(s); a {
	case RuleActionDigest, RuleActionArchive, RuleActionDelete:
		return a, nil
	}
	return "", fmt.Errorf("unknown spam rule action %q", s)
}

// Rank orders actions by severity.
func (a RuleAction) Rank() int {
	switch a {
	case RuleActionDigest:
		return 1
	case RuleActionArchive:
		return 2
	case RuleActionDelete:
		return 3
	}
	return 0
}

// SpamRule is a learned or user-defined spam matcher.
type SpamRule struct {
	ID             int64      `db:"id" json:"id"`
	RuleType       RuleType   `db:"rule_type" json:"rule_type"`
	Pattern        string     `db:"pattern" json:"pattern"`
	Action         RuleAction `db:"action" json:"action"`
	Confidence     int        `db:"confidence" json:"confidence"`
	HitCount       int        `db:"hit_count" json:"hit_count"`
	FalsePositives int        `db:"false_positives" json:"false_positives"`
	Active         bool       `db:"active" json:"active"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	LastHitAt      *time.Time `db:"last_hit_at" json:"last_hit_at,omitempty"`
}

// FalsePositiveRatio is the share of hits a human overrode.
func (r *SpamRule) FalsePositiveRatio() float64 {
	if r.HitCount == 0 {
		return 0
	}
	return float64(r.FalsePositives) / float64(r.HitCount)
}

// ProcessedMessage is one row of the dedup ledger.
type ProcessedMessage struct {
	MessageID   string    `db:"message_id"`
	Mailbox     string    `db:"mailbox"`
	ProcessedAt time.Time `db:"processed_at"`
}

// DigestEntry is a spam email queued for the periodic digest.
type DigestEntry struct {
	ID          int64      `db:"id" json:"id"`
	EmailID     int64      `db:"email_id" json:"email_id"`
	Sender      string     `db:"sender" json:"sender"`
	Subject     string     `db:"subject" json:"subject"`
	SpamScore   int        `db:"spam_score" json:"spam_score"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	Resolution  string     `db:"resolution" json:"resolution,omitempty"`
}

// Digest resolutions.
const (
	DigestKept      = "kept"
	DigestDismissed = "dismissed"
	DigestDeleted   = "deleted"
)
