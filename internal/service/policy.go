package service

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

func (e *Engine) isVIP(ctx context.Context, sender string) (bool, error) {
	p := e.settings.People
	for _, v := range p.VIPSenders {
		if model.MatchesSender(v, sender) {
			return true, nil
		}
	}
	for _, d := range p.VIPDomains {
		if model.MatchesSender(d, sender) {
			return true, nil
		}
	}
	return e.senders.IsVIP(ctx, sender)
}

func (e *Engine) isInternal(sender string) bool {
	for _, d := range e.settings.People.InternalDomains {
		if model.MatchesSender(d, sender) {
			return true
		}
	}
	return false
}

// isAlert matches automated alert mail by sender domain or subject.
func (e *Engine) isAlert(ctx context.Context, em *model.Email) bool {
	p := e.settings.People
	for _, d := range p.AlertSenderDomains {
		if model.MatchesSender(d, em.Sender) {
			return true
		}
	}
	for _, expr := range p.AlertSubjectPatterns {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			e.log(ctx).Warn("Invalid alert subject pattern", zap.String("pattern", expr), zap.Error(err))
			continue
		}
		if re.MatchString(em.Subject) {
			return true
		}
	}
	return false
}

// autoSendEligible is the advisory policy for unattended replies: a low
// priority email, a confident draft, optionally a VIP sender, and never
// anything that looked like spam.
func (e *Engine) autoSendEligible(em *model.Email, confidence int, possibleSpam bool) bool {
	p := e.settings.AutoSend
	if possibleSpam {
		return false
	}
	if em.Priority < p.MaxPriority || confidence < p.MinConfidence {
		return false
	}
	if p.RequireVIP && !em.IsVIP {
		return false
	}
	return true
}

// possibleSpam reports whether a stored score sits in the ask band.
func (e *Engine) possibleSpam(em *model.Email) bool {
	ask := e.settings.Spam.AskThreshold
	return ask > 0 && em.SpamScore >= ask
}

// meetingKind is what a meeting-related email asks of its recipient.
type meetingKind uint8

const (
	meetingNone meetingKind = iota
	// meetingInvite wants an answer.
	meetingInvite
	// meetingNotice reports a response, an update or a cancellation.
	meetingNotice
)

var (
	meetingNoticeSubject = regexp.MustCompile(`(?i)^\s*(?:accepted|declined|tentative|tentatively accepted|canceled|cancelled|updated|rescheduled)\s*:|\bcancel+ed\b`)
	meetingInviteSubject = regexp.MustCompile(`(?i)^\s*(?:invitation|invite|calendar)\s*:|\b(?:meeting request|invitation|invite|meeting|appointment|conference call|stand-?up|catch up|1:1|one-on-one)\b`)
)

// meeting classifies em by its subject. A triage verdict of meeting with
// no recognizable subject counts as an invite when a reply is needed.
func meeting(em *model.Email, tr TriageResult) meetingKind {
	switch {
	case meetingNoticeSubject.MatchString(em.Subject):
		return meetingNotice
	case meetingInviteSubject.MatchString(em.Subject):
		return meetingInvite
	case tr.Category == model.CategoryMeeting && tr.NeedsReply:
		return meetingInvite
	case tr.Category == model.CategoryMeeting:
		return meetingNotice
	}
	return meetingNone
}

// meetingGuidance steers the first draft for an invitation: internal
// invitations are accepted, anything else is acknowledged pending a
// calendar check.
func (e *Engine) meetingGuidance(em *model.Email) string {
	if e.isInternal(em.Sender) {
		return "Accept the meeting invitation and confirm attendance."
	}
	return "Thank the sender for the invitation and say you will check your calendar and confirm shortly. Do not accept or decline yet."
}
