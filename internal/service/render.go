package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

const previewLen = 280

func approvalMessage(em *model.Email, possibleSpam bool) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Reply needed: %s\nFrom: %s\n", em.Subject, from(em))
	if em.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", em.Summary)
	}
	fmt.Fprintf(&b, "\nDraft v%d:\n%s\n\n", em.DraftCount, em.CurrentDraft)
	tok := em.Token()
	fmt.Fprintf(&b, "Reply \"approve %s\", \"edit %s: <changes>\", \"rewrite %s\", \"ignore %s\", \"delete %s\", \"more %s\" or \"forward %s <address>\".",
		tok, tok, tok, tok, tok, tok, tok)
	if possibleSpam {
		fmt.Fprintf(&b, "\nThis looks like spam (score %d). Reply \"spam %s\" to dispose of it.", em.SpamScore, tok)
	}
	return Message{Kind: MessageApprovalRequest, EmailID: em.ID, Token: tok, Subject: em.Subject, Text: b.String()}
}

func forwardSuggestionMessage(em *model.Email) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Forward suggested: %s\nFrom: %s\n", em.Subject, from(em))
	if s := summaryOf(em); s != "" {
		fmt.Fprintf(&b, "Summary: %s\n", s)
	}
	fmt.Fprintf(&b, "\nReply \"forward #%d to <address>\" or \"ignore #%d\".", em.ID, em.ID)
	return Message{Kind: MessageForwardSuggestion, EmailID: em.ID, Subject: em.Subject, Text: b.String()}
}

func fyiMessage(em *model.Email) Message {
	text := fmt.Sprintf("FYI from %s: %s", from(em), em.Subject)
	if em.Category == model.CategoryAlert {
		text = "Alert from " + from(em) + ": " + em.Subject
	}
	if s := summaryOf(em); s != "" {
		text += "\n" + s
	}
	return Message{Kind: MessageFYI, EmailID: em.ID, Subject: em.Subject, Text: text}
}

func reminderMessage(em *model.Email) Message {
	text := fmt.Sprintf("Follow-up: %s (from %s, %s)", em.Subject, from(em), em.State)
	if em.FollowUpNote != "" {
		text += "\nNote: " + em.FollowUpNote
	}
	if tok := em.Token(); tok != "" {
		text += fmt.Sprintf("\nStill awaiting approval, token %s.", tok)
	}
	return Message{Kind: MessageReminder, EmailID: em.ID, Token: em.Token(), Subject: em.Subject, Text: text}
}

func morningSummaryMessage(held []*model.Email, now time.Time) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Morning summary for %s: %d email(s)\n", now.Format("Mon 2 Jan"), len(held))
	for _, em := range held {
		fmt.Fprintf(&b, "- [P%d] %s: %s\n", em.Priority, from(em), em.Subject)
	}
	return Message{Kind: MessageMorningSummary, Text: strings.TrimRight(b.String(), "\n")}
}

func digestMessage(entries []model.DigestEntry) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Spam digest: %d email(s) filtered\n", len(entries))
	for _, d := range entries {
		fmt.Fprintf(&b, "- #%d %s: %s (score %d)\n", d.EmailID, d.Sender, d.Subject, d.SpamScore)
	}
	b.WriteString("Reply \"keep <id>\" for anything that is not spam, or \"dismiss all\".")
	return Message{Kind: MessageDigest, Text: strings.TrimRight(b.String(), "\n")}
}

// reviewText lists the delivered spam nobody has kept or dismissed yet.
func reviewText(entries []model.DigestEntry) string {
	if len(entries) == 0 {
		return "No spam awaiting review."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d spam email(s) awaiting review:\n", len(entries))
	for _, d := range entries {
		fmt.Fprintf(&b, "- #%d %s: %s (score %d)\n", d.EmailID, d.Sender, d.Subject, d.SpamScore)
	}
	b.WriteString("Reply \"keep <id>\" to rescue one or \"dismiss all\" to delete the rest.")
	return b.String()
}

func commandResultMessage(res *CommandResult) Message {
	return Message{Kind: MessageCommandResult, EmailID: res.EmailID, Text: res.Reply}
}

func failureMessage(em *model.Email, cause error) Message {
	return Message{
		Kind:    MessageFailure,
		EmailID: em.ID,
		Subject: em.Subject,
		Text:    fmt.Sprintf("Processing failed for \"%s\" from %s: %v", em.Subject, from(em), cause),
	}
}

// moreText is the full content returned by the more command.
func moreText(em *model.Email) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\nSubject: %s\nReceived: %s\n\n%s", from(em), em.Subject,
		em.ReceivedAt.UTC().Format(time.RFC1123), em.Body)
	if em.CurrentDraft != "" {
		fmt.Fprintf(&b, "\n\nCurrent draft (v%d):\n%s", em.DraftCount, em.CurrentDraft)
	}
	return b.String()
}

func from(em *model.Email) string {
	if em.SenderName != "" {
		return fmt.Sprintf("%s <%s>", em.SenderName, em.Sender)
	}
	return em.Sender
}

func summaryOf(em *model.Email) string {
	if em.Summary != "" {
		return em.Summary
	}
	body := []rune(strings.TrimSpace(em.Body))
	if len(body) > previewLen {
		return string(body[:previewLen]) + "..."
	}
	return string(body)
}
