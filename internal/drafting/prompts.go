package drafting

import (
	"fmt"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

const triageSystemPrompt = `You triage incoming email for a busy professional.
Classify each email and respond with a single JSON object, no other text:
{"category": "", "priority": 3, "summary": "", "needs_reply": false, "confidence": 0}

category is one of: urgent, action_required, fyi, meeting, alert, spam_candidate, forward_candidate.
priority runs from 1 (critical) to 5 (can wait indefinitely).
summary is two or three factual sentences.
needs_reply is true only when the sender expects an answer.
confidence is 0-100.`

const draftingSystemPrompt = `You draft email replies for approval by their owner.
Be professional but warm and get to the point quickly.
Never make commitments about dates, amounts or promises.
Never share confidential information.
If information is missing, say you will follow up.`

func header(e *model.Email) string {
	name := e.SenderName
	if name == "" {
		name = e.Sender
	}
	return fmt.Sprintf("From: %s <%s>\nSubject: %s", name, e.Sender, e.Subject)
}

func triagePrompt(e *model.Email) string {
	return fmt.Sprintf("Triage this email:\n\n%s\n\n%s", header(e), truncate(e.Body, maxBodyChars))
}

func summaryPrompt(e *model.Email) string {
	return fmt.Sprintf(`Summarize this email in 2-3 concise sentences:

%s

%s

Focus on what the sender needs, any deadlines and key facts. Output only the summary.`, header(e), truncate(e.Body, maxBodyChars))
}

func draftPrompt(e *model.Email, guidance string) string {
	if guidance != "" {
		guidance = "\nGuidance: " + guidance + "\n"
	}
	return fmt.Sprintf(`Write a reply to this email:

%s

Summary: %s
%s
Full content:
%s

Respond with a single JSON object, no other text:
{"body": "<the reply, greeting to sign-off>", "confidence": <0-100, how safe it is to send unedited>}`,
		header(e), e.Summary, guidance, truncate(e.Body, maxBodyChars))
}

func revisePrompt(e *model.Email, instructions string) string {
	return fmt.Sprintf(`Revise this draft reply.

Original email:
%s

Current draft:
%s

Instructions:
%s

Respond with a single JSON object, no other text:
{"body": "<the revised reply>", "confidence": <0-100>}`, header(e), e.CurrentDraft, instructions)
}
