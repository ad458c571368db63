package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Skycomm/email-ai-manager/internal/approval"
	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
)

// digested files two emails under a digest spam rule and delivers the
// digest.
func (h *harness) digested(t *testing.T) (*model.SpamRule, []*model.Email) {
	t.Helper()
	ctx := context.Background()
	rule := &model.SpamRule{RuleType: model.RuleDomain, Pattern: "spammy.io", Confidence: 90}
	if err := h.engine.CreateSpamRule(ctx, rule); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	emails := []*model.Email{
		h.ingest(t, "s1", "a@spammy.io", "One"),
		h.ingest(t, "s2", "b@spammy.io", "Two"),
	}
	for _, em := range emails {
		if em.State != model.StateSpamDetected {
			t.Fatalf("email %d = %s, want spam_detected", em.ID, em.State)
		}
	}
	if n, err := h.engine.FlushSpamDigest(ctx); err != nil || n != len(emails) {
		t.Fatalf("flush = %d, %v", n, err)
	}
	return rule, emails
}

func TestSpamDigestCommands(t *testing.T) {
	h := newHarness(t, nil)
	rule, spam := h.digested(t)
	kept, dismissed := spam[0], spam[1]

	digest := h.notifier.ofKind(MessageDigest)
	if len(digest) != 1 || !strings.Contains(digest[0].Text, "keep <id>") {
		t.Fatalf("digest = %+v", digest)
	}

	res, err := h.submit(t, "review")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	for _, em := range spam {
		if !strings.Contains(res.Reply, fmt.Sprintf("#%d ", em.ID)) {
			t.Errorf("review reply misses #%d:\n%s", em.ID, res.Reply)
		}
	}

	res, err = h.submit(t, fmt.Sprintf("keep %d", kept.ID))
	if err != nil {
		t.Fatalf("keep: %v", err)
	}
	got := h.email(t, kept.ID)
	if got.State != model.StateAwaitingApproval || got.Token() == "" || !strings.Contains(res.Reply, got.Token()) {
		t.Fatalf("kept email = %s token %q, reply %q", got.State, got.Token(), res.Reply)
	}
	if r, _ := h.engine.GetSpamRule(context.Background(), rule.ID); r.FalsePositives != 1 {
		t.Errorf("false positives = %d, want 1", r.FalsePositives)
	}

	res, _ = h.submit(t, "review")
	if strings.Contains(res.Reply, fmt.Sprintf("#%d ", kept.ID)) || !strings.Contains(res.Reply, fmt.Sprintf("#%d ", dismissed.ID)) {
		t.Errorf("review after keep:\n%s", res.Reply)
	}

	res, err = h.submit(t, "dismiss all")
	if err != nil || res.Reply != "Dismissed 1 spam email(s)." {
		t.Fatalf("dismiss all = %+v, %v", res, err)
	}
	if len(h.mail.moves) != 1 || h.mail.moves[0] != MoveTrash {
		t.Errorf("moves = %v, want one trash move", h.mail.moves)
	}
	if got := h.email(t, dismissed.ID); got.State != model.StateSpamDetected {
		t.Errorf("dismissed email = %s", got.State)
	}

	for _, text := range []string{"review", "dismiss_all"} {
		res, err := h.submit(t, text)
		if err != nil || res.Reply != "No spam awaiting review." {
			t.Errorf("%s after dismiss = %+v, %v", text, res, err)
		}
	}
	if len(h.mail.moves) != 1 {
		t.Errorf("second dismiss moved mail again: %v", h.mail.moves)
	}
}

func TestKeepRejectsOtherEmails(t *testing.T) {
	h := newHarness(t, nil)
	em := h.ingest(t, "m1", "bob@example.com", "Plan")

	tests := []struct {
		text  string
		check func(error) bool
	}{
		{fmt.Sprintf("keep %d", em.ID), func(err error) bool {
			var mis *lifecycle.StateMismatchError
			return errors.As(err, &mis)
		}},
		{"keep 999", func(err error) bool {
			var amb *approval.AmbiguousCommandError
			return errors.As(err, &amb) && amb.EmailID == 999
		}},
	}
	for _, tt := range tests {
		_, err := h.submit(t, tt.text)
		if !tt.check(err) || !IsUserError(err) {
			t.Errorf("%q err = %v", tt.text, err)
		}
	}
	if got := h.email(t, em.ID); got.State != model.StateAwaitingApproval || got.Token() != em.Token() {
		t.Errorf("email = %s token %q, want untouched", got.State, got.Token())
	}
}

func TestDeleteCommand(t *testing.T) {
	t.Run("awaiting email is trashed then ignored", func(t *testing.T) {
		h := newHarness(t, nil)
		em := h.ingest(t, "m1", "bob@example.com", "Plan")
		res, err := h.submit(t, "delete "+em.Token())
		if err != nil || res.State != model.StateIgnored || res.Reply != "Deleted." {
			t.Fatalf("delete = %+v, %v", res, err)
		}
		if len(h.mail.moves) != 1 || h.mail.moves[0] != MoveTrash {
			t.Errorf("moves = %v", h.mail.moves)
		}
		if got := h.email(t, em.ID); got.Token() != "" {
			t.Errorf("token %q survived delete", got.Token())
		}
	})

	t.Run("failed move leaves the email", func(t *testing.T) {
		h := newHarness(t, nil)
		em := h.ingest(t, "m1", "bob@example.com", "Plan")
		h.mail.MoveFn = func(context.Context, *model.Email, MoveTarget) error {
			return errors.New("folder not found")
		}
		if _, err := h.submit(t, "delete "+em.Token()); err == nil || IsUserError(err) {
			t.Fatalf("delete err = %v, want a failure", err)
		}
		got := h.email(t, em.ID)
		if got.State != model.StateAwaitingApproval || got.Token() != em.Token() {
			t.Errorf("email = %s token %q, want untouched", got.State, got.Token())
		}
		if moves := h.audit(t, model.AuditFilter{Action: model.ActionMailMove, EmailID: em.ID}); len(moves) != 1 || moves[0].Success {
			t.Errorf("mail move audit = %+v", moves)
		}
	})

	t.Run("spam leaves the digest", func(t *testing.T) {
		h := newHarness(t, nil)
		_, spam := h.digested(t)
		res, err := h.submit(t, fmt.Sprintf("delete #%d", spam[0].ID))
		if err != nil || res.State != model.StateSpamDetected {
			t.Fatalf("delete spam = %+v, %v", res, err)
		}
		res, _ = h.submit(t, "review")
		if strings.Contains(res.Reply, fmt.Sprintf("#%d ", spam[0].ID)) {
			t.Errorf("deleted spam still under review:\n%s", res.Reply)
		}
	})

	t.Run("closed email is refused", func(t *testing.T) {
		h := newHarness(t, nil)
		em := h.ingest(t, "m1", "bob@example.com", "Plan")
		if _, err := h.submit(t, "done"); err != nil {
			t.Fatalf("done: %v", err)
		}
		_, err := h.submit(t, fmt.Sprintf("delete #%d", em.ID))
		if !lifecycle.IsIllegal(err) {
			t.Fatalf("delete archived err = %v, want illegal transition", err)
		}
		if len(h.mail.moves) != 0 {
			t.Errorf("refused delete moved mail: %v", h.mail.moves)
		}
	})
}

func TestMeetingRouting(t *testing.T) {
	tests := []struct {
		name     string
		sender   string
		subject  string
		category model.Category
		want     model.State
		guidance string
	}{
		{
			name:     "internal invitation is accepted",
			sender:   "dana@x.com",
			subject:  "Invitation: Design review",
			want:     model.StateAwaitingApproval,
			guidance: "Accept the meeting invitation",
		},
		{
			name:     "external request waits on the calendar",
			sender:   "bob@example.com",
			subject:  "Meeting request: Q3 roadmap",
			want:     model.StateAwaitingApproval,
			guidance: "check your calendar",
		},
		{
			name:     "triaged as meeting",
			sender:   "bob@example.com",
			subject:  "Thursday",
			category: model.CategoryMeeting,
			want:     model.StateAwaitingApproval,
			guidance: "check your calendar",
		},
		{name: "response is fyi", sender: "bob@example.com", subject: "Accepted: Weekly sync", want: model.StateFYINotified},
		{name: "cancellation is fyi", sender: "bob@example.com", subject: "Canceled: Planning", want: model.StateFYINotified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(o *options) { o.settings.People.InternalDomains = []string{"x.com"} })
			if tt.category != "" {
				h.drafter.TriageFn = func(context.Context, *model.Email) (TriageResult, error) {
					return TriageResult{Category: tt.category, Priority: model.PriorityNormal, Summary: "s", NeedsReply: true}, nil
				}
			}
			em := h.ingest(t, "m1", tt.sender, tt.subject)
			if em.State != tt.want || em.Category != model.CategoryMeeting {
				t.Fatalf("email = %s %s, want %s meeting", em.State, em.Category, tt.want)
			}
			if tt.guidance == "" {
				if len(h.drafter.instructions) != 0 {
					t.Errorf("meeting notice was drafted: %v", h.drafter.instructions)
				}
				return
			}
			if len(h.drafter.instructions) != 1 || !strings.Contains(h.drafter.instructions[0], tt.guidance) {
				t.Errorf("draft instructions = %q, want %q", h.drafter.instructions, tt.guidance)
			}
		})
	}
}

func TestForwardCandidateRouting(t *testing.T) {
	h := newHarness(t, nil)
	h.drafter.TriageFn = func(context.Context, *model.Email) (TriageResult, error) {
		return TriageResult{Category: model.CategoryForwardCandidate, Priority: model.PriorityNormal, Summary: "for finance", NeedsReply: true}, nil
	}
	a := h.ingest(t, "m1", "bob@example.com", "Invoice")
	b := h.ingest(t, "m2", "carol@example.com", "Receipt")

	for _, em := range []*model.Email{a, b} {
		if em.State != model.StateForwardSuggested || em.Token() != "" {
			t.Fatalf("email %d = %s token %q", em.ID, em.State, em.Token())
		}
	}
	if len(h.drafter.instructions) != 0 {
		t.Errorf("forward candidate was drafted: %v", h.drafter.instructions)
	}
	msgs := h.notifier.ofKind(MessageForwardSuggestion)
	if len(msgs) != 2 || !strings.Contains(msgs[0].Text, fmt.Sprintf("forward #%d to", a.ID)) {
		t.Fatalf("suggestions = %+v", msgs)
	}

	var amb *approval.AmbiguousCommandError
	if _, err := h.submit(t, "ignore"); !errors.As(err, &amb) || amb.Matches != 0 {
		t.Errorf("bare ignore = %v, forward suggestions hold no token", err)
	}

	res, err := h.submit(t, fmt.Sprintf("forward #%d to finance@example.com", a.ID))
	if err != nil || res.State != model.StateForwarded {
		t.Fatalf("forward = %+v, %v", res, err)
	}
	if len(h.mail.forwards) != 1 || h.mail.forwards[0] != "finance@example.com" {
		t.Errorf("forwards = %v", h.mail.forwards)
	}
	if res, err := h.submit(t, fmt.Sprintf("ignore #%d", b.ID)); err != nil || res.State != model.StateIgnored {
		t.Fatalf("ignore = %+v, %v", res, err)
	}
}
