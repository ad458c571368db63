package service

import (
	"context"
	"testing"
	"time"

	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
)

const testGrace = 10 * time.Minute

// stall stores an email and walks it along path without the follow-up
// steps a live request would run.
func (h *harness) stall(t *testing.T, messageID string, path []model.State, eligible bool) *model.Email {
	t.Helper()
	ctx := context.Background()
	em := &model.Email{
		MessageID:  messageID,
		Mailbox:    "a@x.com",
		Sender:     "bob@example.com",
		Subject:    "Quarterly plan",
		Body:       "Can we meet on Thursday?",
		State:      model.StateNew,
		Priority:   model.PriorityNormal,
		ReceivedAt: h.now,
		CreatedAt:  h.now,
		UpdatedAt:  h.now,
	}
	if err := h.engine.emails.Create(ctx, em); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, to := range path {
		tr := lifecycle.Transition{To: to}
		if to == model.StateDraftGenerated {
			tr.Mutate = func(m *model.Email) error {
				m.AppendDraft("Thursday works.", "", 90, h.now)
				m.AutoSendEligible = eligible
				return nil
			}
		}
		if _, err := h.engine.machine.Apply(ctx, em.ID, tr); err != nil {
			t.Fatalf("apply %s: %v", to, err)
		}
	}
	return h.email(t, em.ID)
}

func TestResumePicksUpStalledEmails(t *testing.T) {
	tests := []struct {
		name     string
		path     []model.State
		autoSend bool
		eligible bool
		want     model.State
	}{
		{name: "new is classified", want: model.StateAwaitingApproval},
		{name: "action_required is drafted", path: []model.State{model.StateActionRequired}, want: model.StateAwaitingApproval},
		{
			name: "draft_generated is offered for approval",
			path: []model.State{model.StateActionRequired, model.StateDraftGenerated},
			want: model.StateAwaitingApproval,
		},
		{
			name:     "eligible draft_generated is auto-sent",
			path:     []model.State{model.StateActionRequired, model.StateDraftGenerated},
			autoSend: true,
			eligible: true,
			want:     model.StateSent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(o *options) {
				o.settings.Schedule.ResumeGrace = testGrace
				o.settings.AutoSend.Enabled = tt.autoSend
			})
			ctx := context.Background()
			em := h.stall(t, "m1", tt.path, tt.eligible)

			h.advance(testGrace / 2)
			n, err := h.engine.Resume(ctx, h.now)
			if err != nil || n != 0 {
				t.Fatalf("Resume inside grace = %d, %v; want 0", n, err)
			}
			if got := h.email(t, em.ID); got.State != em.State {
				t.Fatalf("email moved inside grace: %s", got.State)
			}

			h.advance(testGrace)
			n, err = h.engine.Resume(ctx, h.now)
			if err != nil || n != 1 {
				t.Fatalf("Resume = %d, %v; want 1", n, err)
			}
			got := h.email(t, em.ID)
			if got.State != tt.want {
				t.Fatalf("state = %s, want %s", got.State, tt.want)
			}
			if got.State.ApprovalPending() && got.Token() == "" {
				t.Error("resumed email has no approval token")
			}
			if tt.want == model.StateAwaitingApproval && len(h.notifier.ofKind(MessageApprovalRequest)) != 1 {
				t.Errorf("approval requests = %d, want 1", len(h.notifier.ofKind(MessageApprovalRequest)))
			}
			if entries := h.audit(t, model.AuditFilter{Action: model.ActionResumed, EmailID: em.ID}); len(entries) != 1 {
				t.Errorf("resumed audit entries = %d, want 1", len(entries))
			}
		})
	}
}

func TestResumeAfterCancelledDraft(t *testing.T) {
	h := newHarness(t, func(o *options) { o.settings.Schedule.ResumeGrace = testGrace })
	ctx, cancel := context.WithCancel(context.Background())
	h.drafter.DraftFn = func(ctx context.Context, _ *model.Email, _ string) (DraftResult, error) {
		cancel()
		return DraftResult{}, ctx.Err()
	}
	if _, err := h.engine.IngestMessage(ctx, h.raw("m1", "bob@example.com", "Quarterly plan")); err == nil {
		t.Fatal("ingest succeeded under a cancelled context")
	}

	emails, err := h.engine.emails.ListInState(context.Background(), model.StateActionRequired, time.Time{}, 10)
	if err != nil || len(emails) != 1 {
		t.Fatalf("stalled emails = %v, %v; want one action_required", emails, err)
	}
	id := emails[0].ID

	h.drafter.DraftFn = nil
	h.advance(testGrace + time.Minute)
	n, err := h.engine.Resume(context.Background(), h.now)
	if err != nil || n != 1 {
		t.Fatalf("Resume = %d, %v; want 1", n, err)
	}
	got := h.email(t, id)
	if got.State != model.StateAwaitingApproval || got.Token() == "" || got.DraftCount != 1 {
		t.Fatalf("email = %s token %q drafts %d", got.State, got.Token(), got.DraftCount)
	}

	n, err = h.engine.Resume(context.Background(), h.now.Add(time.Hour))
	if err != nil || n != 0 {
		t.Errorf("second Resume = %d, %v; awaiting_approval must be left alone", n, err)
	}
}

func TestResumeDisabledWithoutGrace(t *testing.T) {
	h := newHarness(t, nil)
	h.stall(t, "m1", nil, false)
	h.advance(24 * time.Hour)
	if n, err := h.engine.Resume(context.Background(), h.now); err != nil || n != 0 {
		t.Errorf("Resume = %d, %v; want 0 with no grace configured", n, err)
	}
}

func TestResumeOffersStalledForwardCandidate(t *testing.T) {
	h := newHarness(t, func(o *options) { o.settings.Schedule.ResumeGrace = testGrace })
	ctx := context.Background()
	em := h.stall(t, "m1", []model.State{model.StateActionRequired}, false)
	_, err := h.engine.machine.Amend(ctx, em.ID, lifecycle.Amendment{Mutate: func(m *model.Email) error {
		m.Category = model.CategoryForwardCandidate
		return nil
	}})
	if err != nil {
		t.Fatalf("amend: %v", err)
	}

	h.advance(testGrace + time.Minute)
	if n, err := h.engine.Resume(ctx, h.now); err != nil || n != 1 {
		t.Fatalf("Resume = %d, %v; want 1", n, err)
	}
	if got := h.email(t, em.ID); got.State != model.StateForwardSuggested {
		t.Fatalf("state = %s, want forward_suggested", got.State)
	}
	if len(h.notifier.ofKind(MessageForwardSuggestion)) != 1 || len(h.drafter.instructions) != 0 {
		t.Errorf("suggestions = %d drafts = %d", len(h.notifier.ofKind(MessageForwardSuggestion)), len(h.drafter.instructions))
	}
}
