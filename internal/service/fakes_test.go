package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/approval"
	"github.com/Skycomm/email-ai-manager/internal/audit"
	"github.com/Skycomm/email-ai-manager/internal/dedup"
	"github.com/Skycomm/email-ai-manager/internal/followup"
	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/ratelimit"
	"github.com/Skycomm/email-ai-manager/internal/spam"
	"github.com/Skycomm/email-ai-manager/internal/testutil"
	"github.com/Skycomm/email-ai-manager/pkg/config"
)

const testChannel = "approvals"

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeMail struct {
	mu        sync.Mutex
	SendFn    func(ctx context.Context, e *model.Email, body string) error
	ForwardFn func(ctx context.Context, e *model.Email, to string) error
	MoveFn    func(ctx context.Context, e *model.Email, target MoveTarget) error
	inbox     map[string][]model.RawMessage
	sent      []int64
	forwards  []string
	moves     []MoveTarget
}

func (f *fakeMail) FetchNew(_ context.Context, mailbox string) ([]model.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inbox[mailbox], nil
}

func (f *fakeMail) Send(ctx context.Context, e *model.Email, body string) error {
	if f.SendFn != nil {
		if err := f.SendFn(ctx, e, body); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, e.ID)
	return nil
}

func (f *fakeMail) Forward(ctx context.Context, e *model.Email, to string) error {
	if f.ForwardFn != nil {
		if err := f.ForwardFn(ctx, e, to); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards = append(f.forwards, to)
	return nil
}

func (f *fakeMail) Move(ctx context.Context, e *model.Email, target MoveTarget) error {
	if f.MoveFn != nil {
		if err := f.MoveFn(ctx, e, target); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, target)
	return nil
}

type fakeDrafter struct {
	mu           sync.Mutex
	TriageFn     func(ctx context.Context, e *model.Email) (TriageResult, error)
	DraftFn      func(ctx context.Context, e *model.Email, instructions string) (DraftResult, error)
	triageCalls  int
	drafts       int
	instructions []string
}

func (f *fakeDrafter) Triage(ctx context.Context, e *model.Email) (TriageResult, error) {
	f.mu.Lock()
	f.triageCalls++
	f.mu.Unlock()
	if f.TriageFn != nil {
		return f.TriageFn(ctx, e)
	}
	return TriageResult{
		Category:   model.CategoryActionRequired,
		Priority:   model.PriorityHigh,
		Summary:    "asks for a meeting",
		NeedsReply: true,
		Confidence: 80,
	}, nil
}

func (f *fakeDrafter) Summarize(_ context.Context, e *model.Email) (string, error) {
	return "summary of " + e.Subject, nil
}

func (f *fakeDrafter) Draft(ctx context.Context, e *model.Email, instructions string) (DraftResult, error) {
	f.mu.Lock()
	f.instructions = append(f.instructions, instructions)
	f.mu.Unlock()
	if f.DraftFn != nil {
		return f.DraftFn(ctx, e, instructions)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts++
	return DraftResult{Body: fmt.Sprintf("Draft %d", f.drafts), Confidence: 70}, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	NotifyFn func(ctx context.Context, channel string, msg Message) error
	messages []Message
}

func (f *fakeNotifier) Notify(ctx context.Context, channel string, msg Message) error {
	if f.NotifyFn != nil {
		if err := f.NotifyFn(ctx, channel, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeNotifier) ofKind(kind string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type options struct {
	settings   Settings
	maxPerHour int
	followUp   config.FollowUpConfig
}

func defaultOptions() options {
	return options{
		settings: Settings{
			Channel:   testChannel,
			Mailboxes: []string{"a@x.com"},
			Spam: config.SpamConfig{
				DisposalThreshold:   85,
				AskThreshold:        70,
				LearnedConfidence:   60,
				Boost:               10,
				FPPenalty:           10,
				FPRatio:             0.3,
				FPMinSamples:        3,
				EscalateArchiveHits: 3,
				EscalateDeleteHits:  10,
				VIPPolicy:           spam.VIPProtect,
				VIPFloorBoost:       100,
			},
			AutoSend: config.AutoSendConfig{MaxPriority: 4, MinConfidence: 80},
			Retry:    config.RetryConfig{MaxAttempts: 2},
			Schedule: config.ScheduleConfig{FYIAutoArchive: 48 * time.Hour, DigestBatchSize: 5},
		},
		maxPerHour: 20,
		followUp:   config.FollowUpConfig{MaxReminders: 2, Interval: 24 * time.Hour, CapAction: "held_for_morning"},
	}
}

type harness struct {
	engine   *Engine
	db       *sqlx.DB
	mail     *fakeMail
	drafter  *fakeDrafter
	notifier *fakeNotifier
	now      time.Time
}

func newHarness(t *testing.T, tweak func(*options)) *harness {
	t.Helper()
	o := defaultOptions()
	if tweak != nil {
		tweak(&o)
	}

	db := testutil.NewTestDB(t)
	log := zap.NewNop()
	rec := audit.NewRecorder(db, log)
	issuer, err := approval.NewIssuer(6)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	h := &harness{
		db:       db,
		mail:     &fakeMail{inbox: map[string][]model.RawMessage{}},
		drafter:  &fakeDrafter{},
		notifier: &fakeNotifier{},
		now:      base,
	}
	clock := func() time.Time { return h.now }

	machine := lifecycle.NewMachine(db, issuer, rec, log)
	machine.SetClock(clock)
	rec.SetClock(clock)
	spamEngine := spam.NewEngine(db, o.settings.Spam, nil, log)
	spamEngine.SetClock(clock)
	gate := dedup.New(db, nil)
	gate.SetClock(clock)

	h.engine = NewEngine(Dependencies{
		DB:        db,
		Machine:   machine,
		Audit:     rec,
		Dedup:     gate,
		Spam:      spamEngine,
		Limiter:   ratelimit.New(db, o.maxPerHour),
		FollowUps: followup.NewScheduler(db, o.followUp),
		Mail:      h.mail,
		Triager:   h.drafter,
		Drafter:   h.drafter,
		Notifier:  h.notifier,
	}, o.settings, log)
	h.engine.SetClock(clock)
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *harness) raw(messageID, sender, subject string) model.RawMessage {
	return model.RawMessage{
		MessageID:  messageID,
		Mailbox:    "a@x.com",
		Sender:     sender,
		Recipients: []string{"a@x.com"},
		Subject:    subject,
		Body:       "Can we meet on Thursday to go over the plan?",
		ReceivedAt: base,
	}
}

// ingest admits a message and returns its stored email.
func (h *harness) ingest(t *testing.T, messageID, sender, subject string) *model.Email {
	t.Helper()
	em, err := h.engine.IngestMessage(context.Background(), h.raw(messageID, sender, subject))
	if err != nil {
		t.Fatalf("ingest %s: %v", messageID, err)
	}
	return h.email(t, em.ID)
}

func (h *harness) email(t *testing.T, id int64) *model.Email {
	t.Helper()
	d, err := h.engine.GetEmail(context.Background(), id)
	if err != nil {
		t.Fatalf("get email %d: %v", id, err)
	}
	return d.Email
}

func (h *harness) audit(t *testing.T, f model.AuditFilter) []model.AuditEntry {
	t.Helper()
	entries, err := h.engine.ListAudit(context.Background(), f)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	return entries
}

func (h *harness) submit(t *testing.T, text string) (*CommandResult, error) {
	t.Helper()
	return h.engine.SubmitCommand(context.Background(), testChannel, "alice", text)
}
