package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/pkg/config"
	"github.com/Skycomm/email-ai-manager/pkg/trace"
)

type fakeEngine struct {
	IngestFn  func(mailbox string) (int, error)
	SummaryFn func(now time.Time) (int, error)
	polled    []string
	summaries int
	traceIDs  []string
	resumed   []time.Time
}

func (f *fakeEngine) IngestMailbox(ctx context.Context, mailbox string) (int, error) {
	f.polled = append(f.polled, mailbox)
	f.traceIDs = append(f.traceIDs, trace.FromContext(ctx))
	if f.IngestFn != nil {
		return f.IngestFn(mailbox)
	}
	return 1, nil
}

func (f *fakeEngine) RunFollowUps(context.Context, time.Time) (int, error)    { return 0, nil }
func (f *fakeEngine) SendDeferred(context.Context) (int, error)               { return 0, nil }
func (f *fakeEngine) ArchiveStaleFYI(context.Context, time.Time) (int, error) { return 0, nil }
func (f *fakeEngine) FlushSpamDigest(context.Context) (int, error)            { return 0, nil }

func (f *fakeEngine) Resume(_ context.Context, now time.Time) (int, error) {
	f.resumed = append(f.resumed, now)
	return 1, nil
}

func (f *fakeEngine) SendMorningSummary(_ context.Context, now time.Time) (int, error) {
	f.summaries++
	if f.SummaryFn != nil {
		return f.SummaryFn(now)
	}
	return 2, nil
}

func newTestScheduler(t *testing.T, eng *fakeEngine, cfg config.ScheduleConfig, mailboxes ...string) *Scheduler {
	t.Helper()
	s, err := New(eng, cfg, mailboxes, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func job(t *testing.T, s *Scheduler, name string) Job {
	t.Helper()
	for _, j := range s.Jobs() {
		if j.Name == name {
			return j
		}
	}
	t.Fatalf("job %q not scheduled", name)
	return Job{}
}

func TestJobsSkipZeroIntervals(t *testing.T) {
	s := newTestScheduler(t, &fakeEngine{}, config.ScheduleConfig{PollInterval: time.Minute, Timezone: "UTC"})
	var names []string
	for _, j := range s.Jobs() {
		names = append(names, j.Name)
	}
	if len(names) != 2 || names[0] != "poll" || names[1] != "morning_summary" {
		t.Errorf("jobs = %v, want poll and morning_summary", names)
	}
}

func TestResumeJobRunsAtTickTime(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestScheduler(t, eng, config.ScheduleConfig{ResumeInterval: 5 * time.Minute, Timezone: "UTC"})
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	j := job(t, s, "resume")
	if j.Interval != 5*time.Minute {
		t.Errorf("interval = %v, want 5m", j.Interval)
	}
	s.RunOnce(context.Background(), j)
	if len(eng.resumed) != 1 || !eng.resumed[0].Equal(at) {
		t.Errorf("resumed = %v, want one run at %v", eng.resumed, at)
	}
}

func TestPollContinuesPastFailingMailbox(t *testing.T) {
	eng := &fakeEngine{IngestFn: func(mb string) (int, error) {
		if mb == "bad" {
			return 0, errors.New("auth expired")
		}
		return 3, nil
	}}
	s := newTestScheduler(t, eng, config.ScheduleConfig{PollInterval: time.Minute, Timezone: "UTC"}, "bad", "INBOX")

	n, err := s.poll(context.Background(), time.Now())
	if n != 3 {
		t.Errorf("processed = %d, want 3", n)
	}
	if err == nil {
		t.Error("want joined error for the failing mailbox")
	}
	if len(eng.polled) != 2 {
		t.Errorf("polled = %v", eng.polled)
	}
}

func TestRunOnceSetsTraceAndRecovers(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestScheduler(t, eng, config.ScheduleConfig{PollInterval: time.Minute, Timezone: "UTC"}, "INBOX")

	s.RunOnce(context.Background(), job(t, s, "poll"))
	if len(eng.traceIDs) != 1 || eng.traceIDs[0] == "" {
		t.Errorf("trace ids = %v", eng.traceIDs)
	}

	s.RunOnce(context.Background(), Job{Name: "boom", Run: func(context.Context, time.Time) (int, error) {
		panic("nil map")
	}})
}

func TestMorningSummaryOncePerLocalDay(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestScheduler(t, eng, config.ScheduleConfig{MorningSummaryHour: 7, Timezone: "Australia/Perth"})
	ctx := context.Background()

	// Perth is UTC+8.
	tests := []struct {
		at   time.Time
		want int
	}{
		{time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC), 0}, // 06:00 local
		{time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC), 1}, // 07:00 local
		{time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), 1},  // 11:00 same day
		{time.Date(2026, 3, 2, 23, 5, 0, 0, time.UTC), 2}, // next local day
	}
	for _, tt := range tests {
		if _, err := s.morningSummary(ctx, tt.at); err != nil {
			t.Fatalf("%v: %v", tt.at, err)
		}
		if eng.summaries != tt.want {
			t.Errorf("at %v: summaries = %d, want %d", tt.at, eng.summaries, tt.want)
		}
	}
}

func TestMorningSummaryRetriesAfterFailure(t *testing.T) {
	fail := true
	eng := &fakeEngine{SummaryFn: func(time.Time) (int, error) {
		if fail {
			return 0, errors.New("notify down")
		}
		return 1, nil
	}}
	s := newTestScheduler(t, eng, config.ScheduleConfig{MorningSummaryHour: 7, Timezone: "UTC"})
	at := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	if _, err := s.morningSummary(context.Background(), at); err == nil {
		t.Fatal("want error")
	}
	fail = false
	if _, err := s.morningSummary(context.Background(), at.Add(time.Minute)); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if eng.summaries != 2 {
		t.Errorf("summaries = %d, want retry on the next check", eng.summaries)
	}
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	if _, err := New(&fakeEngine{}, config.ScheduleConfig{Timezone: "Mars/Olympus"}, nil, zap.NewNop()); err == nil {
		t.Error("want error for unknown timezone")
	}
}
