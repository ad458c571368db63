package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/pkg/config"
	"github.com/Skycomm/email-ai-manager/pkg/logger"
	"github.com/Skycomm/email-ai-manager/pkg/trace"
)

// Engine is the set of periodic operations the scheduler drives.
type Engine interface {
	IngestMailbox(ctx context.Context, mailbox string) (int, error)
	RunFollowUps(ctx context.Context, now time.Time) (int, error)
	SendDeferred(ctx context.Context) (int, error)
	SendMorningSummary(ctx context.Context, now time.Time) (int, error)
	ArchiveStaleFYI(ctx context.Context, now time.Time) (int, error)
	FlushSpamDigest(ctx context.Context) (int, error)
	Resume(ctx context.Context, now time.Time) (int, error)
}

// Job is one periodic tick.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) (int, error)
}

const morningCheckInterval = time.Minute

// Scheduler runs each job on its own ticker. Ticks of one job never
// overlap; a slow tick delays the next one.
type Scheduler struct {
	engine    Engine
	cfg       config.ScheduleConfig
	mailboxes []string
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger

	mu          sync.Mutex
	lastSummary string
}

func New(engine Engine, cfg config.ScheduleConfig, mailboxes []string, log *zap.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	return &Scheduler{
		engine:    engine,
		cfg:       cfg,
		mailboxes: mailboxes,
		loc:       loc,
		now:       time.Now,
		logger:    log.Named("scheduler"),
	}, nil
}

// Jobs lists the enabled ticks. A zero interval disables a job.
func (s *Scheduler) Jobs() []Job {
	all := []Job{
		{Name: "poll", Interval: s.cfg.PollInterval, Run: s.poll},
		{Name: "followups", Interval: s.cfg.FollowUpInterval, Run: s.engine.RunFollowUps},
		{Name: "deferred_send", Interval: s.cfg.SendInterval, Run: func(ctx context.Context, _ time.Time) (int, error) {
			return s.engine.SendDeferred(ctx)
		}},
		{Name: "morning_summary", Interval: morningCheckInterval, Run: s.morningSummary},
		{Name: "fyi_archive", Interval: s.cfg.ArchiveInterval, Run: s.engine.ArchiveStaleFYI},
		{Name: "spam_digest", Interval: s.cfg.DigestInterval, Run: func(ctx context.Context, _ time.Time) (int, error) {
			return s.engine.FlushSpamDigest(ctx)
		}},
		{Name: "resume", Interval: s.cfg.ResumeInterval, Run: s.engine.Resume},
	}
	jobs := all[:0]
	for _, j := range all {
		if j.Interval > 0 {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// Start blocks until ctx is done and every job loop has returned.
func (s *Scheduler) Start(ctx context.Context) {
	jobs := s.Jobs()
	s.logger.Info("Starting scheduler", zap.Int("jobs", len(jobs)), zap.String("timezone", s.loc.String()))

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, j)
		}()
	}
	wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, j)
		}
	}
}

// RunOnce executes one tick of j under a fresh trace id. Panics are
// contained to the tick.
func (s *Scheduler) RunOnce(ctx context.Context, j Job) {
	traceID := trace.GenerateTraceID()
	ctx = trace.WithContext(ctx, traceID)
	log := s.logger.With(zap.String("job", j.Name), zap.String("trace_id", traceID))
	start := s.now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Job panic recovered", zap.Any("panic", r))
		}
	}()

	n, err := j.Run(ctx, start)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Job failed", zap.Int("processed", n), zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("Job completed", zap.Int("processed", n), zap.Duration("took", s.now().Sub(start)))
	}
}

// poll ingests every configured mailbox. One failing mailbox does not stop
// the others.
func (s *Scheduler) poll(ctx context.Context, _ time.Time) (int, error) {
	total := 0
	var errs []error
	for _, mb := range s.mailboxes {
		n, err := s.engine.IngestMailbox(ctx, mb)
		total += n
		if err != nil {
			logger.WithTrace(ctx, s.logger).Warn("Mailbox poll failed", zap.String("mailbox", mb), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", mb, err))
		}
	}
	return total, errors.Join(errs...)
}

// morningSummary sends the held-for-morning summary once per local day,
// at the first check on or after the configured hour.
func (s *Scheduler) morningSummary(ctx context.Context, now time.Time) (int, error) {
	local := now.In(s.loc)
	if local.Hour() < s.cfg.MorningSummaryHour {
		return 0, nil
	}
	day := local.Format(time.DateOnly)

	s.mu.Lock()
	done := s.lastSummary == day
	s.mu.Unlock()
	if done {
		return 0, nil
	}

	n, err := s.engine.SendMorningSummary(ctx, now)
	if err != nil {
		return n, err
	}
	s.mu.Lock()
	s.lastSummary = day
	s.mu.Unlock()
	return n, nil
}
