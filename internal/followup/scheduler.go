package followup

import (
	"context"
	"iter"
	"time"

	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/repository"
	"github.com/Skycomm/email-ai-manager/pkg/config"
)

const defaultPageSize = 100

// Scheduler finds due follow-ups and owns the reminder policy. It keeps no
// state between scans: progress is the reminder count and the next
// follow_up_at stored on each email.
type Scheduler struct {
	emails *repository.EmailRepository
	cfg    config.FollowUpConfig
}

func NewScheduler(db repository.DB, cfg config.FollowUpConfig) *Scheduler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Scheduler{emails: repository.NewEmailRepository(db), cfg: cfg}
}

// Due yields every non-terminal email whose follow-up is at or before now,
// in id order, one page at a time. Iteration can stop at any point and a
// new call starts over from the store.
func (s *Scheduler) Due(ctx context.Context, now time.Time) iter.Seq2[*model.Email, error] {
	return func(yield func(*model.Email, error) bool) {
		var after int64
		for {
			page, err := s.emails.DueFollowUps(ctx, now, after, s.cfg.PageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				after = e.ID
			}
			if len(page) < s.cfg.PageSize {
				return
			}
		}
	}
}

// Capped reports whether e has used up its reminders.
func (s *Scheduler) Capped(e *model.Email) bool {
	return s.cfg.MaxReminders > 0 && e.FollowUpRemindedCount >= s.cfg.MaxReminders
}

// CapTarget is where a capped email goes: the configured cap action when
// that edge exists from its state, else archived. ok is false when neither
// edge exists and the follow-up should just be dropped.
func (s *Scheduler) CapTarget(from model.State) (model.State, bool) {
	if target, err := model.ParseState(s.cfg.CapAction); err == nil && lifecycle.Allowed(from, target) {
		return target, true
	}
	if lifecycle.Allowed(from, model.StateArchived) {
		return model.StateArchived, true
	}
	return 0, false
}

// Reminded records a delivered reminder on e and schedules the next one.
func (s *Scheduler) Reminded(e *model.Email, now time.Time) {
	e.FollowUpRemindedCount++
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	next := now.Add(interval)
	e.FollowUpAt = &next
}

// Clear drops the follow-up from e.
func Clear(e *model.Email) {
	e.FollowUpAt = nil
}
