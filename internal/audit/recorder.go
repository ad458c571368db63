package audit

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/repository"
	"github.com/Skycomm/email-ai-manager/pkg/logger"
)

// Recorder is the only writer of the audit log. Writes are best effort: a
// failure is logged and never reaches the caller.
type Recorder struct {
	repo   *repository.AuditRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewRecorder(db *sqlx.DB, logger *zap.Logger) *Recorder {
	return &Recorder{
		repo:   repository.NewAuditRepository(db),
		logger: logger.Named("audit"),
		now:    time.Now,
	}
}

// SetClock replaces the timestamp source.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// Record appends e. A zero timestamp is filled in.
func (r *Recorder) Record(ctx context.Context, e model.AuditEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	if err := r.repo.Insert(ctx, &e); err != nil {
		logger.WithTrace(ctx, r.logger).Error("Failed to write audit entry",
			zap.String("agent", e.Agent),
			zap.String("action", e.Action),
			zap.Int64p("email_id", e.EmailID),
			zap.Any("details", e.Details),
			zap.Bool("success", e.Success),
			zap.String("entry_error", e.Error),
			zap.Error(err),
		)
	}
}

// Success records a successful action on emailID (0 for none).
func (r *Recorder) Success(ctx context.Context, agent, action string, emailID int64, details model.Details) {
	r.Record(ctx, model.AuditEntry{
		Agent:   agent,
		Action:  action,
		EmailID: ref(emailID),
		Details: details,
		Success: true,
	})
}

// Failure records a failed action on emailID (0 for none).
func (r *Recorder) Failure(ctx context.Context, agent, action string, emailID int64, details model.Details, cause error) {
	e := model.AuditEntry{
		Agent:   agent,
		Action:  action,
		EmailID: ref(emailID),
		Details: details,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	r.Record(ctx, e)
}

// List exposes the log for the query surfaces.
func (r *Recorder) List(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	return r.repo.List(ctx, f)
}

func ref(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
