package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/audit"
	"github.com/Skycomm/email-ai-manager/internal/dedup"
	"github.com/Skycomm/email-ai-manager/internal/followup"
	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/ratelimit"
	"github.com/Skycomm/email-ai-manager/internal/repository"
	"github.com/Skycomm/email-ai-manager/internal/spam"
	"github.com/Skycomm/email-ai-manager/pkg/config"
	"github.com/Skycomm/email-ai-manager/pkg/logger"
	"github.com/Skycomm/email-ai-manager/pkg/metrics"
	"github.com/Skycomm/email-ai-manager/pkg/util"
)

// Audit agents.
const (
	AgentIngestion = "ingestion"
	AgentSpam      = "spam_filter"
	AgentTriage    = "triage"
	AgentDrafting  = "drafting"
	AgentApproval  = "approval"
	AgentSender    = "sender"
	AgentFollowUp  = "followup"
	AgentScheduler = "scheduler"
	AgentOperator  = "operator"
	AgentAutoSend  = "auto_send"
)

// Settings is the slice of configuration the engine acts on.
type Settings struct {
	Channel   string
	Mailboxes []string
	AutoSend  config.AutoSendConfig
	Spam      config.SpamConfig
	People    config.PeopleConfig
	Retry     config.RetryConfig
	Schedule  config.ScheduleConfig
}

// Dependencies are the stores and collaborators the engine drives.
type Dependencies struct {
	DB        *sqlx.DB
	Machine   *lifecycle.Machine
	Audit     *audit.Recorder
	Dedup     *dedup.Deduplicator
	Spam      *spam.Engine
	Limiter   *ratelimit.Limiter
	FollowUps *followup.Scheduler

	Mail     MailConnector
	Triager  Triager
	Drafter  Drafter
	Notifier Notifier
}

// Engine orchestrates the email lifecycle. All state lives in the store;
// an Engine can be restarted or run next to another one at any time.
type Engine struct {
	db        *sqlx.DB
	emails    *repository.EmailRepository
	senders   *repository.SenderRepository
	digest    *repository.DigestRepository
	machine   *lifecycle.Machine
	audit     *audit.Recorder
	dedup     *dedup.Deduplicator
	spam      *spam.Engine
	limiter   *ratelimit.Limiter
	followups *followup.Scheduler

	mail     MailConnector
	triager  Triager
	drafter  Drafter
	notifier Notifier

	settings Settings
	retry    util.RetryPolicy
	logger   *zap.Logger
	now      func() time.Time
}

func NewEngine(deps Dependencies, settings Settings, logger *zap.Logger) *Engine {
	return &Engine{
		db:        deps.DB,
		emails:    repository.NewEmailRepository(deps.DB),
		senders:   repository.NewSenderRepository(deps.DB),
		digest:    repository.NewDigestRepository(deps.DB),
		machine:   deps.Machine,
		audit:     deps.Audit,
		dedup:     deps.Dedup,
		spam:      deps.Spam,
		limiter:   deps.Limiter,
		followups: deps.FollowUps,
		mail:      deps.Mail,
		triager:   deps.Triager,
		drafter:   deps.Drafter,
		notifier:  deps.Notifier,
		settings:  settings,
		retry: util.RetryPolicy{
			MaxAttempts: settings.Retry.MaxAttempts,
			BaseDelay:   settings.Retry.BaseDelay,
			MaxDelay:    settings.Retry.MaxDelay,
		},
		logger: logger.Named("engine"),
		now:    time.Now,
	}
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) log(ctx context.Context) *zap.Logger {
	return logger.WithTrace(ctx, e.logger)
}

// call runs one collaborator operation under the retry budget. Every
// failed attempt on an email bumps its retry_count and is audited.
func (e *Engine) call(ctx context.Context, op string, emailID int64, fn func(context.Context) error) error {
	attempts, err := util.Retry(ctx, e.retry, func(ctx context.Context) error {
		start := time.Now()
		err := fn(ctx)
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordCollaboratorLatency(op, status, time.Since(start))
		return err
	}, func(attempt int, err error) {
		if emailID == 0 {
			return
		}
		_, aerr := e.machine.Amend(ctx, emailID, lifecycle.Amendment{
			Agent:   agentFor(op),
			Action:  model.ActionRetryAttempt,
			Details: model.Details{"op": op, "attempt": attempt, "error": err.Error()},
			Mutate: func(m *model.Email) error {
				m.RetryCount++
				return nil
			},
		})
		if aerr != nil {
			e.log(ctx).Warn("Failed to record retry attempt",
				zap.Int64("email_id", emailID),
				zap.String("op", op),
				zap.Error(aerr),
			)
		}
	})
	if err != nil {
		return &CollaboratorError{Op: op, Attempts: attempts, Err: err}
	}
	return nil
}

// fail moves an email into error after a collaborator gave up and tells
// the channel. The failure is already audited by the caller.
func (e *Engine) fail(ctx context.Context, id int64, agent string, cause error) {
	em, err := e.machine.Apply(ctx, id, lifecycle.Transition{
		To:     model.StateError,
		Agent:  agent,
		Reason: "collaborator failure",
		Mutate: func(m *model.Email) error {
			m.ErrorMessage = cause.Error()
			return nil
		},
	})
	if err != nil {
		e.log(ctx).Error("Failed to move email to error",
			zap.Int64("email_id", id),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	e.notifyBestEffort(ctx, failureMessage(em, cause))
}

// notifyBestEffort sends once and only logs a failure.
func (e *Engine) notifyBestEffort(ctx context.Context, msg Message) {
	if err := e.notifier.Notify(ctx, e.settings.Channel, msg); err != nil {
		e.log(ctx).Warn("Notification dropped",
			zap.String("kind", msg.Kind),
			zap.Int64("email_id", msg.EmailID),
			zap.Error(err),
		)
	}
}

// notify sends under the retry budget and audits the outcome.
func (e *Engine) notify(ctx context.Context, agent string, msg Message) error {
	err := e.call(ctx, "notify", msg.EmailID, func(ctx context.Context) error {
		return e.notifier.Notify(ctx, e.settings.Channel, msg)
	})
	details := model.Details{"kind": msg.Kind, "channel": e.settings.Channel}
	if err != nil {
		e.audit.Failure(ctx, agent, model.ActionNotify, msg.EmailID, details, err)
		return err
	}
	e.audit.Success(ctx, agent, model.ActionNotify, msg.EmailID, details)
	return nil
}

// moveMail mirrors a disposal in the mailbox. It is audited and never
// changes state.
func (e *Engine) moveMail(ctx context.Context, em *model.Email, target MoveTarget, agent string) {
	err := e.call(ctx, "mail_move", 0, func(ctx context.Context) error {
		return e.mail.Move(ctx, em, target)
	})
	details := model.Details{"target": string(target)}
	if err != nil {
		e.audit.Failure(ctx, agent, model.ActionMailMove, em.ID, details, err)
		return
	}
	e.audit.Success(ctx, agent, model.ActionMailMove, em.ID, details)
}

func agentFor(op string) string {
	switch op {
	case "draft", "summarize":
		return AgentDrafting
	case "triage":
		return AgentTriage
	case "send", "forward":
		return AgentSender
	}
	return AgentScheduler
}
