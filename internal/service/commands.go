package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/approval"
	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/repository"
	"github.com/Skycomm/email-ai-manager/pkg/metrics"
)

// CommandResult is what a chat command did, echoed back to the channel.
type CommandResult struct {
	Kind     string      `json:"kind"`
	EmailID  int64       `json:"email_id,omitempty"`
	State    model.State `json:"state,omitempty"`
	Reply    string      `json:"reply"`
	Deferred bool        `json:"deferred,omitempty"`
}

// HandleReply processes one inbound chat reply. Replays of an event id are
// dropped through the dedup ledger. Command errors the user can act on are
// echoed to the channel and not returned. Any other failure releases the
// event id again so a redelivery runs the command instead of being dropped.
func (e *Engine) HandleReply(ctx context.Context, ev ReplyEvent) (*CommandResult, error) {
	scope := "chat:" + ev.Channel
	if ev.EventID != "" {
		ok, err := e.dedup.Admit(ctx, ev.EventID, scope)
		if err != nil {
			return nil, err
		}
		if !ok {
			e.duplicate(ctx, model.RawMessage{MessageID: ev.EventID, Mailbox: scope})
			return nil, ErrDuplicateMessage
		}
	}

	res, err := e.SubmitCommand(ctx, ev.Channel, ev.User, ev.Text)
	if res != nil {
		if nerr := e.notifier.Notify(ctx, ev.Channel, commandResultMessage(res)); nerr != nil {
			e.log(ctx).Warn("Failed to echo command result", zap.String("channel", ev.Channel), zap.Error(nerr))
		}
	}
	if err != nil && IsUserError(err) {
		return res, nil
	}
	if err != nil && ev.EventID != "" {
		if ferr := e.dedup.Forget(context.WithoutCancel(ctx), ev.EventID, scope); ferr != nil {
			e.log(ctx).Error("Failed to release chat event",
				zap.String("event_id", ev.EventID),
				zap.Error(ferr),
			)
		}
	}
	return res, err
}

// SubmitCommand parses text as a chat command from user on channel, binds
// it to exactly one email and applies it. Digest commands act on the
// delivered spam digest instead of one email.
func (e *Engine) SubmitCommand(ctx context.Context, channel, user, text string) (*CommandResult, error) {
	cmd, err := approval.Parse(text)
	if err == nil && cmd.Kind == approval.KindUnknown {
		err = ErrUnrecognizedCommand
	}
	if err != nil {
		return e.rejectCommand(ctx, channel, user, cmd, 0, err)
	}

	if cmd.Kind.Digest() {
		res, err := e.digestCommand(ctx, cmd)
		return e.recordCommand(ctx, channel, user, cmd, 0, res, err)
	}

	em, err := e.resolve(ctx, channel, cmd)
	if err != nil {
		return e.rejectCommand(ctx, channel, user, cmd, 0, err)
	}

	res, err := e.dispatch(ctx, em, cmd)
	if res == nil {
		res = &CommandResult{Kind: cmd.Kind.String(), EmailID: em.ID, State: em.State}
	}
	return e.recordCommand(ctx, channel, user, cmd, em.ID, res, err)
}

// recordCommand audits and logs the outcome of an applied command.
func (e *Engine) recordCommand(ctx context.Context, channel, user string, cmd approval.Command, emailID int64, res *CommandResult, err error) (*CommandResult, error) {
	entry := model.AuditEntry{
		Agent:       AgentApproval,
		Action:      model.ActionCommand,
		Details:     model.Details{"kind": cmd.Kind.String(), "channel": channel, "user": user},
		UserCommand: cmd.Raw,
		Success:     err == nil,
	}
	if emailID != 0 {
		entry.EmailID = &emailID
	}
	if err != nil {
		metrics.IncrementCommand(cmd.Kind.String(), "failed")
		entry.Error = err.Error()
		e.audit.Record(ctx, entry)
		res.Reply = fmt.Sprintf("%s failed: %v", cmd.Kind, err)
		return res, err
	}

	metrics.IncrementCommand(cmd.Kind.String(), "ok")
	e.audit.Record(ctx, entry)
	e.log(ctx).Info("Command applied",
		zap.String("kind", cmd.Kind.String()),
		zap.Int64("email_id", emailID),
		zap.Stringer("state", res.State),
	)
	return res, nil
}

// resolve binds cmd to one email: by token or id when given, else the
// single email awaiting approval on channel.
func (e *Engine) resolve(ctx context.Context, channel string, cmd approval.Command) (*model.Email, error) {
	if cmd.EmailID != 0 {
		em, err := e.emails.GetByID(ctx, cmd.EmailID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &approval.AmbiguousCommandError{EmailID: cmd.EmailID}
		}
		return em, err
	}
	if cmd.Token != "" {
		em, err := e.emails.FindByToken(ctx, cmd.Token)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &approval.AmbiguousCommandError{Token: cmd.Token}
		}
		return em, err
	}
	awaiting, err := e.emails.ListAwaiting(ctx, channel)
	if err != nil {
		return nil, err
	}
	if len(awaiting) != 1 {
		return nil, &approval.AmbiguousCommandError{Matches: len(awaiting)}
	}
	return awaiting[0], nil
}

func (e *Engine) dispatch(ctx context.Context, em *model.Email, cmd approval.Command) (*CommandResult, error) {
	res := &CommandResult{Kind: cmd.Kind.String(), EmailID: em.ID}
	var out *model.Email
	var err error

	switch cmd.Kind {
	case approval.KindApprove:
		out, err = e.approve(ctx, em.ID, cmd.Raw)
		switch {
		case errors.Is(err, ErrRateLimited):
			err = nil
			res.Deferred = true
			res.Reply = "Approved. The hourly send limit is reached; the reply goes out in the next window."
		case errors.Is(err, ErrSendInFlight):
			err = nil
			res.Reply = "Approved. The reply is already being sent."
		case err == nil:
			res.Reply = fmt.Sprintf("Sent reply to %s.", em.Sender)
		}
	case approval.KindEdit, approval.KindRewrite:
		out, err = e.redraft(ctx, em, cmd.Instructions, cmd.Raw)
		if err == nil {
			res.Reply = fmt.Sprintf("New draft sent for approval with token %s.", out.Token())
		}
	case approval.KindIgnore:
		out, err = e.machine.Apply(ctx, em.ID, lifecycle.Transition{
			To: model.StateIgnored, Agent: AgentApproval, Reason: "ignored by user", Command: cmd.Raw,
		})
		res.Reply = "Ignored."
	case approval.KindMore:
		out = em
		res.Reply = moreText(em)
	case approval.KindSpam:
		out, err = e.markSpam(ctx, em.ID, AgentApproval, cmd.Raw)
		res.Reply = "Marked as spam."
	case approval.KindDone:
		out, err = e.machine.Apply(ctx, em.ID, lifecycle.Transition{
			To: model.StateArchived, Agent: AgentApproval, Reason: "done", Command: cmd.Raw,
		})
		res.Reply = "Archived."
	case approval.KindForward:
		out, err = e.forward(ctx, em.ID, cmd.Address, AgentApproval, cmd.Raw)
		res.Reply = fmt.Sprintf("Forwarded to %s.", cmd.Address)
	case approval.KindDelete:
		out, err = e.deleteEmail(ctx, em, cmd.Raw)
		res.Reply = "Deleted."
	case approval.KindKeep:
		if em.State != model.StateSpamDetected {
			return nil, &lifecycle.StateMismatchError{EmailID: em.ID, State: em.State, Want: []model.State{model.StateSpamDetected}}
		}
		out, err = e.markNotSpam(ctx, em.ID, AgentApproval, cmd.Raw)
		if err == nil {
			res.Reply = fmt.Sprintf("Kept #%d.", em.ID)
			if tok := out.Token(); tok != "" {
				res.Reply += fmt.Sprintf(" Draft sent for approval with token %s.", tok)
			}
		}
	default:
		return nil, ErrUnrecognizedCommand
	}

	if out != nil {
		res.State = out.State
	}
	return res, err
}

// deleteEmail moves em to the mailbox trash and then closes it as ignored.
// Nothing changes unless the move succeeds. Spam keeps its state and only
// leaves the digest.
func (e *Engine) deleteEmail(ctx context.Context, em *model.Email, raw string) (*model.Email, error) {
	isSpam := em.State == model.StateSpamDetected
	if !isSpam && !lifecycle.Allowed(em.State, model.StateIgnored) {
		return em, &lifecycle.StateTransitionError{EmailID: em.ID, From: em.State, To: model.StateIgnored}
	}

	details := model.Details{"target": string(MoveTrash)}
	err := e.call(ctx, "mail_move", 0, func(ctx context.Context) error {
		return e.mail.Move(ctx, em, MoveTrash)
	})
	if err != nil {
		e.audit.Failure(ctx, AgentApproval, model.ActionMailMove, em.ID, details, err)
		return em, err
	}
	e.audit.Success(ctx, AgentApproval, model.ActionMailMove, em.ID, details)

	if isSpam {
		e.resolveDigest(ctx, model.DigestDeleted, em.ID)
		return em, nil
	}
	return e.machine.Apply(ctx, em.ID, lifecycle.Transition{
		To:      model.StateIgnored,
		Agent:   AgentApproval,
		Reason:  "deleted by user",
		Command: raw,
		Details: model.Details{"deleted": true},
	})
}

// digestCommand answers review and dismiss_all from the delivered entries
// nobody has acted on.
func (e *Engine) digestCommand(ctx context.Context, cmd approval.Command) (*CommandResult, error) {
	res := &CommandResult{Kind: cmd.Kind.String()}
	entries, err := e.digest.Unresolved(ctx, maxDigestReview)
	if err != nil {
		return res, err
	}
	if cmd.Kind == approval.KindReview {
		res.Reply = reviewText(entries)
		return res, nil
	}
	if len(entries) == 0 {
		res.Reply = "No spam awaiting review."
		return res, nil
	}

	ids := make([]int64, 0, len(entries))
	for _, d := range entries {
		em, err := e.emails.GetByID(ctx, d.EmailID)
		if err != nil {
			return res, err
		}
		if em.State == model.StateSpamDetected {
			e.moveMail(ctx, em, MoveTrash, AgentApproval)
		}
		ids = append(ids, d.EmailID)
	}
	n, err := e.digest.Resolve(ctx, ids, model.DigestDismissed, e.now())
	if err != nil {
		return res, err
	}
	res.Reply = fmt.Sprintf("Dismissed %d spam email(s).", n)
	return res, nil
}

func (e *Engine) approve(ctx context.Context, id int64, raw string) (*model.Email, error) {
	_, err := e.machine.Apply(ctx, id, lifecycle.Transition{
		To:      model.StateApproved,
		From:    []model.State{model.StateAwaitingApproval, model.StateDraftGenerated},
		Agent:   AgentApproval,
		Reason:  "approved by user",
		Command: raw,
	})
	if err != nil {
		return nil, err
	}
	return e.SendApproved(ctx, id)
}

// redraft revises the draft of an awaiting email. The new version gets a
// fresh token, so the previous token stops matching.
func (e *Engine) redraft(ctx context.Context, em *model.Email, instructions, raw string) (*model.Email, error) {
	if em.State != model.StateAwaitingApproval {
		return e.machine.Apply(ctx, em.ID, lifecycle.Transition{
			To:      model.StateAwaitingApproval,
			From:    []model.State{model.StateAwaitingApproval},
			Agent:   AgentApproval,
			Command: raw,
		})
	}

	dr, err := e.generate(ctx, em, instructions)
	if err != nil {
		e.fail(ctx, em.ID, AgentDrafting, err)
		return nil, err
	}
	out, err := e.machine.Apply(ctx, em.ID, lifecycle.Transition{
		To:         model.StateAwaitingApproval,
		From:       []model.State{model.StateAwaitingApproval},
		Agent:      AgentApproval,
		Reason:     "draft revised",
		Command:    raw,
		IssueToken: true,
		Mutate: func(m *model.Email) error {
			m.AppendDraft(dr.Body, instructions, dr.Confidence, e.now())
			return nil
		},
	})
	if err != nil {
		return out, err
	}
	e.audit.Success(ctx, AgentDrafting, model.ActionDraftGenerated, em.ID, model.Details{
		"version":      out.DraftCount,
		"confidence":   dr.Confidence,
		"instructions": instructions,
	})
	return e.requestApproval(ctx, out, AgentApproval)
}

// Forward sends email id to addr on the operator's behalf.
func (e *Engine) Forward(ctx context.Context, id int64, addr string) (*model.Email, error) {
	to, err := approval.ValidAddress(addr)
	if err != nil {
		return nil, &approval.MalformedCommandError{Kind: approval.KindForward, Reason: err.Error()}
	}
	return e.forward(ctx, id, to, AgentOperator, "")
}

func (e *Engine) forward(ctx context.Context, id int64, to, agent, raw string) (*model.Email, error) {
	em, err := e.machine.Apply(ctx, id, lifecycle.Transition{
		To:      model.StateForwardSuggested,
		Agent:   agent,
		Reason:  "forward requested",
		Command: raw,
		Details: model.Details{"to": to},
	})
	if err != nil {
		return em, err
	}

	err = e.call(ctx, "forward", id, func(ctx context.Context) error {
		return e.mail.Forward(ctx, em, to)
	})
	if err != nil {
		e.audit.Failure(ctx, agent, model.ActionForward, id, model.Details{"to": to}, err)
		e.fail(ctx, id, agent, err)
		return nil, err
	}
	e.audit.Success(ctx, agent, model.ActionForward, id, model.Details{"to": to})

	return e.machine.Apply(ctx, id, lifecycle.Transition{
		To:      model.StateForwarded,
		From:    []model.State{model.StateForwardSuggested},
		Agent:   agent,
		Reason:  "forwarded",
		Command: raw,
		Details: model.Details{"to": to},
	})
}

// Ignore closes an email without replying.
func (e *Engine) Ignore(ctx context.Context, id int64) (*model.Email, error) {
	return e.machine.Apply(ctx, id, lifecycle.Transition{
		To:     model.StateIgnored,
		Agent:  AgentOperator,
		Reason: "ignored by operator",
	})
}

func (e *Engine) rejectCommand(ctx context.Context, channel, user string, cmd approval.Command, emailID int64, err error) (*CommandResult, error) {
	metrics.IncrementCommand(cmd.Kind.String(), "rejected")
	entry := model.AuditEntry{
		Agent:       AgentApproval,
		Action:      model.ActionCommandRejected,
		Details:     model.Details{"kind": cmd.Kind.String(), "channel": channel, "user": user},
		UserCommand: cmd.Raw,
		Error:       err.Error(),
	}
	if emailID != 0 {
		entry.EmailID = &emailID
	}
	e.audit.Record(ctx, entry)
	e.log(ctx).Info("Command rejected",
		zap.String("channel", channel),
		zap.String("kind", cmd.Kind.String()),
		zap.Error(err),
	)
	return &CommandResult{Kind: cmd.Kind.String(), EmailID: emailID, Reply: err.Error()}, err
}

// IsUserError reports errors that are answered to the requester rather
// than treated as failures.
func IsUserError(err error) bool {
	var amb *approval.AmbiguousCommandError
	var mal *approval.MalformedCommandError
	var mis *lifecycle.StateMismatchError
	return errors.As(err, &amb) ||
		errors.As(err, &mal) ||
		errors.As(err, &mis) ||
		errors.Is(err, ErrUnrecognizedCommand) ||
		lifecycle.IsIllegal(err)
}
