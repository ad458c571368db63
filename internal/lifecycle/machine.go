package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/audit"
	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/repository"
	"github.com/Skycomm/email-ai-manager/pkg/logger"
	"github.com/Skycomm/email-ai-manager/pkg/metrics"
)

const (
	// maxConflicts bounds re-reads after an optimistic conflict.
	maxConflicts = 3
	// maxTokenClashes bounds token regeneration after a uniqueness clash.
	maxTokenClashes = 5
)

const agentStateMachine = "state_machine"

// TokenIssuer mints approval tokens.
type TokenIssuer interface {
	NewToken() (string, error)
}

// Transition is a request to move one email into To.
type Transition struct {
	To model.State
	// From optionally narrows the legal sources below what the table allows.
	From []model.State
	// Agent and Reason end up in the audit entry.
	Agent   string
	Reason  string
	Command string
	Details model.Details
	// IssueToken forces a fresh approval token even if one is outstanding.
	IssueToken bool
	// Mutate edits the copy that will be written. It must not touch State
	// or ApprovalToken; both are owned by the machine.
	Mutate func(e *model.Email) error
}

// Amendment changes fields of an email without moving it.
type Amendment struct {
	Agent   string
	Action  string
	Reason  string
	Command string
	Details model.Details
	// States optionally restricts the states the amendment applies in.
	States []model.State
	Mutate func(e *model.Email) error
}

// Machine is the only writer of email state. Every write is an optimistic
// compare-and-set on the row version; a lost race re-reads and re-checks
// the table before trying again.
type Machine struct {
	db     *sqlx.DB
	emails *repository.EmailRepository
	tokens TokenIssuer
	audit  *audit.Recorder
	logger *zap.Logger
	now    func() time.Time
}

func NewMachine(db *sqlx.DB, tokens TokenIssuer, recorder *audit.Recorder, logger *zap.Logger) *Machine {
	return &Machine{
		db:     db,
		emails: repository.NewEmailRepository(db),
		tokens: tokens,
		audit:  recorder,
		logger: logger.Named("lifecycle"),
		now:    time.Now,
	}
}

// SetClock replaces the time source used for updated_at.
func (m *Machine) SetClock(now func() time.Time) {
	m.now = now
}

// Apply moves email id into t.To. A request for the state the email is
// already in, along an edge the table does not have, is a replay and
// returns the current record unchanged. Any other illegal request returns
// a *StateTransitionError and is audited as a failure.
func (m *Machine) Apply(ctx context.Context, id int64, t Transition) (*model.Email, error) {
	em, _, err := m.Try(ctx, id, t)
	return em, err
}

// Try is Apply that also reports whether this call wrote the transition.
// A replay returns false with a nil error.
func (m *Machine) Try(ctx context.Context, id int64, t Transition) (*model.Email, bool, error) {
	if !t.To.Valid() {
		return nil, false, fmt.Errorf("transition to invalid state %d", t.To)
	}
	log := logger.WithTrace(ctx, m.logger)

	conflicts, clashes := 0, 0
	for {
		cur, err := m.emails.GetByID(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("load email %d: %w", id, err)
		}
		from := cur.State

		if !Allowed(from, t.To) || (len(t.From) > 0 && !slices.Contains(t.From, from)) {
			if from == t.To {
				metrics.RecordTransition(from.String(), t.To.String(), "noop")
				log.Debug("Transition already applied",
					zap.Int64("email_id", id),
					zap.Stringer("state", from),
				)
				return cur, false, nil
			}
			return cur, false, m.reject(ctx, cur, t)
		}

		next := cur.Clone()
		next.UpdatedAt = m.now()
		if t.Mutate != nil {
			if err := t.Mutate(next); err != nil {
				return cur, false, err
			}
		}
		next.State = t.To
		next.ApprovalToken = cur.ApprovalToken
		if err := m.assignToken(cur, next, t.IssueToken); err != nil {
			return cur, false, err
		}

		err = repository.InTx(ctx, m.db, func(tx *sqlx.Tx) error {
			return repository.NewEmailRepository(tx).UpdateGuarded(ctx, next, cur.Version)
		})
		switch {
		case err == nil:
			metrics.RecordTransition(from.String(), t.To.String(), "applied")
			log.Info("Email transitioned",
				zap.Int64("email_id", id),
				zap.Stringer("from", from),
				zap.Stringer("to", t.To),
				zap.String("reason", t.Reason),
			)
			m.audit.Record(ctx, model.AuditEntry{
				Agent:       agentOr(t.Agent),
				Action:      model.ActionTransition,
				EmailID:     &id,
				Details:     details(t.Details, from, t.To, t.Reason),
				UserCommand: t.Command,
				Success:     true,
			})
			return next, true, nil

		case errors.Is(err, repository.ErrConflict):
			metrics.RecordTransition(from.String(), t.To.String(), "conflict")
			conflicts++
			if conflicts >= maxConflicts {
				return cur, false, fmt.Errorf("email %d: %w", id, ErrConcurrentUpdate)
			}
			log.Debug("Optimistic conflict, re-reading email", zap.Int64("email_id", id))

		case errors.Is(err, repository.ErrTokenTaken):
			clashes++
			if clashes >= maxTokenClashes {
				return cur, false, fmt.Errorf("email %d: could not issue a unique approval token: %w", id, err)
			}

		default:
			return cur, false, fmt.Errorf("write email %d: %w", id, err)
		}
	}
}

// Amend applies a field-only change under the same optimistic guard as
// Apply and audits it under a.Action.
func (m *Machine) Amend(ctx context.Context, id int64, a Amendment) (*model.Email, error) {
	for conflicts := 0; ; {
		cur, err := m.emails.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load email %d: %w", id, err)
		}
		if len(a.States) > 0 && !slices.Contains(a.States, cur.State) {
			return cur, &StateMismatchError{EmailID: id, State: cur.State, Want: a.States}
		}

		next := cur.Clone()
		next.UpdatedAt = m.now()
		if a.Mutate != nil {
			if err := a.Mutate(next); err != nil {
				return cur, err
			}
		}
		if next.State != cur.State || next.Token() != cur.Token() {
			return cur, fmt.Errorf("email %d: amendment may not change state or token", id)
		}

		err = repository.InTx(ctx, m.db, func(tx *sqlx.Tx) error {
			return repository.NewEmailRepository(tx).UpdateGuarded(ctx, next, cur.Version)
		})
		switch {
		case err == nil:
			action := a.Action
			if action == "" {
				action = model.ActionEmailUpdated
			}
			d := maps.Clone(a.Details)
			if d == nil {
				d = model.Details{}
			}
			if a.Reason != "" {
				d["reason"] = a.Reason
			}
			d["state"] = cur.State.String()
			m.audit.Record(ctx, model.AuditEntry{
				Agent:       agentOr(a.Agent),
				Action:      action,
				EmailID:     &id,
				Details:     d,
				UserCommand: a.Command,
				Success:     true,
			})
			return next, nil
		case errors.Is(err, repository.ErrConflict):
			conflicts++
			if conflicts >= maxConflicts {
				return cur, fmt.Errorf("email %d: %w", id, ErrConcurrentUpdate)
			}
		default:
			return cur, fmt.Errorf("write email %d: %w", id, err)
		}
	}
}

// assignToken keeps the approval-token invariant: a token exists exactly
// while the email is approval pending, and a reissue never repeats the
// previous token.
func (m *Machine) assignToken(cur, next *model.Email, reissue bool) error {
	if !next.State.ApprovalPending() {
		next.ApprovalToken = nil
		return nil
	}
	if next.ApprovalToken != nil && !reissue {
		return nil
	}
	for range maxTokenClashes {
		tok, err := m.tokens.NewToken()
		if err != nil {
			return err
		}
		if tok != cur.Token() {
			next.ApprovalToken = &tok
			return nil
		}
	}
	return fmt.Errorf("email %d: %w", cur.ID, ErrTokenExhausted)
}

func (m *Machine) reject(ctx context.Context, cur *model.Email, t Transition) error {
	err := &StateTransitionError{EmailID: cur.ID, From: cur.State, To: t.To}
	metrics.RecordTransition(cur.State.String(), t.To.String(), "rejected")
	logger.WithTrace(ctx, m.logger).Warn("Illegal transition rejected",
		zap.Int64("email_id", cur.ID),
		zap.Stringer("from", cur.State),
		zap.Stringer("to", t.To),
		zap.String("reason", t.Reason),
	)
	id := cur.ID
	m.audit.Record(ctx, model.AuditEntry{
		Agent:       agentOr(t.Agent),
		Action:      model.ActionTransitionRejected,
		EmailID:     &id,
		Details:     details(t.Details, cur.State, t.To, t.Reason),
		UserCommand: t.Command,
		Success:     false,
		Error:       err.Error(),
	})
	return err
}

func details(extra model.Details, from, to model.State, reason string) model.Details {
	d := maps.Clone(extra)
	if d == nil {
		d = model.Details{}
	}
	d["from"] = from.String()
	d["to"] = to.String()
	if reason != "" {
		d["reason"] = reason
	}
	return d
}

func agentOr(agent string) string {
	if agent == "" {
		return agentStateMachine
	}
	return agent
}
