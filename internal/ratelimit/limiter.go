package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Skycomm/email-ai-manager/internal/repository"
)

// Window is the trailing period the budget applies to.
const Window = time.Hour

// Lease is how long a reservation blocks other senders of the same email.
// A reservation older than this belongs to a sender that died mid-send.
const Lease = 10 * time.Minute

// ErrInFlight is returned when another sender holds a live reservation for
// the same email.
var ErrInFlight = errors.New("send already in flight")

// AlreadySentError is returned when the email's slot is already confirmed.
type AlreadySentError struct {
	EmailID int64
	SentAt  time.Time
}

func (e *AlreadySentError) Error() string {
	return fmt.Sprintf("email %d already sent at %s", e.EmailID, e.SentAt.Format(time.RFC3339))
}

// Reservation is a claimed send slot.
type Reservation struct {
	ID      int64
	EmailID int64
}

// Limiter enforces max sends per trailing hour. The count lives in the
// send_log table so every process shares one budget; a slot is reserved
// before the send and confirmed or released after it.
type Limiter struct {
	db  *sqlx.DB
	max int
}

// New returns a limiter allowing maxPerHour sends. Zero allows none.
func New(db *sqlx.DB, maxPerHour int) *Limiter {
	return &Limiter{db: db, max: maxPerHour}
}

func (l *Limiter) Max() int {
	return l.max
}

// AllowSend reports whether a send at now would fit the budget. It claims
// nothing; use Reserve before actually sending.
func (l *Limiter) AllowSend(ctx context.Context, now time.Time) (bool, error) {
	n, err := repository.NewSendLogRepository(l.db).CountSince(ctx, now.Add(-Window))
	if err != nil {
		return false, err
	}
	return n < l.max, nil
}

// Reserve claims a slot for emailID if the window has room. The count and
// the claim happen under one lock so a burst cannot overshoot. An email
// holds at most one slot: a live reservation yields ErrInFlight, a confirmed
// one an *AlreadySentError, and an expired reservation is taken over.
func (l *Limiter) Reserve(ctx context.Context, emailID int64, now time.Time) (*Reservation, bool, error) {
	var res *Reservation
	err := repository.InTx(ctx, l.db, func(tx *sqlx.Tx) error {
		log := repository.NewSendLogRepository(tx)
		if err := log.LockWindow(ctx); err != nil {
			return err
		}
		held, err := log.ForEmail(ctx, emailID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return err
		case held.Status == repository.SendSent:
			at := held.ReservedAt
			if held.SentAt != nil {
				at = *held.SentAt
			}
			return &AlreadySentError{EmailID: emailID, SentAt: at}
		case now.Sub(held.ReservedAt) < Lease:
			return ErrInFlight
		default:
			if err := log.Release(ctx, held.ID); err != nil {
				return err
			}
		}

		n, err := log.CountSince(ctx, now.Add(-Window))
		if err != nil {
			return err
		}
		if n >= l.max {
			return nil
		}
		id, err := log.Reserve(ctx, emailID, now)
		if errors.Is(err, repository.ErrDuplicate) {
			return ErrInFlight
		}
		if err != nil {
			return err
		}
		res = &Reservation{ID: id, EmailID: emailID}
		return nil
	})
	var sent *AlreadySentError
	switch {
	case errors.Is(err, ErrInFlight), errors.As(err, &sent):
		return nil, false, err
	case err != nil:
		return nil, false, fmt.Errorf("reserve send slot: %w", err)
	}
	return res, res != nil, nil
}

// Confirm records the send time of a reserved slot.
func (l *Limiter) Confirm(ctx context.Context, r *Reservation, sentAt time.Time) error {
	return repository.NewSendLogRepository(l.db).Confirm(ctx, r.ID, sentAt)
}

// Release returns a slot whose send did not happen.
func (l *Limiter) Release(ctx context.Context, r *Reservation) error {
	return repository.NewSendLogRepository(l.db).Release(ctx, r.ID)
}

// NextSlot returns when the oldest counted send leaves the window, or now
// if there is room already.
func (l *Limiter) NextSlot(ctx context.Context, now time.Time) (time.Time, error) {
	ok, err := l.AllowSend(ctx, now)
	if err != nil || ok {
		return now, err
	}
	oldest, err := repository.NewSendLogRepository(l.db).Oldest(ctx, now.Add(-Window))
	if err != nil || oldest == nil {
		return now, err
	}
	return oldest.Add(Window), nil
}
