package service

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateMessage is the expected outcome for an already admitted
	// message; callers skip it.
	ErrDuplicateMessage = errors.New("message already processed")
	// ErrRateLimited defers a send to the next window. The email stays
	// approved.
	ErrRateLimited = errors.New("hourly send budget exhausted")
	// ErrSendInFlight means another caller holds the email's send slot.
	ErrSendInFlight = errors.New("send already in progress")
	// ErrUnrecognizedCommand is reported back for text matching no command.
	ErrUnrecognizedCommand = errors.New("unrecognized command")
	ErrNoDraft             = errors.New("email has no draft")
)

// CollaboratorError is an external call that failed past its retry budget.
type CollaboratorError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
