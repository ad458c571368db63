package lifecycle

import (
	"errors"
	"fmt"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

// ErrConcurrentUpdate is returned when the optimistic retry budget runs out
// while other writers keep changing the same email.
var ErrConcurrentUpdate = errors.New("email changed concurrently, giving up")

// ErrTokenExhausted is returned when the issuer keeps minting the token the
// email already holds.
var ErrTokenExhausted = errors.New("token issuer kept repeating the current token")

// StateTransitionError reports an illegal transition request. The record is
// left untouched.
type StateTransitionError struct {
	EmailID int64
	From    model.State
	To      model.State
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("email %d: illegal transition %s -> %s", e.EmailID, e.From, e.To)
}

// IsIllegal reports whether err is a StateTransitionError.
func IsIllegal(err error) bool {
	var ste *StateTransitionError
	return errors.As(err, &ste)
}

// StateMismatchError is returned by Amend when the email is not in one of
// the states the amendment applies to.
type StateMismatchError struct {
	EmailID int64
	State   model.State
	Want    []model.State
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("email %d is %s, want one of %v", e.EmailID, e.State, e.Want)
}
