package model

import (
	"database/sql/driver"
	"fmt"
)

// State is the lifecycle state of a tracked email.
type State uint8

const (
	StateNew State = iota + 1
	StateSpamDetected
	StateFYINotified
	StateActionRequired
	StateDraftGenerated
	StateAwaitingApproval
	StateApproved
	StateSent
	StateIgnored
	StateForwardSuggested
	StateForwarded
	StateArchived
	StateError
	StateAcknowledged
	StateHeldForMorning
)

var stateNames = map[State]string{
	StateNew:              "new",
	StateSpamDetected:     "spam_detected",
	StateFYINotified:      "fyi_notified",
	StateActionRequired:   "action_required",
	StateDraftGenerated:   "draft_generated",
	StateAwaitingApproval: "awaiting_approval",
	StateApproved:         "approved",
	StateSent:             "sent",
	StateIgnored:          "ignored",
	StateForwardSuggested: "forward_suggested",
	StateForwarded:        "forwarded",
	StateArchived:         "archived",
	StateError:            "error",
	StateAcknowledged:     "acknowledged",
	StateHeldForMorning:   "held_for_morning",
}

var stateByName = func() map[string]State {
	m := make(map[string]State, len(stateNames))
	for s, n := range stateNames {
		m[n] = s
	}
	return m
}()

// AllStates lists every state in declaration order.
func AllStates() []State {
	out := make([]State, 0, len(stateNames))
	for s := StateNew; s <= StateHeldForMorning; s++ {
		out = append(out, s)
	}
	return out
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	switch s {
	case StateSent, StateArchived, StateIgnored, StateSpamDetected, StateForwarded, StateAcknowledged:
		return true
	}
	return false
}

// ApprovalPending reports whether an email in s holds an approval token.
func (s State) ApprovalPending() bool {
	return s == StateDraftGenerated || s == StateAwaitingApproval
}

// ParseState converts a stored state name back into a State.
func ParseState(name string) (State, error) {
	if s, ok := stateByName[name]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("unknown email state %q", name)
}

// NonTerminalStates returns the states follow-ups and retries may act on.
func NonTerminalStates() []State {
	var out []State
	for _, s := range AllStates() {
		if !s.Terminal() {
			out = append(out, s)
		}
	}
	return out
}

func (s State) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid email state %d", uint8(s))
	}
	return s.String(), nil
}

func (s *State) Scan(src any) error {
	var name string
	switch v := src.(type) {
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return fmt.Errorf("cannot scan %T into State", src)
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
