package lifecycle

import (
	"fmt"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

// edges is the complete transition table. Every non-terminal state may also
// fall into StateError; those edges are added by buildTable.
var edges = map[model.State][]model.State{
	model.StateNew: {
		model.StateSpamDetected,
		model.StateFYINotified,
		model.StateActionRequired,
		model.StateHeldForMorning,
		model.StateArchived,
	},
	// Human not-spam override.
	model.StateSpamDetected: {
		model.StateActionRequired,
	},
	model.StateFYINotified: {
		model.StateAcknowledged,
		model.StateArchived,
		model.StateActionRequired,
		model.StateSpamDetected,
	},
	model.StateHeldForMorning: {
		model.StateFYINotified,
		model.StateArchived,
		model.StateActionRequired,
		model.StateSpamDetected,
	},
	model.StateActionRequired: {
		model.StateDraftGenerated,
		model.StateForwardSuggested,
		model.StateIgnored,
		model.StateSpamDetected,
		model.StateArchived,
		model.StateHeldForMorning,
	},
	model.StateDraftGenerated: {
		model.StateAwaitingApproval,
		// Auto-send only.
		model.StateApproved,
	},
	model.StateAwaitingApproval: {
		// Edit and rewrite reissue the token in place.
		model.StateAwaitingApproval,
		model.StateApproved,
		model.StateIgnored,
		model.StateSpamDetected,
		model.StateForwardSuggested,
		model.StateArchived,
		model.StateHeldForMorning,
	},
	model.StateApproved: {
		model.StateSent,
	},
	model.StateForwardSuggested: {
		model.StateForwarded,
		model.StateIgnored,
		model.StateArchived,
	},
	model.StateError: {
		model.StateNew,
		model.StateDraftGenerated,
		model.StateArchived,
	},
}

var table = buildTable()

func buildTable() map[model.State]map[model.State]bool {
	t := make(map[model.State]map[model.State]bool, len(edges))
	for _, s := range model.AllStates() {
		t[s] = map[model.State]bool{}
		for _, to := range edges[s] {
			t[s][to] = true
		}
		if !s.Terminal() && s != model.StateError {
			t[s][model.StateError] = true
		}
	}
	if err := validate(t); err != nil {
		panic(err)
	}
	return t
}

// validate checks the table is closed over the declared states and that
// terminal states are exits, apart from the not-spam override.
func validate(t map[model.State]map[model.State]bool) error {
	for from := range edges {
		if !from.Valid() {
			return fmt.Errorf("transition table: unknown source state %d", from)
		}
	}
	for _, s := range model.AllStates() {
		out := t[s]
		for to := range out {
			if !to.Valid() {
				return fmt.Errorf("transition table: %s leads to unknown state %d", s, to)
			}
			if to == s && s != model.StateAwaitingApproval {
				return fmt.Errorf("transition table: unexpected self-loop on %s", s)
			}
		}
		switch {
		case s.Terminal() && s != model.StateSpamDetected && len(out) > 0:
			return fmt.Errorf("transition table: terminal state %s has outgoing edges", s)
		case !s.Terminal() && len(out) == 0:
			return fmt.Errorf("transition table: %s is a dead end", s)
		}
	}
	return nil
}

// Allowed reports whether from -> to is an edge of the table.
func Allowed(from, to model.State) bool {
	return table[from][to]
}

// Targets lists the legal successors of from in declaration order.
func Targets(from model.State) []model.State {
	var out []model.State
	for _, s := range model.AllStates() {
		if table[from][s] {
			out = append(out, s)
		}
	}
	return out
}
