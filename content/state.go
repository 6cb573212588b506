package content

import "fmt"

// State is a transfer's position in its lifecycle.
type State int

const (
	StateCreated State = iota
	StateInProgress
	StateCharged
	StateCollected
	StateFinalized
	StateAborted
)

var stateNames = map[State]string{
	StateCreated:    "created",
	StateInProgress: "in_progress",
	StateCharged:    "charged",
	StateCollected:  "collected",
	StateFinalized:  "finalized",
	StateAborted:    "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "invalid"
}

// ParseState resolves a state name as used on the wire.
func ParseState(s string) (State, error) {
	for st, name := range stateNames {
		if name == s {
			return st, nil
		}
	}
	return StateCreated, fmt.Errorf("content: unknown state %q", s)
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateAborted
}
