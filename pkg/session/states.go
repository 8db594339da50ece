package session

import "fmt"

// State is the lifecycle state of one call session.
type State int32

const (
	StateRinging State = iota
	StateActive
	StateClosing
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateRinging:
		return "Ringing"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// transitions lists the legal next states. Closed is terminal: it has no
// entry, so no transition out of it can ever succeed.
var transitions = map[State][]State{
	StateRinging: {StateActive, StateClosing, StateError},
	StateActive:  {StateClosing, StateError},
	StateError:   {StateClosing},
	StateClosing: {StateClosed},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
