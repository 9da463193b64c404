package joiner

import "fmt"

// State is a controller state.
type State uint8

const (
	StateSearching State = iota
	StateBacktrack
	StateJoining
	StateDraining
	StateOverflowed
	StateDone
)

var stateNames = map[State]string{
	StateSearching:  "Searching",
	StateBacktrack:  "Backtrack",
	StateJoining:    "Joining",
	StateDraining:   "Draining",
	StateOverflowed: "Overflowed",
	StateDone:       "Done",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", s)
}

var transitions = map[State][]State{
	StateSearching:  {StateBacktrack, StateJoining, StateDraining, StateOverflowed},
	StateDraining:   {StateSearching, StateBacktrack, StateOverflowed},
	StateOverflowed: {StateJoining, StateBacktrack},
	StateJoining:    {StateSearching, StateBacktrack},
	StateBacktrack:  {StateSearching, StateOverflowed, StateDone},
	StateDone:       nil,
}

// CanTransition reports whether the controller may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return len(transitions[s]) == 0 }
