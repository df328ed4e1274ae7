package orchestrator

import (
	"errors"
	"fmt"
	"slices"
)

// ErrIllegalTransition is returned when a handler picks a successor the
// transition table does not allow
var ErrIllegalTransition = errors.New("illegal state transition")

// State is one step of the healing loop
type State int

const (
	StateClone State = iota
	StateTest
	StateAnalyze
	StateFix
	StateCommit
	StateFinalize
	StateDone
)

var stateNames = map[State]string{
	StateClone:    "CLONE",
	StateTest:     "TEST",
	StateAnalyze:  "ANALYZE",
	StateFix:      "FIX",
	StateCommit:   "COMMIT",
	StateFinalize: "FINALIZE",
	StateDone:     "DONE",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// transitions lists the allowed successors of every state
var transitions = map[State][]State{
	StateClone:    {StateTest, StateFinalize},
	StateTest:     {StateAnalyze, StateFinalize},
	StateAnalyze:  {StateFix, StateFinalize},
	StateFix:      {StateCommit, StateFinalize},
	StateCommit:   {StateTest, StateFinalize},
	StateFinalize: {StateDone},
}

func checkTransition(from, to State) error {
	if slices.Contains(transitions[from], to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
