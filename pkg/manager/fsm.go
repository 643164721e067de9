package manager

import (
	"fmt"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// validTransitions enumerates every legal Node lifecycle edge. A
// full reset (any non-terminal state back to NULL) is allowed from
// anywhere and is checked separately in ValidateTransition.
var validTransitions = map[types.FSM][]types.FSM{
	types.FSMNull:       {types.FSMInit},
	types.FSMInit:       {types.FSMConnected},
	types.FSMConnected:  {types.FSMReady},
	types.FSMReady:      {types.FSMPreviewing, types.FSMRecording},
	types.FSMPreviewing: {types.FSMRecording, types.FSMStopped},
	types.FSMRecording:  {types.FSMStopped},
	types.FSMStopped:    {types.FSMSaved},
	types.FSMSaved:      {types.FSMReady, types.FSMShutdown},
	types.FSMShutdown:   {},
}

// ValidateTransition reports whether a Node may move from `from` to
// `to`. A reset transition (to NULL) is always legal except from
// SHUTDOWN, the terminal state.
func ValidateTransition(from, to types.FSM) error {
	if to == types.FSMNull {
		if from == types.FSMShutdown {
			return &types.LifecycleError{From: from, To: to, Cause: fmt.Errorf("cannot reset a shut down node")}
		}
		return nil
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &types.LifecycleError{From: from, To: to, Cause: fmt.Errorf("illegal transition")}
}

// ApplyTransition validates and, if legal, writes to into state.FSM,
// returning the validation error otherwise. nodeID is attached to
// the returned error for traceability.
func ApplyTransition(state *types.NodeState, to types.FSM) error {
	if err := ValidateTransition(state.FSM, to); err != nil {
		if le, ok := err.(*types.LifecycleError); ok {
			le.NodeID = state.ID
		}
		return err
	}
	state.FSM = to
	return nil
}
