// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package tracehandler

import (
	"fmt"

	"github.com/fluencelabs/aquavm-sub004/trace"
)

// KeeperError reports an inconsistent window or position request.
type KeeperError struct {
	Msg string
}

func (e *KeeperError) Error() string { return "trace keeper: " + e.Msg }

// MergeErrorKind classifies merge failures.
type MergeErrorKind uint8

const (
	// IncompatibleExecutedStates means the two traces hold different kinds
	// of states at the same position.
	IncompatibleExecutedStates MergeErrorKind = iota
	IncompatibleCallResults
	ValuesNotEqual
	IncompatibleCanonResults
	TooManyDstGenerations
	IncompatibleStateForInstruction
	FoldLoreValuePosNotUnique
)

// MergeError is returned when the previous and current states of an
// instruction can't be reconciled.
type MergeError struct {
	Kind     MergeErrorKind
	Prev     trace.ExecutedState
	Current  trace.ExecutedState
	Msg      string
	Position int
}

func (e *MergeError) Error() string {
	switch e.Kind {
	case IncompatibleExecutedStates:
		return fmt.Sprintf("incompatible executed states %s and %s", e.Prev, e.Current)
	case IncompatibleCallResults:
		return fmt.Sprintf("incompatible call results %s and %s", e.Prev, e.Current)
	case ValuesNotEqual:
		return fmt.Sprintf("executed values are not equal: %s and %s", e.Prev, e.Current)
	case IncompatibleCanonResults:
		return fmt.Sprintf("incompatible canon results %s and %s", e.Prev, e.Current)
	case TooManyDstGenerations:
		return "ap state has more than one destination generation: " + e.Msg
	case IncompatibleStateForInstruction:
		return e.Msg
	default:
		return fmt.Sprintf("fold lore has duplicate value position %d", e.Position)
	}
}

// StateFSMError reports a par or fold header that doesn't fit its window, or
// an FSM used out of order.
type StateFSMError struct {
	Msg string
}

func (e *StateFSMError) Error() string { return "state machine: " + e.Msg }
