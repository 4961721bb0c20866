// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package tracehandler

import (
	"fmt"

	"github.com/fluencelabs/aquavm-sub004/trace"
)

// ValueSource tells which input a merged state was taken from.
type ValueSource uint8

const (
	SourcePrevious ValueSource = iota
	SourceCurrent
)

func (s ValueSource) String() string {
	if s == SourcePrevious {
		return "previous"
	}
	return "current"
}

// MergerCallResult is the merged state for a call. Met is false when
// neither input has a state for it.
type MergerCallResult struct {
	Met       bool
	Result    trace.CallResult
	Source    ValueSource
	Positions DataPositions
}

type MergerApResult struct {
	Met       bool
	State     trace.ApState
	Source    ValueSource
	Positions DataPositions
}

// Generation returns the destination generation of a met ap, if any.
func (r MergerApResult) Generation() (int, bool) {
	if !r.Met || len(r.State.Generations) == 0 {
		return 0, false
	}
	return r.State.Generations[0], true
}

type MergerCanonResult struct {
	Met       bool
	Result    trace.CanonResult
	Source    ValueSource
	Positions DataPositions
}

type MergerParResult struct {
	Prev       trace.ParState
	HasPrev    bool
	Current    trace.ParState
	HasCurrent bool
}

type MergerFoldResult struct {
	Prev       trace.FoldLore
	HasPrev    bool
	Current    trace.FoldLore
	HasCurrent bool
}

// nextStates pulls the next state from both sliders.
func (k *DataKeeper) nextStates() (trace.ExecutedState, trace.ExecutedState, DataPositions) {
	var positions DataPositions
	prev, prevPos, prevOk := k.PrevSlider.NextState()
	if prevOk {
		positions.Prev = At(prevPos)
	}
	current, currentPos, currentOk := k.CurrentSlider.NextState()
	if currentOk {
		positions.Current = At(currentPos)
	}
	return prev, current, positions
}

func checkKind(st trace.ExecutedState, expected trace.StateKind, side string) error {
	if st == nil || st.Kind() == expected {
		return nil
	}
	return &MergeError{
		Kind: IncompatibleStateForInstruction,
		Msg:  fmt.Sprintf("%s trace holds %s where %s was expected", side, st, expected),
	}
}

func nextStatesOfKind(k *DataKeeper, kind trace.StateKind) (trace.ExecutedState, trace.ExecutedState, DataPositions, error) {
	prev, current, positions := k.nextStates()
	if err := checkKind(prev, kind, "previous"); err != nil {
		return nil, nil, positions, err
	}
	if err := checkKind(current, kind, "current"); err != nil {
		return nil, nil, positions, err
	}
	return prev, current, positions, nil
}

// TryMergeNextStateAsCall merges the next states of both traces as call
// states.
func TryMergeNextStateAsCall(k *DataKeeper, currentPeerID string) (MergerCallResult, error) {
	prev, current, positions, err := nextStatesOfKind(k, trace.KindCall)
	if err != nil {
		return MergerCallResult{}, err
	}
	switch {
	case prev == nil && current == nil:
		logger.Debug("no call state in either trace", "prevPos", k.PrevSlider.Position(), "currentPos", k.CurrentSlider.Position())
		return MergerCallResult{}, nil
	case current == nil:
		return MergerCallResult{Met: true, Result: prev.(trace.CallState).Result, Source: SourcePrevious, Positions: positions}, nil
	case prev == nil:
		return MergerCallResult{Met: true, Result: current.(trace.CallState).Result, Source: SourceCurrent, Positions: positions}, nil
	}

	result, source, err := mergeCallResults(prev.(trace.CallState), current.(trace.CallState), currentPeerID)
	if err != nil {
		return MergerCallResult{}, err
	}
	return MergerCallResult{Met: true, Result: result, Source: source, Positions: positions}, nil
}

func mergeCallResults(prevState, currentState trace.CallState, currentPeerID string) (trace.CallResult, ValueSource, error) {
	prev, current := prevState.Result, currentState.Result
	incompatible := func(kind MergeErrorKind) error {
		logger.Debug("call states can't be merged", "kind", kind, "prev", prevState, "current", currentState)
		return &MergeError{Kind: kind, Prev: prevState, Current: currentState}
	}

	switch {
	case prev.Kind == trace.CallExecuted && current.Kind == trace.CallExecuted:
		if prev.Value.Kind != current.Value.Kind || prev.Value.CID != current.Value.CID {
			return trace.CallResult{}, 0, incompatible(ValuesNotEqual)
		}
		return prev, SourcePrevious, nil
	case prev.Kind == trace.CallFailed && current.Kind == trace.CallFailed:
		if prev.Failure.RetCode != current.Failure.RetCode {
			return trace.CallResult{}, 0, incompatible(IncompatibleCallResults)
		}
		return prev, SourcePrevious, nil
	case prev.Kind == trace.CallExecuted && current.Kind == trace.CallFailed,
		prev.Kind == trace.CallFailed && current.Kind == trace.CallExecuted:
		return trace.CallResult{}, 0, incompatible(IncompatibleCallResults)
	case current.Kind == trace.CallRequestSentBy && prev.Kind != trace.CallRequestSentBy:
		return prev, SourcePrevious, nil
	case prev.Kind == trace.CallRequestSentBy && current.Kind != trace.CallRequestSentBy:
		return current, SourceCurrent, nil
	}

	// Both are waiting. Keep the one issued by this peer, it may carry a
	// call id this peer waits on; otherwise pick deterministically.
	var source ValueSource
	switch {
	case prev.Sender.PeerID == currentPeerID:
		source = SourcePrevious
	case current.Sender.PeerID == currentPeerID:
		source = SourceCurrent
	case current.Sender.PeerID < prev.Sender.PeerID:
		source = SourceCurrent
	default:
		source = SourcePrevious
	}
	logger.Debug("both traces wait on a call",
		"prevSender", prev.Sender.PeerID, "currentSender", current.Sender.PeerID, "kept", source)
	if source == SourceCurrent {
		return current, source, nil
	}
	return prev, source, nil
}

// TryMergeNextStateAsAp merges the next states of both traces as ap states.
func TryMergeNextStateAsAp(k *DataKeeper) (MergerApResult, error) {
	prev, current, positions, err := nextStatesOfKind(k, trace.KindAp)
	if err != nil {
		return MergerApResult{}, err
	}
	for _, st := range []trace.ExecutedState{prev, current} {
		if st == nil {
			continue
		}
		if gens := st.(trace.ApState).Generations; len(gens) > 1 {
			return MergerApResult{}, &MergeError{Kind: TooManyDstGenerations, Msg: st.String()}
		}
	}

	switch {
	case prev == nil && current == nil:
		return MergerApResult{}, nil
	case current == nil:
		return MergerApResult{Met: true, State: prev.(trace.ApState), Source: SourcePrevious, Positions: positions}, nil
	case prev == nil:
		return MergerApResult{Met: true, State: current.(trace.ApState), Source: SourceCurrent, Positions: positions}, nil
	}

	prevAp, currentAp := prev.(trace.ApState), current.(trace.ApState)
	if len(prevAp.Generations) == 0 && len(currentAp.Generations) == 1 {
		return MergerApResult{Met: true, State: currentAp, Source: SourceCurrent, Positions: positions}, nil
	}
	return MergerApResult{Met: true, State: prevAp, Source: SourcePrevious, Positions: positions}, nil
}

// TryMergeNextStateAsCanon merges the next states of both traces as canon
// states.
func TryMergeNextStateAsCanon(k *DataKeeper) (MergerCanonResult, error) {
	prev, current, positions, err := nextStatesOfKind(k, trace.KindCanon)
	if err != nil {
		return MergerCanonResult{}, err
	}
	switch {
	case prev == nil && current == nil:
		return MergerCanonResult{}, nil
	case current == nil:
		return MergerCanonResult{Met: true, Result: prev.(trace.CanonState).Result, Source: SourcePrevious, Positions: positions}, nil
	case prev == nil:
		return MergerCanonResult{Met: true, Result: current.(trace.CanonState).Result, Source: SourceCurrent, Positions: positions}, nil
	}

	prevCanon, currentCanon := prev.(trace.CanonState).Result, current.(trace.CanonState).Result
	switch {
	case prevCanon.Kind == trace.CanonExecuted && currentCanon.Kind == trace.CanonExecuted:
		if prevCanon.CID != currentCanon.CID {
			return MergerCanonResult{}, &MergeError{Kind: IncompatibleCanonResults, Prev: prev, Current: current}
		}
		return MergerCanonResult{Met: true, Result: prevCanon, Source: SourcePrevious, Positions: positions}, nil
	case currentCanon.Kind == trace.CanonExecuted:
		return MergerCanonResult{Met: true, Result: currentCanon, Source: SourceCurrent, Positions: positions}, nil
	default:
		return MergerCanonResult{Met: true, Result: prevCanon, Source: SourcePrevious, Positions: positions}, nil
	}
}

// TryMergeNextStateAsPar returns the par headers of both traces.
func TryMergeNextStateAsPar(k *DataKeeper) (MergerParResult, error) {
	prev, current, _, err := nextStatesOfKind(k, trace.KindPar)
	if err != nil {
		return MergerParResult{}, err
	}
	var result MergerParResult
	if prev != nil {
		result.Prev, result.HasPrev = prev.(trace.ParState), true
	}
	if current != nil {
		result.Current, result.HasCurrent = current.(trace.ParState), true
	}
	return result, nil
}

// TryMergeNextStateAsFold returns the fold lores of both traces.
func TryMergeNextStateAsFold(k *DataKeeper) (MergerFoldResult, error) {
	prev, current, _, err := nextStatesOfKind(k, trace.KindFold)
	if err != nil {
		return MergerFoldResult{}, err
	}
	var result MergerFoldResult
	if prev != nil {
		result.Prev, result.HasPrev = prev.(trace.FoldState).Lore, true
		if err := checkLoreUnique(result.Prev); err != nil {
			return MergerFoldResult{}, err
		}
	}
	if current != nil {
		result.Current, result.HasCurrent = current.(trace.FoldState).Lore, true
		if err := checkLoreUnique(result.Current); err != nil {
			return MergerFoldResult{}, err
		}
	}
	return result, nil
}

func checkLoreUnique(lore trace.FoldLore) error {
	seen := make(map[int]struct{}, len(lore))
	for _, l := range lore {
		if _, ok := seen[l.ValuePos]; ok {
			logger.Debug("fold lore repeats a value position", "pos", l.ValuePos)
			return &MergeError{Kind: FoldLoreValuePosNotUnique, Position: l.ValuePos}
		}
		seen[l.ValuePos] = struct{}{}
	}
	return nil
}
