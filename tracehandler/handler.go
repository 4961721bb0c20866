// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package tracehandler merges the previous and current traces while an AIR
// script executes and builds the result trace.
package tracehandler

import (
	"fmt"

	log "github.com/inconshreveable/log15"

	"github.com/fluencelabs/aquavm-sub004/trace"
)

var logger = log.New("module", "tracehandler")

// TraceHandler is the entry point used by instructions. Every
// state-producing instruction calls the matching Meet*Start to learn what
// the inputs recorded for it and Meet*End to write its result state.
type TraceHandler struct {
	keeper        *DataKeeper
	currentPeerID string

	parStack []*ParFSM
	folds    map[uint32]*FoldFSM
}

func NewTraceHandler(prev, current trace.Trace, currentPeerID string) *TraceHandler {
	return &TraceHandler{
		keeper:        NewDataKeeper(prev, current),
		currentPeerID: currentPeerID,
		folds:         map[uint32]*FoldFSM{},
	}
}

// TraceLen is the length of the result trace, which is also the position
// the next written state will take.
func (h *TraceHandler) TraceLen() int { return h.keeper.ResultLen() }

// ResultTrace returns the result trace built so far.
func (h *TraceHandler) ResultTrace() trace.Trace { return h.keeper.ResultTrace() }

// OldPositions returns the input positions the result state at [pos] was
// merged from.
func (h *TraceHandler) OldPositions(pos int) (DataPositions, bool) {
	return h.keeper.OldPositions(pos)
}

func (h *TraceHandler) MeetCallStart() (MergerCallResult, error) {
	return TryMergeNextStateAsCall(h.keeper, h.currentPeerID)
}

// MeetCallEnd writes the call state. [positions] are those returned by
// MeetCallStart.
func (h *TraceHandler) MeetCallEnd(result trace.CallResult, positions DataPositions) {
	h.keeper.AppendState(trace.Call(result), positions)
}

func (h *TraceHandler) MeetApStart() (MergerApResult, error) {
	return TryMergeNextStateAsAp(h.keeper)
}

func (h *TraceHandler) MeetApEnd(state trace.ApState, positions DataPositions) {
	h.keeper.AppendState(state, positions)
}

func (h *TraceHandler) MeetCanonStart() (MergerCanonResult, error) {
	return TryMergeNextStateAsCanon(h.keeper)
}

func (h *TraceHandler) MeetCanonEnd(result trace.CanonResult, positions DataPositions) {
	h.keeper.AppendState(trace.CanonState{Result: result}, positions)
}

func (h *TraceHandler) MeetParStart() error {
	merged, err := TryMergeNextStateAsPar(h.keeper)
	if err != nil {
		return err
	}
	fsm, err := newParFSM(merged, h.keeper)
	if err != nil {
		return err
	}
	h.parStack = append(h.parStack, fsm)
	return nil
}

func (h *TraceHandler) MeetParSubgraphEnd(subgraph SubgraphType) error {
	if len(h.parStack) == 0 {
		return &StateFSMError{Msg: "par subgraph ended without a par"}
	}
	fsm := h.parStack[len(h.parStack)-1]
	if subgraph == LeftSubgraph {
		return fsm.leftCompleted(h.keeper)
	}
	h.parStack = h.parStack[:len(h.parStack)-1]
	return fsm.rightCompleted(h.keeper)
}

// ParEndWithError closes the innermost par after an uncatchable error so
// that the partial result trace stays well formed.
func (h *TraceHandler) ParEndWithError() {
	if len(h.parStack) == 0 {
		return
	}
	fsm := h.parStack[len(h.parStack)-1]
	h.parStack = h.parStack[:len(h.parStack)-1]
	fsm.endWithError(h.keeper)
}

func (h *TraceHandler) MeetFoldStart(foldID uint32, kind FoldKind) error {
	if _, ok := h.folds[foldID]; ok {
		return &StateFSMError{Msg: fmt.Sprintf("fold %d started twice", foldID)}
	}
	merged, err := TryMergeNextStateAsFold(h.keeper)
	if err != nil {
		return err
	}
	fsm, err := newFoldFSM(kind, merged, h.keeper)
	if err != nil {
		return err
	}
	h.folds[foldID] = fsm
	return nil
}

func (h *TraceHandler) fold(foldID uint32) (*FoldFSM, error) {
	fsm, ok := h.folds[foldID]
	if !ok {
		return nil, &StateFSMError{Msg: fmt.Sprintf("fold %d is not started", foldID)}
	}
	return fsm, nil
}

func (h *TraceHandler) MeetIterationStart(foldID uint32, valuePos int) error {
	fsm, err := h.fold(foldID)
	if err != nil {
		return err
	}
	return fsm.meetIterationStart(valuePos, h.keeper)
}

func (h *TraceHandler) MeetIterationEnd(foldID uint32, iteration int) error {
	fsm, err := h.fold(foldID)
	if err != nil {
		return err
	}
	return fsm.meetIterationEnd(iteration, h.keeper)
}

func (h *TraceHandler) MeetBackIterator(foldID uint32, iteration int) error {
	fsm, err := h.fold(foldID)
	if err != nil {
		return err
	}
	return fsm.meetBackIterator(iteration, h.keeper)
}

func (h *TraceHandler) MeetGenerationEnd(foldID uint32) error {
	fsm, err := h.fold(foldID)
	if err != nil {
		return err
	}
	fsm.meetGenerationEnd(h.keeper)
	return nil
}

func (h *TraceHandler) MeetFoldEnd(foldID uint32) error {
	fsm, err := h.fold(foldID)
	if err != nil {
		return err
	}
	delete(h.folds, foldID)
	return fsm.meetFoldEnd(h.keeper)
}

// FoldEndWithError closes a fold after an error.
func (h *TraceHandler) FoldEndWithError(foldID uint32) {
	fsm, ok := h.folds[foldID]
	if !ok {
		return
	}
	delete(h.folds, foldID)
	fsm.endWithError(h.keeper)
}

// UpdateGeneration rewrites the stream generation recorded by the call or
// ap state at [pos]. It is used when streams are compacted.
func (h *TraceHandler) UpdateGeneration(pos, generation int) error {
	st, err := h.keeper.StateAt(pos)
	if err != nil {
		return err
	}
	switch s := st.(type) {
	case trace.CallState:
		if s.Result.Kind != trace.CallExecuted || s.Result.Value.Kind != trace.StreamValue {
			return &KeeperError{Msg: fmt.Sprintf("state %s at %d doesn't hold a stream value", s, pos)}
		}
		s.Result.Value.Generation = generation
		return h.keeper.UpdateState(pos, s)
	case trace.ApState:
		return h.keeper.UpdateState(pos, trace.ApState{Generations: []int{generation}})
	default:
		return &KeeperError{Msg: fmt.Sprintf("state %s at %d can't hold a stream generation", st, pos)}
	}
}
