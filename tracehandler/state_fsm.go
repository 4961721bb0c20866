// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package tracehandler

import (
	"fmt"

	"github.com/fluencelabs/aquavm-sub004/trace"
)

// stateInserter reserves a slot in the result trace for a header whose
// content is known only once its subtraces are done.
type stateInserter struct {
	position int
}

func newStateInserter(k *DataKeeper, placeholder trace.ExecutedState) stateInserter {
	pos := k.ResultLen()
	k.AppendState(placeholder, DataPositions{})
	return stateInserter{position: pos}
}

func (s stateInserter) insert(k *DataKeeper, st trace.ExecutedState) error {
	return k.UpdateState(s.position, st)
}

// subtraceSize is the number of result states written after the header.
func (s stateInserter) subtraceSize(k *DataKeeper) int {
	return k.ResultLen() - s.position - 1
}

type window struct {
	pos    int
	length int
}

// ctxStateHandler remembers the windows the sliders must return to once a
// par or fold is done: everything after the header's subtraces.
//
// Inside a fold iteration the subtraces of a par may run past the window of
// the iteration: `next` in a par branch continues with the next iteration,
// whose states follow in the trace. Such a par is not an error until it
// ends without a fold lore having taken over the sliders.
type ctxStateHandler struct {
	prev    window
	current window
	// overflow describes subtraces longer than the enclosing window.
	overflow string
	epoch    int
}

func newCtxStateHandler(k *DataKeeper, prevTotal, currentTotal int) ctxStateHandler {
	h := ctxStateHandler{epoch: k.loreEpoch}
	var prevOk, currentOk bool
	h.prev, prevOk = windowAfter(k.PrevSlider, prevTotal)
	h.current, currentOk = windowAfter(k.CurrentSlider, currentTotal)
	switch {
	case !prevOk:
		h.overflow = overflowMsg("previous", prevTotal, k.PrevSlider.RemainingLen())
	case !currentOk:
		h.overflow = overflowMsg("current", currentTotal, k.CurrentSlider.RemainingLen())
	}
	return h
}

func overflowMsg(side string, total, remaining int) string {
	return fmt.Sprintf("%s trace: subtraces of length %d overflow the %d remaining states", side, total, remaining)
}

// windowAfter returns the window following [total] states of [s]. It
// reports false and an empty window at the end of [s] when they don't fit.
func windowAfter(s *TraceSlider, total int) (window, bool) {
	remaining := s.RemainingLen()
	if total > remaining {
		return window{pos: s.Position() + remaining}, false
	}
	return window{pos: s.Position() + total, length: remaining - total}, true
}

func (h ctxStateHandler) restore(k *DataKeeper) error {
	if h.overflow != "" {
		return &StateFSMError{Msg: h.overflow}
	}
	k.loreEpoch = h.epoch
	if err := k.PrevSlider.SetPositionAndLen(h.prev.pos, h.prev.length); err != nil {
		return err
	}
	return k.CurrentSlider.SetPositionAndLen(h.current.pos, h.current.length)
}

// loreApplied reports whether a fold lore moved the sliders since the
// handler was created.
func (h ctxStateHandler) loreApplied(k *DataKeeper) bool {
	return k.loreEpoch != h.epoch
}

// continueLore moves [s] right after a par ending at [parEnd] inside the
// fold subtrace ending at [loreEnd].
func continueLore(s *TraceSlider, parEnd, loreEnd int, side string) error {
	if parEnd > loreEnd {
		return &StateFSMError{Msg: fmt.Sprintf(
			"%s trace: par ending at %d overflows the fold subtrace ending at %d", side, parEnd, loreEnd)}
	}
	return s.SetPositionAndLen(parEnd, loreEnd-parEnd)
}

// SubgraphType names the branch of a par.
type SubgraphType uint8

const (
	LeftSubgraph SubgraphType = iota
	RightSubgraph
)

// ParFSM narrows the sliders to the left and then the right subtrace of a
// par and writes the result header once both branches are done.
type ParFSM struct {
	prevPar    trace.ParState
	currentPar trace.ParState
	prevStart  int
	curStart   int

	inserter stateInserter
	handler  ctxStateHandler

	leftSize int
	inRight  bool
}

func newParFSM(merged MergerParResult, k *DataKeeper) (*ParFSM, error) {
	handler := newCtxStateHandler(k, merged.Prev.Size(), merged.Current.Size())
	if handler.overflow != "" {
		if k.activeFolds == 0 {
			logger.Debug("par overflows its window", "error", handler.overflow)
			return nil, &StateFSMError{Msg: handler.overflow}
		}
		logger.Debug("par runs past the fold subtrace",
			"prev", merged.Prev, "current", merged.Current, "reason", handler.overflow)
	}
	fsm := &ParFSM{
		prevPar:    merged.Prev,
		currentPar: merged.Current,
		prevStart:  k.PrevSlider.Position(),
		curStart:   k.CurrentSlider.Position(),
		inserter:   newStateInserter(k, trace.Par(0, 0)),
		handler:    handler,
	}
	if err := fsm.setWindows(k, fsm.prevStart, fsm.prevPar.LeftSize, fsm.curStart, fsm.currentPar.LeftSize); err != nil {
		return nil, err
	}
	return fsm, nil
}

func (f *ParFSM) setWindows(k *DataKeeper, prevPos, prevLen, curPos, curLen int) error {
	if err := k.PrevSlider.SetPositionAndLen(prevPos, prevLen); err != nil {
		return err
	}
	return k.CurrentSlider.SetPositionAndLen(curPos, curLen)
}

func (f *ParFSM) leftCompleted(k *DataKeeper) error {
	if f.inRight {
		return &StateFSMError{Msg: "left subgraph of a par completed twice"}
	}
	f.leftSize = f.inserter.subtraceSize(k)
	f.inRight = true
	return f.setWindows(k,
		f.prevStart+f.prevPar.LeftSize, f.prevPar.RightSize,
		f.curStart+f.currentPar.LeftSize, f.currentPar.RightSize,
	)
}

func (f *ParFSM) rightCompleted(k *DataKeeper) error {
	if !f.inRight {
		return &StateFSMError{Msg: "right subgraph of a par completed before the left one"}
	}
	rightSize := f.inserter.subtraceSize(k) - f.leftSize
	if err := f.inserter.insert(k, trace.Par(f.leftSize, rightSize)); err != nil {
		return err
	}
	if err := f.leave(k); err != nil {
		logger.Debug("par can't return to its enclosing window", "error", err)
		return err
	}
	return nil
}

// leave moves the sliders past the par. When a fold lore was applied in one
// of the subgraphs the sliders belong to a later subtrace of that fold, and
// the par's end is taken relative to that subtrace.
func (f *ParFSM) leave(k *DataKeeper) error {
	if !f.handler.loreApplied(k) {
		return f.handler.restore(k)
	}
	logger.Debug("par spans fold iterations",
		"prevEnd", f.prevStart+f.prevPar.Size(), "prevLoreEnd", k.prevLoreEnd,
		"currentEnd", f.curStart+f.currentPar.Size(), "currentLoreEnd", k.currentLoreEnd)
	if err := continueLore(k.PrevSlider, f.prevStart+f.prevPar.Size(), k.prevLoreEnd, "previous"); err != nil {
		return err
	}
	return continueLore(k.CurrentSlider, f.curStart+f.currentPar.Size(), k.currentLoreEnd, "current")
}

// endWithError writes a header matching whatever was produced so far.
func (f *ParFSM) endWithError(k *DataKeeper) {
	size := f.inserter.subtraceSize(k)
	header := trace.Par(size, 0)
	if f.inRight {
		header = trace.Par(f.leftSize, size-f.leftSize)
	}
	_ = f.inserter.insert(k, header)
	_ = f.leave(k)
}
