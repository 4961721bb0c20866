// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package tracehandler

import (
	"fmt"

	"github.com/fluencelabs/aquavm-sub004/trace"
)

// FoldKind tells how value positions of a fold are interpreted. Scalar
// folds identify values by their index, stream folds by the trace position
// of the state that produced the value.
type FoldKind uint8

const (
	ScalarFold FoldKind = iota
	StreamFold
)

type ctorState uint8

const (
	beforeStarted ctorState = iota
	beforeCompleted
	afterStarted
	afterCompleted
)

// subTraceLoreCtor builds the lore of one iterated value while its
// subtraces are produced.
type subTraceLoreCtor struct {
	valuePos    int
	beforeStart int
	beforeEnd   int
	afterStart  int
	afterEnd    int
	state       ctorState
}

func (c *subTraceLoreCtor) maybeBeforeEnd(pos int) {
	if c.state == beforeStarted {
		c.beforeEnd = pos
		c.state = beforeCompleted
	}
}

// startAfter opens the after subtrace and reports whether it did so.
func (c *subTraceLoreCtor) startAfter(pos int) bool {
	c.maybeBeforeEnd(pos)
	if c.state != beforeCompleted {
		return false
	}
	c.afterStart = pos
	c.state = afterStarted
	return true
}

func (c *subTraceLoreCtor) endAfter(pos int) {
	c.startAfter(pos)
	if c.state == afterStarted {
		c.afterEnd = pos
		c.state = afterCompleted
	}
}

func (c *subTraceLoreCtor) lore() trace.FoldSubTraceLore {
	return trace.SubTraceLore(c.valuePos,
		c.beforeStart, c.beforeEnd-c.beforeStart,
		c.afterStart, c.afterEnd-c.afterStart,
	)
}

type loreCtorDesc struct {
	ctor        *subTraceLoreCtor
	prevLore    *trace.FoldSubTraceLore
	currentLore *trace.FoldSubTraceLore
}

// FoldFSM maps the iterations of a fold onto the subtraces recorded in the
// fold lores of both inputs and produces the lore of the result.
type FoldFSM struct {
	kind        FoldKind
	prevLore    map[int]trace.FoldSubTraceLore
	currentLore map[int]trace.FoldSubTraceLore

	inserter stateInserter
	handler  ctxStateHandler

	queue      []loreCtorDesc
	resultLore trace.FoldLore
}

func newFoldFSM(kind FoldKind, merged MergerFoldResult, k *DataKeeper) (*FoldFSM, error) {
	handler := newCtxStateHandler(k, merged.Prev.TotalLen(), merged.Current.TotalLen())
	if handler.overflow != "" {
		logger.Debug("fold overflows its window", "error", handler.overflow)
		return nil, &StateFSMError{Msg: handler.overflow}
	}
	k.activeFolds++
	return &FoldFSM{
		kind:        kind,
		prevLore:    loreByPos(merged.Prev),
		currentLore: loreByPos(merged.Current),
		inserter:    newStateInserter(k, trace.Fold()),
		handler:     handler,
		resultLore:  trace.FoldLore{},
	}, nil
}

func loreByPos(lore trace.FoldLore) map[int]trace.FoldSubTraceLore {
	out := make(map[int]trace.FoldSubTraceLore, len(lore))
	for _, l := range lore {
		out[l.ValuePos] = l
	}
	return out
}

// takeLore removes and returns the lore recorded for [pos].
func takeLore(lores map[int]trace.FoldSubTraceLore, pos SourcePos) *trace.FoldSubTraceLore {
	if !pos.Ok {
		return nil
	}
	l, ok := lores[pos.Pos]
	if !ok {
		return nil
	}
	delete(lores, pos.Pos)
	return &l
}

func (f *FoldFSM) meetIterationStart(valuePos int, k *DataKeeper) error {
	var positions DataPositions
	switch f.kind {
	case ScalarFold:
		positions = DataPositions{Prev: At(valuePos), Current: At(valuePos)}
	default:
		positions, _ = k.OldPositions(valuePos)
	}

	desc := loreCtorDesc{
		ctor: &subTraceLoreCtor{
			valuePos:    valuePos,
			beforeStart: k.ResultLen(),
		},
		prevLore:    takeLore(f.prevLore, positions.Prev),
		currentLore: takeLore(f.currentLore, positions.Current),
	}
	f.queue = append(f.queue, desc)
	return applyLore(k, desc, 0)
}

func (f *FoldFSM) desc(iteration int) (loreCtorDesc, error) {
	if iteration < 0 || iteration >= len(f.queue) {
		return loreCtorDesc{}, &StateFSMError{Msg: fmt.Sprintf(
			"fold iteration %d is unknown, %d iterations started", iteration, len(f.queue))}
	}
	return f.queue[iteration], nil
}

func (f *FoldFSM) meetIterationEnd(iteration int, k *DataKeeper) error {
	desc, err := f.desc(iteration)
	if err != nil {
		return err
	}
	desc.ctor.maybeBeforeEnd(k.ResultLen())
	return nil
}

// meetBackIterator is called when control returns to the `next` of
// [iteration]: every later iteration is finished and the after subtrace of
// [iteration] begins.
func (f *FoldFSM) meetBackIterator(iteration int, k *DataKeeper) error {
	desc, err := f.desc(iteration)
	if err != nil {
		return err
	}
	pos := k.ResultLen()
	for i := len(f.queue) - 1; i > iteration; i-- {
		f.queue[i].ctor.endAfter(pos)
	}
	if !desc.ctor.startAfter(pos) {
		return nil
	}
	return applyLore(k, desc, 1)
}

// meetGenerationEnd closes every iteration of the current pass and moves
// their lores to the result.
func (f *FoldFSM) meetGenerationEnd(k *DataKeeper) {
	pos := k.ResultLen()
	for i := len(f.queue) - 1; i >= 0; i-- {
		f.queue[i].ctor.endAfter(pos)
	}
	for _, desc := range f.queue {
		f.resultLore = append(f.resultLore, desc.ctor.lore())
	}
	f.queue = f.queue[:0]
}

func (f *FoldFSM) meetFoldEnd(k *DataKeeper) error {
	f.meetGenerationEnd(k)
	k.activeFolds--
	if err := f.inserter.insert(k, trace.FoldState{Lore: f.resultLore}); err != nil {
		return err
	}
	return f.handler.restore(k)
}

func (f *FoldFSM) endWithError(k *DataKeeper) {
	f.meetGenerationEnd(k)
	k.activeFolds--
	_ = f.inserter.insert(k, trace.FoldState{Lore: f.resultLore})
	_ = f.handler.restore(k)
}

// applyLore narrows the sliders to subtrace [idx] (0 before, 1 after) of
// the lores of [desc]. A side without a lore gets an empty window.
func applyLore(k *DataKeeper, desc loreCtorDesc, idx int) error {
	k.loreEpoch++
	prevEnd, err := applyLoreDesc(k.PrevSlider, desc.prevLore, idx)
	if err != nil {
		return err
	}
	currentEnd, err := applyLoreDesc(k.CurrentSlider, desc.currentLore, idx)
	if err != nil {
		return err
	}
	k.prevLoreEnd, k.currentLoreEnd = prevEnd, currentEnd
	logger.Debug("applied fold lore",
		"valuePos", desc.ctor.valuePos, "subtrace", idx,
		"prevLore", desc.prevLore != nil, "prevEnd", prevEnd,
		"currentLore", desc.currentLore != nil, "currentEnd", currentEnd)
	return nil
}

// applyLoreDesc narrows [s] to a subtrace of [lore] and returns where the
// subtrace ends.
func applyLoreDesc(s *TraceSlider, lore *trace.FoldSubTraceLore, idx int) (int, error) {
	if lore == nil {
		return s.Position(), s.SetSubtraceLen(0)
	}
	d := lore.SubTraceDescs[idx]
	return d.BeginPos + d.SubTraceLen, s.SetPositionAndLen(d.BeginPos, d.SubTraceLen)
}
