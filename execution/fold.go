// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"fmt"

	"github.com/fluencelabs/aquavm-sub004/air"
	"github.com/fluencelabs/aquavm-sub004/tracehandler"
	"github.com/fluencelabs/aquavm-sub004/values"
)

// foldIterable is the value a fold iterator is bound to.
type foldIterable struct {
	foldID    uint32
	items     []*ValueAggregate
	positions []int
	idx       int

	body air.Instruction
	// last runs when `next` finds the iterable exhausted.
	last air.Instruction
}

func (it *foldIterable) peek() *ValueAggregate { return it.items[it.idx] }

func (it *foldIterable) position() int { return it.positions[it.idx] }

func bindIterator(name string, ctx *ExecutionCtx) error {
	if _, ok := ctx.iterables[name]; ok {
		return uncatchable(MultipleIterableValues, nil, "iterator %s is already bound by an enclosing fold", name)
	}
	return nil
}

// foldItems returns the values a scalar fold iterates over.
func foldItems(iterable air.Value, ctx *ExecutionCtx) ([]*ValueAggregate, error) {
	switch v := iterable.(type) {
	case *air.EmptyArray:
		return nil, nil
	case *air.CanonStream:
		if v.Lambda == nil {
			cs, err := ctx.Canon(v.Name)
			if err != nil {
				return nil, err
			}
			return cs.Values, nil
		}
	}

	agg, err := ctx.Resolve(iterable)
	if err != nil {
		return nil, err
	}
	arr, ok := agg.Result.([]interface{})
	if !ok {
		return nil, &CatchableError{
			Kind:      FoldIteratesOverNonArray,
			Msg:       fmt.Sprintf("%s is %s", iterable, values.TypeName(agg.Result)),
			Tetraplet: agg.Tetraplet,
		}
	}
	items := make([]*ValueAggregate, len(arr))
	for i, el := range arr {
		items[i] = &ValueAggregate{
			Result:     el,
			Tetraplet:  agg.Tetraplet.WithLambda(fmt.Sprintf(".$.[%d]", i)),
			Provenance: agg.Provenance,
			TracePos:   -1,
		}
	}
	return items, nil
}

func executeFoldScalar(fold *air.FoldScalar, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	if err := bindIterator(fold.Iterator, ctx); err != nil {
		return err
	}
	items, err := foldItems(fold.Iterable, ctx)
	if err != nil {
		_, err = joinable(err, ctx)
		return err
	}
	if len(items) == 0 {
		if fold.Last != nil {
			return Execute(fold.Last, ctx, h)
		}
		return nil
	}

	positions := make([]int, len(items))
	for i := range positions {
		positions[i] = i
	}
	it := &foldIterable{
		foldID:    ctx.Instructions.nextFoldID(),
		items:     items,
		positions: positions,
		body:      fold.Body,
		last:      fold.Last,
	}
	if err := h.MeetFoldStart(it.foldID, tracehandler.ScalarFold); err != nil {
		return traceError(err)
	}
	ctx.iterables[fold.Iterator] = it
	defer delete(ctx.iterables, fold.Iterator)

	err = runIteration(it, ctx, h)
	if err != nil && !IsCatchable(err) {
		h.FoldEndWithError(it.foldID)
		return err
	}
	if endErr := h.MeetFoldEnd(it.foldID); endErr != nil {
		return traceError(endErr)
	}
	return err
}

func executeFoldStream(fold *air.FoldStream, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	if err := bindIterator(fold.Iterator, ctx); err != nil {
		return err
	}
	foldID := ctx.Instructions.nextFoldID()
	if err := h.MeetFoldStart(foldID, tracehandler.StreamFold); err != nil {
		return traceError(err)
	}
	defer delete(ctx.iterables, fold.Iterator)

	stream := ctx.Streams.Get(fold.Stream)
	cursor := &streamCursor{}
	for {
		generations := cursor.constructIterables(stream)
		stream.AddNewGenerationIfNonEmpty()
		if len(generations) == 0 {
			break
		}
		for _, gen := range generations {
			it := &foldIterable{
				foldID:    foldID,
				items:     gen,
				positions: make([]int, len(gen)),
				body:      fold.Body,
			}
			for i, v := range gen {
				it.positions[i] = v.TracePos
			}
			ctx.iterables[fold.Iterator] = it

			if err := runIteration(it, ctx, h); err != nil {
				if !IsCatchable(err) {
					h.FoldEndWithError(foldID)
					return err
				}
				// iterations over a stream must stay replayable
				logger.Debug("stream fold iteration failed", "stream", fold.Stream, "error", err)
				ctx.LastError.enable()
				ctx.Error.enable()
			}
			if err := h.MeetGenerationEnd(foldID); err != nil {
				return traceError(err)
			}
		}
	}
	if err := h.MeetFoldEnd(foldID); err != nil {
		return traceError(err)
	}
	delete(ctx.iterables, fold.Iterator)
	if fold.Last != nil {
		return Execute(fold.Last, ctx, h)
	}
	return nil
}

// runIteration executes the body for the current item of [it].
func runIteration(it *foldIterable, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	if err := h.MeetIterationStart(it.foldID, it.position()); err != nil {
		return traceError(err)
	}
	ctx.enterIteration()
	defer ctx.leaveIteration()
	return Execute(it.body, ctx, h)
}

func executeNext(next *air.Next, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	it, ok := ctx.iterables[next.Iterator]
	if !ok {
		return uncatchable(IterableNotFound, nil, "next over %s outside of a fold", next.Iterator)
	}
	idx := it.idx
	if err := h.MeetIterationEnd(it.foldID, idx); err != nil {
		return traceError(err)
	}

	if idx+1 >= len(it.items) {
		if err := h.MeetBackIterator(it.foldID, idx); err != nil {
			return traceError(err)
		}
		if it.last != nil {
			return Execute(it.last, ctx, h)
		}
		return nil
	}

	it.idx++
	err := runIteration(it, ctx, h)
	it.idx = idx
	if err != nil {
		return err
	}
	if err := h.MeetBackIterator(it.foldID, idx); err != nil {
		return traceError(err)
	}
	return nil
}
