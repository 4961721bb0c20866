// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"github.com/fluencelabs/aquavm-sub004/air"
	"github.com/fluencelabs/aquavm-sub004/trace"
	"github.com/fluencelabs/aquavm-sub004/tracehandler"
)

func executeAp(ap *air.Ap, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	if !ap.Result.Stream {
		agg, err := ctx.Resolve(ap.Argument)
		if err != nil {
			_, err = joinable(err, ctx)
			return err
		}
		return ctx.SetScalar(ap.Result.Name, copyAggregate(agg, -1))
	}

	merged, err := h.MeetApStart()
	if err != nil {
		return traceError(err)
	}
	agg, err := ctx.Resolve(ap.Argument)
	if err != nil {
		if !IsJoinable(err) {
			return err
		}
		// keep the trace aligned with the peers that had the value
		state := trace.ApState{}
		if merged.Met {
			state = merged.State
		}
		h.MeetApEnd(state, merged.Positions)
		ctx.makeSubgraphIncomplete()
		return nil
	}

	gen := Generation{Kind: GenNew}
	if g, ok := merged.Generation(); ok {
		gen = generationOf(merged.Source, g)
	}
	value := copyAggregate(agg, h.TraceLen())
	idx, err := ctx.Streams.Get(ap.Result.Name).Add(value, gen)
	if err != nil {
		return err
	}
	h.MeetApEnd(trace.ApState{Generations: []int{idx}}, merged.Positions)
	return nil
}

func copyAggregate(agg *ValueAggregate, tracePos int) *ValueAggregate {
	cp := *agg
	cp.TracePos = tracePos
	return &cp
}
