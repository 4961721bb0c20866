// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"fmt"

	"github.com/fluencelabs/aquavm-sub004/air"
	"github.com/fluencelabs/aquavm-sub004/trace"
	"github.com/fluencelabs/aquavm-sub004/tracehandler"
	"github.com/fluencelabs/aquavm-sub004/values"
)

type resolvedCall struct {
	instr        *air.Call
	peerID       string
	serviceID    string
	functionName string
	tetraplet    *values.SecurityTetraplet
}

func executeCall(call *air.Call, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	rc, err := resolveCall(call, ctx)
	if err != nil {
		_, err = joinable(err, ctx)
		return err
	}

	err = rc.execute(ctx, h)
	if ce, ok := AsCatchable(err); ok && ce.Tetraplet == nil {
		ce.Tetraplet = rc.tetraplet
	}
	_, err = joinable(err, ctx)
	return err
}

func resolveCall(call *air.Call, ctx *ExecutionCtx) (*resolvedCall, error) {
	peerID, _, err := ctx.ResolveString(call.Triplet.PeerID, "peer id")
	if err != nil {
		return nil, err
	}
	serviceID, _, err := ctx.ResolveString(call.Triplet.ServiceID, "service id")
	if err != nil {
		return nil, err
	}
	functionName, _, err := ctx.ResolveString(call.Triplet.FunctionName, "function name")
	if err != nil {
		return nil, err
	}
	return &resolvedCall{
		instr:        call,
		peerID:       peerID,
		serviceID:    serviceID,
		functionName: functionName,
		tetraplet:    values.NewTetraplet(peerID, serviceID, functionName, ""),
	}, nil
}

func (rc *resolvedCall) execute(ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	merged, err := h.MeetCallStart()
	if err != nil {
		return traceError(err)
	}
	if !merged.Met {
		return rc.executeFresh(ctx, h, merged.Positions)
	}

	switch merged.Result.Kind {
	case trace.CallExecuted:
		return rc.replayExecuted(merged, ctx, h)
	case trace.CallFailed:
		h.MeetCallEnd(merged.Result, merged.Positions)
		return rc.serviceError(merged.Result.Failure.RetCode, merged.Result.Failure.Message)
	}

	sender := merged.Result.Sender
	if ctx.isLocal(sender.PeerID) && sender.CallID != nil {
		if result, ok := ctx.CallResults[*sender.CallID]; ok {
			args, _, err := ctx.resolveArguments(rc.instr.Args)
			if err != nil {
				return err
			}
			return rc.handleCallResult(*sender.CallID, result, args, ctx, h, merged.Positions)
		}
		logger.Debug("call result isn't ready yet", "callID", *sender.CallID)
		h.MeetCallEnd(merged.Result, merged.Positions)
		ctx.makeSubgraphIncomplete()
		return nil
	}
	if ctx.isLocal(rc.peerID) {
		return rc.executeFresh(ctx, h, merged.Positions)
	}
	h.MeetCallEnd(merged.Result, merged.Positions)
	ctx.makeSubgraphIncomplete()
	return nil
}

func (rc *resolvedCall) executeFresh(ctx *ExecutionCtx, h *tracehandler.TraceHandler, positions tracehandler.DataPositions) error {
	current := ctx.RunParams.CurrentPeerID
	if !ctx.isLocal(rc.peerID) {
		h.MeetCallEnd(trace.RequestSentBy(current), positions)
		ctx.addNextPeer(rc.peerID)
		ctx.makeSubgraphIncomplete()
		return nil
	}

	args, tetraplets, err := ctx.resolveArguments(rc.instr.Args)
	if err != nil {
		if IsJoinable(err) {
			h.MeetCallEnd(trace.RequestSentBy(current), positions)
			ctx.makeSubgraphIncomplete()
			return nil
		}
		return err
	}

	callID := ctx.LastCallRequestID + 1
	ctx.LastCallRequestID = callID
	if result, ok := ctx.CallResults[callID]; ok {
		return rc.handleCallResult(callID, result, args, ctx, h, positions)
	}

	ctx.CallRequests[callID] = CallRequestParams{
		ServiceID:    rc.serviceID,
		FunctionName: rc.functionName,
		Arguments:    args,
		Tetraplets:   tetraplets,
	}
	h.MeetCallEnd(trace.RequestSentByWithCallID(current, callID), positions)
	ctx.makeSubgraphIncomplete()
	return nil
}

func (rc *resolvedCall) handleCallResult(
	callID uint32,
	result CallServiceResult,
	args []interface{},
	ctx *ExecutionCtx,
	h *tracehandler.TraceHandler,
	positions tracehandler.DataPositions,
) error {
	if result.RetCode != 0 {
		msg := failureMessage(result.Result)
		h.MeetCallEnd(trace.Failed(result.RetCode, msg), positions)
		return rc.serviceError(result.RetCode, msg)
	}

	value, err := values.Parse([]byte(result.Result))
	if err != nil {
		return uncatchable(CallServiceResultDeError, err, "result of call %d", callID)
	}
	c, err := ctx.Cids.TrackServiceResult(value, rc.tetraplet, args)
	if err != nil {
		return err
	}
	agg := &ValueAggregate{
		Result:     value,
		Tetraplet:  rc.tetraplet,
		Provenance: values.ServiceResultProvenance(c),
		TracePos:   h.TraceLen(),
	}
	ref, err := rc.bindOutput(agg, c, Generation{Kind: GenNew}, ctx)
	if err != nil {
		return err
	}
	if ref.Kind != trace.UnusedValue {
		ctx.Tracker.Register(rc.tetraplet.PeerPK, c)
	}
	h.MeetCallEnd(trace.Executed(ref), positions)
	return nil
}

func (rc *resolvedCall) replayExecuted(merged tracehandler.MergerCallResult, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	ref := merged.Result.Value
	if expected := expectedValueKind(rc.instr.Output); ref.Kind != expected {
		return uncatchable(CallResultNotCorrespondToInstr, nil,
			"%s recorded for %s", merged.Result, rc.instr)
	}
	agg, err := ctx.Cids.ResolveServiceResult(ref.CID)
	if err != nil {
		return err
	}
	if !agg.Tetraplet.SameOrigin(rc.peerID, rc.serviceID, rc.functionName) {
		return uncatchable(CallResultNotCorrespondToInstr, nil,
			"value produced by %s recorded for %s", agg.Tetraplet, rc.instr)
	}
	agg.TracePos = h.TraceLen()

	newRef, err := rc.bindOutput(agg, ref.CID, generationOf(merged.Source, ref.Generation), ctx)
	if err != nil {
		return err
	}
	if newRef.Kind != trace.UnusedValue {
		ctx.Tracker.Register(agg.Tetraplet.PeerPK, ref.CID)
	}
	h.MeetCallEnd(trace.Executed(newRef), merged.Positions)
	return nil
}

func expectedValueKind(out air.CallOutput) trace.ValueRefKind {
	switch out.Kind {
	case air.OutputScalar:
		return trace.ScalarValue
	case air.OutputStream:
		return trace.StreamValue
	default:
		return trace.UnusedValue
	}
}

func (rc *resolvedCall) bindOutput(agg *ValueAggregate, c values.CID, gen Generation, ctx *ExecutionCtx) (trace.ValueRef, error) {
	switch rc.instr.Output.Kind {
	case air.OutputScalar:
		if err := ctx.SetScalar(rc.instr.Output.Name, agg); err != nil {
			return trace.ValueRef{}, err
		}
		return trace.ScalarRef(c), nil
	case air.OutputStream:
		idx, err := ctx.Streams.Get(rc.instr.Output.Name).Add(agg, gen)
		if err != nil {
			return trace.ValueRef{}, err
		}
		return trace.StreamRef(c, idx), nil
	default:
		return trace.UnusedRef(c), nil
	}
}

func (rc *resolvedCall) serviceError(retCode int32, msg string) error {
	return &CatchableError{
		Kind:      LocalServiceError,
		Msg:       msg,
		RetCode:   int64(retCode),
		Tetraplet: rc.tetraplet,
		Err:       fmt.Errorf("%s returned %d", rc.tetraplet, retCode),
	}
}

// failureMessage unquotes a JSON string result and keeps anything else as is.
func failureMessage(raw string) string {
	v, err := values.Parse([]byte(raw))
	if err != nil {
		return raw
	}
	if s, ok := v.(string); ok {
		return s
	}
	return raw
}
