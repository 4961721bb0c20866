// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"github.com/fluencelabs/aquavm-sub004/air"
	"github.com/fluencelabs/aquavm-sub004/trace"
	"github.com/fluencelabs/aquavm-sub004/tracehandler"
	"github.com/fluencelabs/aquavm-sub004/values"
)

func executeCanon(canon *air.Canon, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	merged, err := h.MeetCanonStart()
	if err != nil {
		return traceError(err)
	}
	if merged.Met && merged.Result.Kind == trace.CanonExecuted {
		return replayCanon(canon, merged, ctx, h)
	}

	peerID, _, err := ctx.ResolveString(canon.PeerID, "peer id")
	if err != nil {
		if !IsJoinable(err) {
			return err
		}
		if merged.Met {
			h.MeetCanonEnd(merged.Result, merged.Positions)
		}
		ctx.makeSubgraphIncomplete()
		return nil
	}

	if !ctx.isLocal(peerID) {
		result := trace.CanonResult{Kind: trace.CanonRequestSentBy, SentBy: ctx.RunParams.CurrentPeerID}
		if merged.Met {
			result = merged.Result
		} else {
			ctx.addNextPeer(peerID)
		}
		h.MeetCanonEnd(result, merged.Positions)
		ctx.makeSubgraphIncomplete()
		return nil
	}

	tetraplet := values.NewTetraplet(peerID, "", "", "")
	cs, err := ctx.Cids.TrackCanonResult(tetraplet, ctx.Streams.Get(canon.Stream).Values())
	if err != nil {
		return err
	}
	if err := ctx.SetCanon(canon.CanonStream, cs); err != nil {
		return err
	}
	ctx.Tracker.Register(peerID, cs.CID)
	h.MeetCanonEnd(trace.CanonResult{Kind: trace.CanonExecuted, CID: cs.CID}, merged.Positions)
	return nil
}

func replayCanon(
	canon *air.Canon,
	merged tracehandler.MergerCanonResult,
	ctx *ExecutionCtx,
	h *tracehandler.TraceHandler,
) error {
	cs, err := ctx.Cids.ResolveCanonResult(merged.Result.CID)
	if err != nil {
		return err
	}
	if err := ctx.SetCanon(canon.CanonStream, cs); err != nil {
		return err
	}
	ctx.Tracker.Register(cs.Tetraplet.PeerPK, cs.CID)
	h.MeetCanonEnd(merged.Result, merged.Positions)
	return nil
}
