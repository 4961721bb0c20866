// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package trace

import "github.com/fluencelabs/aquavm-sub004/values"

func Par(left, right int) ExecutedState { return ParState{LeftSize: left, RightSize: right} }

func Executed(ref ValueRef) CallResult { return CallResult{Kind: CallExecuted, Value: ref} }

func RequestSentBy(peerID string) CallResult {
	return CallResult{Kind: CallRequestSentBy, Sender: Sender{PeerID: peerID}}
}

func RequestSentByWithCallID(peerID string, callID uint32) CallResult {
	id := callID
	return CallResult{Kind: CallRequestSentBy, Sender: Sender{PeerID: peerID, CallID: &id}}
}

func Failed(retCode int32, message string) CallResult {
	return CallResult{Kind: CallFailed, Failure: CallFailure{RetCode: retCode, Message: message}}
}

func ScalarRef(c values.CID) ValueRef { return ValueRef{Kind: ScalarValue, CID: c} }

func StreamRef(c values.CID, generation int) ValueRef {
	return ValueRef{Kind: StreamValue, CID: c, Generation: generation}
}

func UnusedRef(c values.CID) ValueRef { return ValueRef{Kind: UnusedValue, CID: c} }

func Call(result CallResult) ExecutedState { return CallState{Result: result} }

func Ap(generations ...int) ExecutedState { return ApState{Generations: generations} }

func CanonExecutedState(c values.CID) ExecutedState {
	return CanonState{Result: CanonResult{Kind: CanonExecuted, CID: c}}
}

func CanonSentBy(peerID string) ExecutedState {
	return CanonState{Result: CanonResult{Kind: CanonRequestSentBy, SentBy: peerID}}
}

func Fold(lore ...FoldSubTraceLore) ExecutedState { return FoldState{Lore: lore} }

// SubTraceLore builds a lore entry from two (pos, len) windows.
func SubTraceLore(valuePos, beforePos, beforeLen, afterPos, afterLen int) FoldSubTraceLore {
	return FoldSubTraceLore{
		ValuePos: valuePos,
		SubTraceDescs: [2]SubTraceDesc{
			{BeginPos: beforePos, SubTraceLen: beforeLen},
			{BeginPos: afterPos, SubTraceLen: afterLen},
		},
	}
}
