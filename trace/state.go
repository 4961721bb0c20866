// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package trace defines the execution trace: the flat sequence of executed
// states that records what every state-producing instruction did.
package trace

import (
	"fmt"
	"strings"

	"github.com/fluencelabs/aquavm-sub004/values"
)

// ExecutedState is one element of a trace. It is one of ParState,
// CallState, ApState, CanonState or FoldState.
type ExecutedState interface {
	fmt.Stringer
	Kind() StateKind
}

// StateKind names the instruction that produced a state.
type StateKind uint8

const (
	KindPar StateKind = iota
	KindCall
	KindAp
	KindCanon
	KindFold
)

func (k StateKind) String() string {
	switch k {
	case KindPar:
		return "par"
	case KindCall:
		return "call"
	case KindAp:
		return "ap"
	case KindCanon:
		return "canon"
	case KindFold:
		return "fold"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

var (
	_ ExecutedState = ParState{}
	_ ExecutedState = CallState{}
	_ ExecutedState = ApState{}
	_ ExecutedState = CanonState{}
	_ ExecutedState = FoldState{}
)

// ParState is the header of a par: the lengths of the left and right
// subtraces that directly follow it.
type ParState struct {
	LeftSize  int
	RightSize int
}

func (ParState) Kind() StateKind { return KindPar }

func (p ParState) Size() int { return p.LeftSize + p.RightSize }

func (p ParState) String() string { return fmt.Sprintf("par(%d, %d)", p.LeftSize, p.RightSize) }

// CallState records the result of a call.
type CallState struct {
	Result CallResult
}

func (CallState) Kind() StateKind { return KindCall }

func (c CallState) String() string { return "call." + c.Result.String() }

// ApState records which stream generation an ap wrote to. Gens is empty when
// the ap couldn't be executed yet.
type ApState struct {
	Generations []int
}

func (ApState) Kind() StateKind { return KindAp }

func (a ApState) String() string { return fmt.Sprintf("ap(%v)", a.Generations) }

// CanonState records a canon: either the CID of the produced canon stream
// or the peer that still has to produce it.
type CanonState struct {
	Result CanonResult
}

func (CanonState) Kind() StateKind { return KindCanon }

func (c CanonState) String() string { return "canon." + c.Result.String() }

// FoldState records how the subtraces of a fold map onto iterated values.
type FoldState struct {
	Lore FoldLore
}

func (FoldState) Kind() StateKind { return KindFold }

func (f FoldState) String() string {
	parts := make([]string, len(f.Lore))
	for i, l := range f.Lore {
		parts[i] = l.String()
	}
	return "fold[" + strings.Join(parts, ", ") + "]"
}

// CallResultKind tells which variant a CallResult holds.
type CallResultKind uint8

const (
	CallExecuted CallResultKind = iota
	CallRequestSentBy
	CallFailed
)

// CallResult is Executed(ValueRef), RequestSentBy(Sender) or
// Failed(code, message).
type CallResult struct {
	Kind    CallResultKind
	Value   ValueRef
	Sender  Sender
	Failure CallFailure
}

// CallFailure is the error a service returned.
type CallFailure struct {
	RetCode int32  `json:"ret_code"`
	Message string `json:"message"`
}

// Sender is the peer a call was handed to. CallID is set when the current
// peer issued a call request for this call and waits for its result.
type Sender struct {
	PeerID string  `json:"peer"`
	CallID *uint32 `json:"call_id,omitempty"`
}

func (s Sender) String() string {
	if s.CallID == nil {
		return s.PeerID
	}
	return fmt.Sprintf("%s: %d", s.PeerID, *s.CallID)
}

func (r CallResult) String() string {
	switch r.Kind {
	case CallExecuted:
		return "executed(" + r.Value.String() + ")"
	case CallRequestSentBy:
		return "sent_by(" + r.Sender.String() + ")"
	default:
		return fmt.Sprintf("failed(%d, %q)", r.Failure.RetCode, r.Failure.Message)
	}
}

// ValueRefKind tells where a call placed its result.
type ValueRefKind uint8

const (
	ScalarValue ValueRefKind = iota
	StreamValue
	UnusedValue
)

// ValueRef references a call result by CID. Scalar and stream references
// point into the service result store, unused references into the value
// store.
type ValueRef struct {
	Kind       ValueRefKind
	CID        values.CID
	Generation int
}

func (v ValueRef) String() string {
	switch v.Kind {
	case ScalarValue:
		return "scalar " + string(v.CID)
	case StreamValue:
		return fmt.Sprintf("stream %s gen %d", v.CID, v.Generation)
	default:
		return "unused " + string(v.CID)
	}
}

// CanonResultKind tells which variant a CanonResult holds.
type CanonResultKind uint8

const (
	CanonExecuted CanonResultKind = iota
	CanonRequestSentBy
)

// CanonResult is Executed(canon result CID) or RequestSentBy(peer).
type CanonResult struct {
	Kind   CanonResultKind
	CID    values.CID
	SentBy string
}

func (c CanonResult) String() string {
	if c.Kind == CanonExecuted {
		return "executed(" + string(c.CID) + ")"
	}
	return "sent_by(" + c.SentBy + ")"
}

// SubTraceDesc is a window of the trace: a start position and a length.
type SubTraceDesc struct {
	BeginPos    int `json:"pos"`
	SubTraceLen int `json:"len"`
}

// FoldSubTraceLore maps one iterated value (identified by ValuePos) onto
// the subtraces produced before and after its `next`.
type FoldSubTraceLore struct {
	ValuePos      int             `json:"pos"`
	SubTraceDescs [2]SubTraceDesc `json:"desc"`
}

func (l FoldSubTraceLore) String() string {
	return fmt.Sprintf("%d: [%d..+%d, %d..+%d]", l.ValuePos,
		l.SubTraceDescs[0].BeginPos, l.SubTraceDescs[0].SubTraceLen,
		l.SubTraceDescs[1].BeginPos, l.SubTraceDescs[1].SubTraceLen,
	)
}

// TotalLen is the number of states in both subtraces.
func (l FoldSubTraceLore) TotalLen() int {
	return l.SubTraceDescs[0].SubTraceLen + l.SubTraceDescs[1].SubTraceLen
}

// FoldLore is the ordered list of per-value lores of a fold.
type FoldLore []FoldSubTraceLore

// TotalLen is the number of states in all subtraces of the fold.
func (l FoldLore) TotalLen() int {
	total := 0
	for _, lore := range l {
		total += lore.TotalLen()
	}
	return total
}
