// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fluencelabs/aquavm-sub004/values"
)

var (
	errEmptyState      = errors.New("executed state has no variant set")
	errAmbiguousState  = errors.New("executed state has more than one variant set")
	errNegativeSize    = errors.New("negative size in executed state")
	errEmptyCallResult = errors.New("call result has no variant set")
	errEmptyValueRef   = errors.New("executed value has no variant set")
	errEmptyCanon      = errors.New("canon result has no variant set")
)

// Trace is an ordered sequence of executed states.
type Trace []ExecutedState

func (t Trace) String() string {
	parts := make([]string, len(t))
	for i, st := range t {
		parts[i] = fmt.Sprintf("%d: %s", i, st)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Clone returns a shallow copy of the trace slice.
func (t Trace) Clone() Trace {
	cp := make(Trace, len(t))
	copy(cp, t)
	return cp
}

type stateJSON struct {
	Par   *[2]int    `json:"par,omitempty"`
	Call  *callJSON  `json:"call,omitempty"`
	Ap    *apJSON    `json:"ap,omitempty"`
	Canon *canonJSON `json:"canon,omitempty"`
	Fold  *foldJSON  `json:"fold,omitempty"`
}

type callJSON struct {
	Executed *valueRefJSON `json:"executed,omitempty"`
	SentBy   *Sender       `json:"sent_by,omitempty"`
	Failed   *CallFailure  `json:"failed,omitempty"`
}

type valueRefJSON struct {
	Scalar *values.CID `json:"scalar,omitempty"`
	Stream *streamJSON `json:"stream,omitempty"`
	Unused *values.CID `json:"unused,omitempty"`
}

type streamJSON struct {
	CID        values.CID `json:"cid"`
	Generation int        `json:"generation"`
}

type apJSON struct {
	Gens []int `json:"gens"`
}

type canonJSON struct {
	CID    *values.CID `json:"cid,omitempty"`
	SentBy *string     `json:"sent_by,omitempty"`
}

type foldJSON struct {
	Lore FoldLore `json:"lore"`
}

func (t Trace) MarshalJSON() ([]byte, error) {
	out := make([]stateJSON, len(t))
	for i, st := range t {
		encoded, err := encodeState(st)
		if err != nil {
			return nil, fmt.Errorf("state %d: %w", i, err)
		}
		out[i] = encoded
	}
	return json.Marshal(out)
}

func (t *Trace) UnmarshalJSON(b []byte) error {
	var raw []stateJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	decoded := make(Trace, len(raw))
	for i, st := range raw {
		state, err := decodeState(st)
		if err != nil {
			return fmt.Errorf("state %d: %w", i, err)
		}
		decoded[i] = state
	}
	*t = decoded
	return nil
}

func encodeState(st ExecutedState) (stateJSON, error) {
	switch s := st.(type) {
	case ParState:
		return stateJSON{Par: &[2]int{s.LeftSize, s.RightSize}}, nil
	case CallState:
		c := &callJSON{}
		switch s.Result.Kind {
		case CallExecuted:
			ref := &valueRefJSON{}
			v := s.Result.Value
			switch v.Kind {
			case ScalarValue:
				ref.Scalar = &v.CID
			case StreamValue:
				ref.Stream = &streamJSON{CID: v.CID, Generation: v.Generation}
			default:
				ref.Unused = &v.CID
			}
			c.Executed = ref
		case CallRequestSentBy:
			sender := s.Result.Sender
			c.SentBy = &sender
		default:
			failure := s.Result.Failure
			c.Failed = &failure
		}
		return stateJSON{Call: c}, nil
	case ApState:
		gens := s.Generations
		if gens == nil {
			gens = []int{}
		}
		return stateJSON{Ap: &apJSON{Gens: gens}}, nil
	case CanonState:
		if s.Result.Kind == CanonExecuted {
			c := s.Result.CID
			return stateJSON{Canon: &canonJSON{CID: &c}}, nil
		}
		peer := s.Result.SentBy
		return stateJSON{Canon: &canonJSON{SentBy: &peer}}, nil
	case FoldState:
		lore := s.Lore
		if lore == nil {
			lore = FoldLore{}
		}
		return stateJSON{Fold: &foldJSON{Lore: lore}}, nil
	default:
		return stateJSON{}, fmt.Errorf("unknown executed state %T", st)
	}
}

func decodeState(st stateJSON) (ExecutedState, error) {
	set := 0
	for _, present := range []bool{st.Par != nil, st.Call != nil, st.Ap != nil, st.Canon != nil, st.Fold != nil} {
		if present {
			set++
		}
	}
	switch set {
	case 0:
		return nil, errEmptyState
	case 1:
	default:
		return nil, errAmbiguousState
	}

	switch {
	case st.Par != nil:
		if st.Par[0] < 0 || st.Par[1] < 0 {
			return nil, errNegativeSize
		}
		return ParState{LeftSize: st.Par[0], RightSize: st.Par[1]}, nil
	case st.Call != nil:
		result, err := decodeCall(st.Call)
		if err != nil {
			return nil, err
		}
		return CallState{Result: result}, nil
	case st.Ap != nil:
		for _, g := range st.Ap.Gens {
			if g < 0 {
				return nil, errNegativeSize
			}
		}
		return ApState{Generations: st.Ap.Gens}, nil
	case st.Canon != nil:
		switch {
		case st.Canon.CID != nil && st.Canon.SentBy == nil:
			return CanonState{Result: CanonResult{Kind: CanonExecuted, CID: *st.Canon.CID}}, nil
		case st.Canon.SentBy != nil && st.Canon.CID == nil:
			return CanonState{Result: CanonResult{Kind: CanonRequestSentBy, SentBy: *st.Canon.SentBy}}, nil
		default:
			return nil, errEmptyCanon
		}
	default:
		for _, lore := range st.Fold.Lore {
			for _, desc := range lore.SubTraceDescs {
				if desc.BeginPos < 0 || desc.SubTraceLen < 0 {
					return nil, errNegativeSize
				}
			}
		}
		return FoldState{Lore: st.Fold.Lore}, nil
	}
}

func decodeCall(c *callJSON) (CallResult, error) {
	switch {
	case c.Executed != nil && c.SentBy == nil && c.Failed == nil:
		ref := c.Executed
		switch {
		case ref.Scalar != nil:
			return Executed(ScalarRef(*ref.Scalar)), nil
		case ref.Stream != nil:
			if ref.Stream.Generation < 0 {
				return CallResult{}, errNegativeSize
			}
			return Executed(StreamRef(ref.Stream.CID, ref.Stream.Generation)), nil
		case ref.Unused != nil:
			return Executed(UnusedRef(*ref.Unused)), nil
		default:
			return CallResult{}, errEmptyValueRef
		}
	case c.SentBy != nil && c.Executed == nil && c.Failed == nil:
		return CallResult{Kind: CallRequestSentBy, Sender: *c.SentBy}, nil
	case c.Failed != nil && c.Executed == nil && c.SentBy == nil:
		return CallResult{Kind: CallFailed, Failure: *c.Failed}, nil
	default:
		return CallResult{}, errEmptyCallResult
	}
}
