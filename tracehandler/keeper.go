// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package tracehandler

import (
	"fmt"

	"github.com/fluencelabs/aquavm-sub004/trace"
)

// SourcePos is an optional position in one of the input traces.
type SourcePos struct {
	Pos int
	Ok  bool
}

func At(pos int) SourcePos { return SourcePos{Pos: pos, Ok: true} }

// DataPositions are the positions in the previous and current traces that a
// result state was merged from.
type DataPositions struct {
	Prev    SourcePos
	Current SourcePos
}

// DataKeeper owns the two input traces, their sliders and the result trace.
type DataKeeper struct {
	PrevSlider    *TraceSlider
	CurrentSlider *TraceSlider

	result      trace.Trace
	newToOldPos map[int]DataPositions

	// activeFolds is the number of folds whose lores may move the sliders.
	activeFolds int
	// loreEpoch counts the fold subtraces applied to the sliders so far.
	loreEpoch int
	// prevLoreEnd and currentLoreEnd are the ends of the fold subtraces
	// applied last.
	prevLoreEnd    int
	currentLoreEnd int
}

func NewDataKeeper(prev, current trace.Trace) *DataKeeper {
	return &DataKeeper{
		PrevSlider:    NewTraceSlider(prev),
		CurrentSlider: NewTraceSlider(current),
		result:        make(trace.Trace, 0, max(len(prev), len(current))),
		newToOldPos:   map[int]DataPositions{},
	}
}

// ResultLen is the number of states written to the result trace.
func (k *DataKeeper) ResultLen() int { return len(k.result) }

// AppendState appends [st] to the result trace and remembers where it was
// merged from.
func (k *DataKeeper) AppendState(st trace.ExecutedState, positions DataPositions) {
	if positions.Prev.Ok || positions.Current.Ok {
		k.newToOldPos[len(k.result)] = positions
	}
	k.result = append(k.result, st)
}

// UpdateState overwrites the result state at [pos].
func (k *DataKeeper) UpdateState(pos int, st trace.ExecutedState) error {
	if pos < 0 || pos >= len(k.result) {
		return &KeeperError{Msg: fmt.Sprintf("position %d is outside of the result trace of length %d", pos, len(k.result))}
	}
	k.result[pos] = st
	return nil
}

// StateAt returns the result state at [pos].
func (k *DataKeeper) StateAt(pos int) (trace.ExecutedState, error) {
	if pos < 0 || pos >= len(k.result) {
		return nil, &KeeperError{Msg: fmt.Sprintf("position %d is outside of the result trace of length %d", pos, len(k.result))}
	}
	return k.result[pos], nil
}

// OldPositions returns the input positions a result state came from.
func (k *DataKeeper) OldPositions(resultPos int) (DataPositions, bool) {
	p, ok := k.newToOldPos[resultPos]
	return p, ok
}

func (k *DataKeeper) ResultTrace() trace.Trace { return k.result }
