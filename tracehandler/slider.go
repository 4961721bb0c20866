// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package tracehandler

import (
	"fmt"

	"github.com/fluencelabs/aquavm-sub004/trace"
)

// TraceSlider is a cursor over a window of a trace. It yields the states of
// the window in order and reports nothing once the window is exhausted.
type TraceSlider struct {
	trace       trace.Trace
	position    int
	subtraceLen int
	seen        int
}

func NewTraceSlider(t trace.Trace) *TraceSlider {
	return &TraceSlider{trace: t, subtraceLen: len(t)}
}

// NextState returns the next state of the window and its position.
func (s *TraceSlider) NextState() (trace.ExecutedState, int, bool) {
	if s.seen >= s.subtraceLen {
		return nil, 0, false
	}
	pos := s.position
	st := s.trace[pos]
	s.position++
	s.seen++
	return st, pos, true
}

// SetPositionAndLen moves the window to [pos, pos+length).
func (s *TraceSlider) SetPositionAndLen(pos, length int) error {
	if pos < 0 || length < 0 || pos+length > len(s.trace) {
		return &KeeperError{Msg: fmt.Sprintf(
			"window [%d, +%d) is outside of the trace of length %d", pos, length, len(s.trace))}
	}
	s.position = pos
	s.subtraceLen = length
	s.seen = 0
	return nil
}

// SetSubtraceLen shrinks or grows the window from the current position.
func (s *TraceSlider) SetSubtraceLen(length int) error {
	return s.SetPositionAndLen(s.position, length)
}

func (s *TraceSlider) Position() int     { return s.position }
func (s *TraceSlider) SubtraceLen() int  { return s.subtraceLen }
func (s *TraceSlider) SeenElements() int { return s.seen }
func (s *TraceSlider) TraceLen() int     { return len(s.trace) }

// RemainingLen is the number of states left in the window.
func (s *TraceSlider) RemainingLen() int { return s.subtraceLen - s.seen }
