// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"encoding/json"
	"strconv"

	"github.com/fluencelabs/aquavm-sub004/air"
	"github.com/fluencelabs/aquavm-sub004/values"
)

// Error object fields.
const (
	ErrorCodeField   = "error_code"
	MessageField     = "message"
	InstructionField = "instruction"
	PeerIDField      = "peer_id"
)

// NoErrorObject is what %last_error% and :error: hold before any error.
func NoErrorObject() map[string]interface{} {
	return map[string]interface{}{
		ErrorCodeField:   json.Number("0"),
		MessageField:     "",
		InstructionField: "",
		PeerIDField:      "",
	}
}

func errorObject(err *CatchableError, instr air.Instruction, peerID string) map[string]interface{} {
	if err.ErrorObject != nil {
		obj := make(map[string]interface{}, len(err.ErrorObject)+2)
		for k, v := range err.ErrorObject {
			obj[k] = v
		}
		if _, ok := obj[InstructionField]; !ok {
			obj[InstructionField] = instr.String()
		}
		if _, ok := obj[PeerIDField]; !ok {
			obj[PeerIDField] = peerID
		}
		return obj
	}
	msg := err.Msg
	if msg == "" {
		msg = err.Error()
	}
	return map[string]interface{}{
		ErrorCodeField:   json.Number(strconv.FormatInt(err.ErrorCode(), 10)),
		MessageField:     msg,
		InstructionField: instr.String(),
		PeerIDField:      peerID,
	}
}

// ErrorDescriptor holds the last error seen by the execution. Once set it is
// latched, so an error bubbling up the tree keeps the object of the
// instruction that raised it, until the latch is released.
type ErrorDescriptor struct {
	object    map[string]interface{}
	tetraplet *values.SecurityTetraplet
	canBeSet  bool
}

func newErrorDescriptor() *ErrorDescriptor {
	return &ErrorDescriptor{canBeSet: true}
}

// trySet records [obj] if the latch allows it.
func (d *ErrorDescriptor) trySet(obj map[string]interface{}, tetraplet *values.SecurityTetraplet) bool {
	if !d.canBeSet {
		return false
	}
	d.object, d.tetraplet, d.canBeSet = obj, tetraplet, false
	return true
}

// enable releases the latch.
func (d *ErrorDescriptor) enable() { d.canBeSet = true }

func (d *ErrorDescriptor) clear() {
	d.object, d.tetraplet = nil, nil
}

// IsSet reports whether an error was recorded.
func (d *ErrorDescriptor) IsSet() bool { return d.object != nil }

// Object returns the recorded error object.
func (d *ErrorDescriptor) Object() map[string]interface{} {
	if d.object == nil {
		return NoErrorObject()
	}
	return d.object
}

func (d *ErrorDescriptor) aggregate(initPeerID string) *ValueAggregate {
	tetraplet := d.tetraplet
	if tetraplet == nil {
		tetraplet = values.LiteralTetraplet(initPeerID)
	}
	return &ValueAggregate{
		Result:     d.Object(),
		Tetraplet:  tetraplet,
		Provenance: values.ErrorProvenance(),
		TracePos:   -1,
	}
}
