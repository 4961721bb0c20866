// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package trace

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceJSONRoundTrip(t *testing.T) {
	require := require.New(t)

	original := Trace{
		Par(1, 1),
		Call(Executed(ScalarRef("bafy-scalar"))),
		Call(RequestSentByWithCallID("peer", 3)),
		Call(Executed(StreamRef("bafy-stream", 2))),
		Call(Executed(UnusedRef("bafy-unused"))),
		Call(Failed(1, "error")),
		Call(RequestSentBy("other")),
		Ap(0),
		Ap(),
		CanonExecutedState("bafy-canon"),
		CanonSentBy("remote"),
		Fold(SubTraceLore(7, 12, 0, 12, 0)),
	}

	raw, err := json.Marshal(original)
	require.NoError(err)

	var decoded Trace
	require.NoError(json.Unmarshal(raw, &decoded))
	require.Equal(len(original), len(decoded))
	for i := range original {
		require.Equal(original[i].String(), decoded[i].String(), "state %d", i)
	}
}

func TestTraceJSONShape(t *testing.T) {
	assert := assert.New(t)

	raw, err := json.Marshal(Trace{Par(1, 0), Call(Failed(2, "boom")), Ap()})
	assert.NoError(err)
	assert.JSONEq(`[{"par":[1,0]},{"call":{"failed":{"ret_code":2,"message":"boom"}}},{"ap":{"gens":[]}}]`, string(raw))
}

func TestTraceJSONRejectsMalformedStates(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: `[{}]`},
		{name: "ambiguous", raw: `[{"par":[0,0],"ap":{"gens":[]}}]`},
		{name: "negative par", raw: `[{"par":[-1,0]}]`},
		{name: "empty call", raw: `[{"call":{}}]`},
		{name: "empty executed", raw: `[{"call":{"executed":{}}}]`},
		{name: "empty canon", raw: `[{"canon":{}}]`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var decoded Trace
			assert.Error(t, json.Unmarshal([]byte(test.raw), &decoded))
		})
	}
}

func TestValidate(t *testing.T) {
	assert := assert.New(t)

	valid := Trace{
		Par(1, 1),
		Call(Executed(ScalarRef("a"))),
		Call(RequestSentBy("peer")),
		Fold(SubTraceLore(0, 4, 1, 5, 0), SubTraceLore(1, 5, 1, 6, 0)),
		Call(Executed(ScalarRef("b"))),
		Call(Executed(ScalarRef("c"))),
	}
	assert.NoError(Validate(valid))

	assert.Error(Validate(Trace{Par(2, 0), Ap(0)}))
	assert.Error(Validate(Trace{Fold(SubTraceLore(0, 1, 1, 2, 0), SubTraceLore(0, 2, 1, 3, 0)), Ap(0), Ap(0)}))
	assert.Error(Validate(Trace{Fold(SubTraceLore(0, 0, 1, 1, 0)), Ap(0)}))
}

func TestValidateParSpanningFoldIterations(t *testing.T) {
	assert := assert.New(t)

	// (fold xs i (par (call i ...) (next i))) over two values: the par of
	// the first iteration holds the whole second iteration.
	spanning := Trace{
		Fold(SubTraceLore(0, 1, 2, 5, 0), SubTraceLore(1, 3, 2, 5, 0)),
		Par(1, 2),
		Call(RequestSentBy("a")),
		Par(1, 0),
		Call(RequestSentBy("b")),
	}
	assert.NoError(Validate(spanning))

	overflowing := spanning.Clone()
	overflowing[1] = Par(1, 3)
	assert.Error(Validate(overflowing))
}
