// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluencelabs/aquavm-sub004/air"
	"github.com/fluencelabs/aquavm-sub004/interpreterdata"
	"github.com/fluencelabs/aquavm-sub004/trace"
	"github.com/fluencelabs/aquavm-sub004/tracehandler"
)

const testPeer = "P"

type testRun struct {
	ctx *ExecutionCtx
	h   *tracehandler.TraceHandler
	err error
}

func execScript(t *testing.T, script string, results CallResults) *testRun {
	t.Helper()

	instr, err := air.Parse(script)
	require.NoError(t, err)

	empty := interpreterdata.New()
	ctx := NewExecutionCtx(empty, empty, results, RunParameters{
		InitPeerID:    "init",
		CurrentPeerID: testPeer,
		Timestamp:     1337,
		TTL:           42,
		ParticleID:    "particle",
	})
	h := tracehandler.NewTraceHandler(empty.Trace, empty.Trace, testPeer)
	return &testRun{ctx: ctx, h: h, err: Execute(instr, ctx, h)}
}

func (r *testRun) scalar(t *testing.T, name string) interface{} {
	t.Helper()
	agg, err := r.ctx.Scalar(name)
	require.NoError(t, err)
	return agg.Result
}

func TestCallProducesRequest(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(call "P" ("svc" "fn") ["arg" %init_peer_id%] out)`, nil)
	require.NoError(run.err)
	require.False(run.ctx.SubgraphComplete)

	require.Len(run.ctx.CallRequests, 1)
	req := run.ctx.CallRequests[1]
	require.Equal("svc", req.ServiceID)
	require.Equal("fn", req.FunctionName)
	require.Equal([]interface{}{"arg", "init"}, req.Arguments)
	require.Len(req.Tetraplets, 2)
	require.Equal("init", req.Tetraplets[1][0].PeerPK)

	require.Equal(trace.Trace{trace.Call(trace.RequestSentByWithCallID(testPeer, 1))}, run.h.ResultTrace())
}

func TestCallRemotePeer(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(seq (call "R" ("svc" "fn") [] out) (call "Q" ("svc" "fn") [] out2))`, nil)
	require.NoError(run.err)
	require.Equal([]string{"R"}, run.ctx.NextPeerPKs())
	require.Equal(trace.Trace{trace.Call(trace.RequestSentBy(testPeer))}, run.h.ResultTrace())
}

func TestCallResultAndLambda(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(call "P" ("svc" "fn") [] obj)
			(seq
				(ap obj.$.a.[1] second)
				(seq
					(ap obj.$.a arr)
					(ap arr.length len))))`
	run := execScript(t, script, CallResults{1: {Result: `{"a": [1, 2, 3]}`}})
	require.NoError(run.err)
	require.True(run.ctx.SubgraphComplete)

	require.Equal(json.Number("2"), run.scalar(t, "second"))
	require.Equal(json.Number("3"), run.scalar(t, "len"))

	agg, err := run.ctx.Scalar("second")
	require.NoError(err)
	require.Equal("svc", agg.Tetraplet.ServiceID)
	require.Equal(".$.a.[1]", agg.Tetraplet.LambdaPath)
}

func TestCallServiceError(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(call "P" ("svc" "fn") [] out)`, CallResults{1: {RetCode: 5, Result: `"broken"`}})
	require.Error(run.err)

	ce, ok := AsCatchable(run.err)
	require.True(ok)
	require.Equal(LocalServiceError, ce.Kind)
	require.Equal(int64(5), ce.ErrorCode())
	require.Equal(trace.Trace{trace.Call(trace.Failed(5, "broken"))}, run.h.ResultTrace())

	obj := run.ctx.LastError.Object()
	require.Equal(json.Number("5"), obj[ErrorCodeField])
	require.Equal("broken", obj[MessageField])
	require.Equal(testPeer, obj[PeerIDField])
}

func TestCallMalformedResult(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(xor (call "P" ("svc" "fn") [] out) (null))`, CallResults{1: {Result: `{not json`}})
	require.Error(run.err)
	require.False(IsCatchable(run.err))
	require.Equal((&UncatchableError{Kind: CallServiceResultDeError}).Code(), ErrorCode(run.err))
	require.Empty(run.ctx.CallRequests)
}

func TestXorRunsRightOnCatchable(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(xor (match "a" "b" (ap "left" r)) (ap "right" r))`, nil)
	require.NoError(run.err)
	require.Equal("right", run.scalar(t, "r"))
	require.False(run.ctx.LastError.IsSet(), "match failures don't touch %last_error%")
	require.False(run.ctx.Error.IsSet(), ":error: is cleared once xor handled it")
}

func TestMismatch(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(mismatch "a" "b" (ap %timestamp% ts))`, nil)
	require.NoError(run.err)
	require.Equal(json.Number("1337"), run.scalar(t, "ts"))

	run = execScript(t, `(mismatch "a" "a" (null))`, nil)
	ce, ok := AsCatchable(run.err)
	require.True(ok)
	require.Equal(MismatchValuesEqual, ce.Kind)
}

func TestParContinuesAfterError(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(par (fail 3 "left") (ap "ok" r))`, nil)
	require.NoError(run.err)
	require.Equal("ok", run.scalar(t, "r"))
	require.True(run.ctx.LastError.IsSet())

	run = execScript(t, `(par (fail 3 "left") (fail 4 "right"))`, nil)
	require.Error(run.err)
	require.Equal(int64(4), run.err.(*CatchableError).ErrorCode())
	require.Equal(trace.Trace{trace.Par(0, 0)}, run.h.ResultTrace())
}

func TestFail(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		results  CallResults
		kind     CatchableErrorKind
		code     int64
		noErrors bool
	}{
		{
			name:   "literal",
			script: `(fail 42 "boom")`,
			kind:   UserError,
			code:   42,
		},
		{
			name:   "zero code",
			script: `(fail 0 "boom")`,
			kind:   InvalidErrorObject,
			code:   (&CatchableError{Kind: InvalidErrorObject}).Code(),
		},
		{
			name:    "scalar",
			script:  `(seq (call "P" ("svc" "fn") [] e) (fail e))`,
			results: CallResults{1: {Result: `{"error_code": 7, "message": "custom"}`}},
			kind:    UserError,
			code:    7,
		},
		{
			name:    "scalar without message",
			script:  `(seq (call "P" ("svc" "fn") [] e) (fail e))`,
			results: CallResults{1: {Result: `{"error_code": 7}`}},
			kind:    InvalidErrorObject,
			code:    (&CatchableError{Kind: InvalidErrorObject}).Code(),
		},
		{
			name:   "rethrow last error",
			script: `(xor (fail 9 "first") (fail %last_error%))`,
			kind:   UserError,
			code:   9,
		},
		{
			name:     "rethrow without error",
			script:   `(fail :error:)`,
			noErrors: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert := assert.New(t)

			run := execScript(t, test.script, test.results)
			if test.noErrors {
				assert.NoError(run.err)
				return
			}
			ce, ok := AsCatchable(run.err)
			if !assert.True(ok, "unexpected error %v", run.err) {
				return
			}
			assert.Equal(test.kind, ce.Kind)
			assert.Equal(test.code, ce.ErrorCode())
		})
	}
}

func TestScalarShadowingAtGlobalDepth(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(seq (ap "a" x) (ap "b" x))`, nil)
	require.Error(run.err)
	require.False(IsCatchable(run.err))

	run = execScript(t, `(seq (ap "a" x) (new x (seq (ap "b" x) (ap x inner))))`, nil)
	require.NoError(run.err)
	require.Equal("a", run.scalar(t, "x"))
	require.Equal("b", run.scalar(t, "inner"))
}

func TestApStreamAndCanon(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(seq
				(ap "a" $s)
				(ap "b" $s))
			(seq
				(canon "P" $s #c)
				(ap #c.length n)))`
	run := execScript(t, script, nil)
	require.NoError(run.err)
	require.Equal(json.Number("2"), run.scalar(t, "n"))

	cs, err := run.ctx.Canon("#c")
	require.NoError(err)
	require.Equal([]interface{}{"a", "b"}, cs.AsArray())

	resultTrace := run.h.ResultTrace()
	require.Len(resultTrace, 3)
	require.Equal(trace.Ap(0), resultTrace[0])
	require.Equal(trace.Ap(0), resultTrace[1])
	require.IsType(trace.CanonState{}, resultTrace[2])

	counts, err := run.ctx.Streams.CompactifyGlobal(run.h)
	require.NoError(err)
	require.Equal(map[string]int{"$s": 1}, counts)
}

func TestCanonOnRemotePeer(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(seq (ap "a" $s) (canon "R" $s #c))`, nil)
	require.NoError(run.err)
	require.False(run.ctx.SubgraphComplete)
	require.Equal([]string{"R"}, run.ctx.NextPeerPKs())
	require.Equal(
		trace.CanonState{Result: trace.CanonResult{Kind: trace.CanonRequestSentBy, SentBy: testPeer}},
		run.h.ResultTrace()[1],
	)
}

func TestFoldScalar(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(call "P" ("svc" "fn") [] xs)
			(fold xs x
				(seq
					(ap x $out)
					(next x))))`
	run := execScript(t, script, CallResults{1: {Result: `["a", "b", "c"]`}})
	require.NoError(run.err)

	values := run.ctx.Streams.Get("$out").Values()
	require.Len(values, 3)
	for i, expected := range []string{"a", "b", "c"} {
		require.Equal(expected, values[i].Result)
	}

	resultTrace := run.h.ResultTrace()
	require.Len(resultTrace, 5)
	fold, ok := resultTrace[1].(trace.FoldState)
	require.True(ok)
	require.Len(fold.Lore, 3)
	require.NoError(trace.Validate(resultTrace))
}

func TestFoldScalarEmptyRunsLast(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(fold [] x (next x) (ap "done" r))`, nil)
	require.NoError(run.err)
	require.Equal("done", run.scalar(t, "r"))
	require.Empty(run.h.ResultTrace())
}

func TestFoldOverNonArray(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(seq (call "P" ("svc" "fn") [] xs) (fold xs x (next x)))`, CallResults{1: {Result: `"text"`}})
	ce, ok := AsCatchable(run.err)
	require.True(ok)
	require.Equal(FoldIteratesOverNonArray, ce.Kind)
}

func TestNestedFoldsWithSameIterator(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(call "P" ("svc" "fn") [] xs)
			(fold xs x
				(fold xs x
					(next x))))`
	run := execScript(t, script, CallResults{1: {Result: `[1]`}})
	require.Error(run.err)
	require.False(IsCatchable(run.err))
}

func TestFoldStream(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(seq
				(ap 1 $in)
				(ap 2 $in))
			(fold $in x
				(seq
					(ap x $out)
					(next x))))`
	run := execScript(t, script, nil)
	require.NoError(run.err)

	out := run.ctx.Streams.Get("$out").Values()
	require.Len(out, 2)
	require.Equal(json.Number("1"), out[0].Result)
	require.Equal(json.Number("2"), out[1].Result)
	require.NoError(trace.Validate(run.h.ResultTrace()))
}

func TestFoldStreamSwallowsIterationErrors(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(ap "v" $in)
			(fold $in x
				(seq
					(fail 1 "inside")
					(next x))))`
	run := execScript(t, script, nil)
	require.NoError(run.err)
	require.True(run.ctx.LastError.IsSet())
}

func TestJoinOnMissingVariable(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(par (call "P" ("svc" "fn") [missing] out) (ap missing.$.a r))`, nil)
	require.NoError(run.err)
	require.False(run.ctx.SubgraphComplete)
	require.Empty(run.ctx.CallRequests)
	require.Equal(trace.Call(trace.RequestSentBy(testPeer)), run.h.ResultTrace()[1])
}

func TestNeverIsIncomplete(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(seq (never) (ap "unreachable" r))`, nil)
	require.NoError(run.err)
	require.False(run.ctx.SubgraphComplete)
	_, err := run.ctx.Scalar("r")
	require.Error(err)
}

func TestRestrictedStreamCounts(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(new $s (seq (ap "a" $s) (ap "b" $s)))`, nil)
	require.NoError(run.err)

	counts := run.ctx.Streams.RestrictedCounts()
	require.Len(counts["$s"], 1)
	for _, gens := range counts["$s"] {
		require.Equal([]int{1}, gens)
	}
	require.Empty(run.ctx.Streams.global)
}

func TestInstructionCounts(t *testing.T) {
	require := require.New(t)

	run := execScript(t, `(seq (null) (seq (null) (ap "a" x)))`, nil)
	require.NoError(run.err)
	require.Equal(map[string]int{"seq": 2, "null": 2, "ap": 1}, run.ctx.Instructions.Counts)
}
