// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package interpreter_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluencelabs/aquavm-sub004/execution"
	"github.com/fluencelabs/aquavm-sub004/interpreter"
	. "github.com/fluencelabs/aquavm-sub004/interpreter/testutils"
	"github.com/fluencelabs/aquavm-sub004/signatures"
	"github.com/fluencelabs/aquavm-sub004/trace"
)

func TestSeqParCall(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(par
				(call "P" ("loc" "f") [] r1)
				(call "R" ("svc" "fn") [] g))
			(call "P" ("loc" "f") [] r2))`

	runner := NewTestRunner("P", UnitCallService("test"))
	outcome, err := runner.Call(script, nil)
	require.NoError(err)
	require.True(outcome.IsSuccess(), outcome.ErrorMessage)

	require.Equal([]string{
		"par(1, 1)",
		`executed("test")`,
		"sent_by(P)",
		`executed("test")`,
	}, DescribeTrace(outcome.Data))
	require.Equal([]string{"R"}, outcome.NextPeerPKs)
	require.Equal("{}", string(outcome.CallRequests))
}

func TestXorCatchesServiceFailure(t *testing.T) {
	require := require.New(t)

	script := `(xor (call "P" ("s1" "f") [] v) (call "P" ("s2" "f") [] v))`
	runner := NewTestRunner("P", ServiceMap(map[string]CallService{
		"s1": SequenceService(Err(1, "error")),
		"s2": UnitCallService("ok"),
	}))

	outcome, err := runner.Call(script, nil)
	require.NoError(err)
	require.Equal(int64(0), outcome.RetCode, outcome.ErrorMessage)
	require.Equal([]string{
		`failed(1, "error")`,
		`executed("ok")`,
	}, DescribeTrace(outcome.Data))
}

func TestFoldOverScalarArray(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(call "P" ("set" "a") [] xs)
			(fold xs i
				(seq
					(call "P" ("use" "u") [i] u)
					(next i))))`
	runner := NewTestRunner("P", ServiceMap(map[string]CallService{
		"set": UnitCallService([]interface{}{1, 2, 3}),
		"use": EchoCallService(),
	}))

	outcome, err := runner.Call(script, nil)
	require.NoError(err)
	require.True(outcome.IsSuccess(), outcome.ErrorMessage)

	described := DescribeTrace(outcome.Data)
	require.Len(described, 5)
	require.Equal(`executed([1,2,3])`, described[0])
	require.Equal([]string{"executed(1)", "executed(2)", "executed(3)"}, described[2:])

	data := ParseData(outcome.Data)
	fold, ok := data.Trace[1].(trace.FoldState)
	require.True(ok, "expected a fold state, found %s", data.Trace[1])
	require.Len(fold.Lore, 3)
	for i, lore := range fold.Lore {
		require.Equal(i, lore.ValuePos)
		require.Equal(2+i, lore.SubTraceDescs[0].BeginPos)
		require.Equal(1, lore.SubTraceDescs[0].SubTraceLen)
		require.Equal(0, lore.SubTraceDescs[1].SubTraceLen)
	}
	require.NoError(trace.Validate(data.Trace))
}

func TestParParWithRemote(t *testing.T) {
	require := require.New(t)

	script := `
		(par
			(par
				(call "P" ("loc" "f") [] a)
				(call "R" ("svc" "fn") [] g))
			(call "P" ("loc" "f") [] b))`

	runner := NewTestRunner("P", UnitCallService("test"))
	outcome, err := runner.Call(script, nil)
	require.NoError(err)
	require.True(outcome.IsSuccess(), outcome.ErrorMessage)

	require.Equal([]string{
		"par(3, 1)",
		"par(1, 1)",
		`executed("test")`,
		"sent_by(P)",
		`executed("test")`,
	}, DescribeTrace(outcome.Data))
	require.Equal([]string{"R"}, outcome.NextPeerPKs)
}

func TestDataMergeConvergence(t *testing.T) {
	require := require.New(t)

	script := `
		(par
			(call "A" ("neighborhood" "get") [] a)
			(call "B" ("neighborhood" "get") [] b))`
	neighborhood := UnitCallService([]string{"A", "B"})

	peerA := NewTestRunner("A", neighborhood)
	outcomeA, err := peerA.Call(script, nil)
	require.NoError(err)
	require.Equal([]string{"B"}, outcomeA.NextPeerPKs)

	peerB := NewTestRunner("B", neighborhood)
	outcomeB, err := peerB.Call(script, nil)
	require.NoError(err)
	require.Equal([]string{"A"}, outcomeB.NextPeerPKs)

	peerC := NewTestRunner("C", neighborhood)
	ab := peerC.Invoke(script, outcomeA.Data, outcomeB.Data, nil)
	ba := peerC.Invoke(script, outcomeB.Data, outcomeA.Data, nil)
	require.True(ab.IsSuccess(), ab.ErrorMessage)
	require.True(ba.IsSuccess(), ba.ErrorMessage)

	expected := []string{
		"par(1, 1)",
		`executed(["A","B"])`,
		`executed(["A","B"])`,
	}
	require.Equal(expected, DescribeTrace(ab.Data))
	require.Equal(expected, DescribeTrace(ba.Data))
	require.Equal(ParseData(ab.Data).Trace, ParseData(ba.Data).Trace)
	require.Empty(ab.NextPeerPKs)
}

func TestStreamDataMergeConvergence(t *testing.T) {
	require := require.New(t)

	script := `
		(par
			(call "A" ("neighborhood" "get") [] $nodes)
			(call "B" ("neighborhood" "get") [] $nodes))`
	neighborhood := UnitCallService([]string{"A", "B"})

	outcomeA, err := NewTestRunner("A", neighborhood).Call(script, nil)
	require.NoError(err)
	outcomeB, err := NewTestRunner("B", neighborhood).Call(script, nil)
	require.NoError(err)

	peerC := NewTestRunner("C", neighborhood)
	ab := peerC.Invoke(script, outcomeA.Data, outcomeB.Data, nil)
	ba := peerC.Invoke(script, outcomeB.Data, outcomeA.Data, nil)
	require.True(ab.IsSuccess(), ab.ErrorMessage)
	require.True(ba.IsSuccess(), ba.ErrorMessage)

	// previous generations precede current ones, so the order of the inputs
	// decides the generation of each value but not the values
	require.Equal([]string{
		"par(1, 1)",
		`executed(["A","B"] gen 0)`,
		`executed(["A","B"] gen 1)`,
	}, DescribeTrace(ab.Data))
	require.Equal([]string{
		"par(1, 1)",
		`executed(["A","B"] gen 1)`,
		`executed(["A","B"] gen 0)`,
	}, DescribeTrace(ba.Data))
	for _, outcome := range []*interpreter.Outcome{ab, ba} {
		data := ParseData(outcome.Data)
		require.Equal(2, data.GlobalStreams["$nodes"])
		require.NoError(data.CidInfo.Verify())
	}
	require.Empty(ab.NextPeerPKs)
	require.Empty(ba.NextPeerPKs)
}

func TestRecursiveStreamFoldWithEarlyStop(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(seq
				(call "P" ("seed" "get") [] $stream)
				(fold $stream i
					(seq
						(call "P" ("c" "g") [] v)
						(xor
							(match v "stop" (null))
							(seq
								(ap v $stream)
								(next i))))))
			(seq
				(canon "P" $stream #contents)
				(call "P" ("op" "identity") [#contents] result)))`

	iterations := 0
	steps := SequenceService(Ok("go"), Ok("go"), Ok("stop"))
	runner := NewTestRunner("P", ServiceMap(map[string]CallService{
		"seed": UnitCallService("seed"),
		"c": func(id uint32, req execution.CallRequestParams) execution.CallServiceResult {
			iterations++
			return steps(id, req)
		},
		"op": EchoCallService(),
	}))

	outcome, err := runner.Call(script, nil)
	require.NoError(err)
	require.True(outcome.IsSuccess(), outcome.ErrorMessage)
	require.Equal(3, iterations)

	data := ParseData(outcome.Data)
	require.Equal(3, data.GlobalStreams["$stream"])

	described := DescribeTrace(outcome.Data)
	require.Equal(`executed(["seed","go","go"])`, described[len(described)-1])
	require.Equal(`canon["seed", "go", "go"]`, described[len(described)-2])
	require.NoError(trace.Validate(data.Trace))
}

func TestDeterminism(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(call "P" ("set" "a") [] xs)
			(par
				(fold xs i
					(par
						(call "P" ("use" "u") [i] $results)
						(next i)))
				(call "R" ("svc" "fn") [] g)))`
	service := ServiceMap(map[string]CallService{
		"set": UnitCallService([]interface{}{"x", "y"}),
		"use": EchoCallService(),
	})

	first, err := NewTestRunner("P", service).Call(script, nil)
	require.NoError(err)
	require.True(first.IsSuccess(), first.ErrorMessage)

	described := DescribeTrace(first.Data)
	require.Len(described, 8)
	require.Equal(`executed(["x","y"])`, described[0])
	require.Equal("par(5, 1)", described[1])
	require.Equal([]string{
		"par(1, 2)",
		`executed("x" gen 0)`,
		"par(1, 0)",
		`executed("y" gen 0)`,
		"sent_by(P)",
	}, described[3:])
	require.Equal([]string{"R"}, first.NextPeerPKs)
	require.NoError(trace.Validate(ParseData(first.Data).Trace))

	second, err := NewTestRunner("P", service).Call(script, nil)
	require.NoError(err)
	require.Equal(first, second)
}

func TestScalarFoldParNextAcrossPeers(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(call "P" ("set" "a") [] xs)
			(fold xs i
				(par
					(call i ("s" "f") [] $r)
					(next i))))`

	peerP := NewTestRunner("P", ServiceMap(map[string]CallService{
		"set": UnitCallService([]interface{}{"A", "B"}),
	}))
	first, err := peerP.Call(script, nil)
	require.NoError(err)
	require.True(first.IsSuccess(), first.ErrorMessage)
	require.Equal([]string{"A", "B"}, first.NextPeerPKs)

	peerA := NewTestRunner("A", UnitCallService("from A"))
	atA, err := peerA.Call(script, first.Data)
	require.NoError(err)
	require.True(atA.IsSuccess(), atA.ErrorMessage)
	require.Equal(`executed("from A" gen 0)`, DescribeTrace(atA.Data)[3])

	back, err := peerP.Call(script, atA.Data)
	require.NoError(err)
	require.True(back.IsSuccess(), back.ErrorMessage)

	described := DescribeTrace(back.Data)
	require.Len(described, 6)
	require.Equal([]string{
		"par(1, 2)",
		`executed("from A" gen 0)`,
		"par(1, 0)",
		"sent_by(P)",
	}, described[2:])
	require.NoError(trace.Validate(ParseData(back.Data).Trace))
}

func TestStreamFoldParNextAcrossPeers(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(seq
				(ap "A" $peers)
				(ap "B" $peers))
			(fold $peers i
				(par
					(call i ("s" "f") [] $r)
					(next i))))`

	peerP := NewTestRunner("P", UnitCallService("from P"))
	first, err := peerP.Call(script, nil)
	require.NoError(err)
	require.True(first.IsSuccess(), first.ErrorMessage)
	require.Equal([]string{"A", "B"}, first.NextPeerPKs)

	atA, err := NewTestRunner("A", UnitCallService("from A")).Call(script, first.Data)
	require.NoError(err)
	require.True(atA.IsSuccess(), atA.ErrorMessage)

	atB, err := NewTestRunner("B", UnitCallService("from B")).Call(script, atA.Data)
	require.NoError(err)
	require.True(atB.IsSuccess(), atB.ErrorMessage)

	back, err := peerP.Call(script, atB.Data)
	require.NoError(err)
	require.True(back.IsSuccess(), back.ErrorMessage)

	described := DescribeTrace(back.Data)
	require.Len(described, 7)
	require.Equal("par(1, 2)", described[3])
	require.True(strings.HasPrefix(described[4], `executed("from A"`), described[4])
	require.Equal("par(1, 0)", described[5])
	require.True(strings.HasPrefix(described[6], `executed("from B"`), described[6])
	require.NoError(trace.Validate(ParseData(back.Data).Trace))
}

func TestStreamFoldAcrossPeers(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(seq
				(call "P" ("peers" "get") [] $peers)
				(call "Q" ("peers" "get") [] $peers))
			(fold $peers p
				(par
					(call "P" ("use" "u") [p] $out)
					(next p))))`

	peerP := NewTestRunner("P", ServiceMap(map[string]CallService{
		"peers": UnitCallService("a"),
		"use":   EchoCallService(),
	}))
	peerQ := NewTestRunner("Q", UnitCallService("b"))

	first, err := peerP.Call(script, nil)
	require.NoError(err)
	require.True(first.IsSuccess(), first.ErrorMessage)
	require.Equal([]string{"Q"}, first.NextPeerPKs)

	atQ, err := peerQ.Call(script, first.Data)
	require.NoError(err)
	require.True(atQ.IsSuccess(), atQ.ErrorMessage)
	require.Equal([]string{"P"}, atQ.NextPeerPKs)

	final, err := peerP.Call(script, atQ.Data)
	require.NoError(err)
	require.True(final.IsSuccess(), final.ErrorMessage)

	// values of P come first, the fold visits them generation by generation
	described := DescribeTrace(final.Data)
	require.Len(described, 7)
	require.Equal(`executed("a" gen 0)`, described[0])
	require.Equal(`executed("b" gen 1)`, described[1])
	require.Equal([]string{
		"par(1, 0)",
		`executed("a" gen 0)`,
		"par(1, 0)",
		`executed("b" gen 0)`,
	}, described[3:])

	data := ParseData(final.Data)
	require.Equal(2, data.GlobalStreams["$peers"])
	fold, ok := data.Trace[2].(trace.FoldState)
	require.True(ok, "expected a fold state, found %s", data.Trace[2])
	require.Len(fold.Lore, 2)
	require.Equal(0, fold.Lore[0].ValuePos)
	require.Equal(1, fold.Lore[1].ValuePos)

	// replaying the data the peer produced changes nothing
	replayed := peerP.Invoke(script, final.Data, final.Data, nil)
	require.True(replayed.IsSuccess(), replayed.ErrorMessage)
	require.Equal(final.Data, replayed.Data)
	require.Empty(replayed.NextPeerPKs)
}

func TestCidIntegrity(t *testing.T) {
	require := require.New(t)

	script := `
		(seq
			(seq
				(call "P" ("set" "a") [] xs)
				(call "P" ("set" "a") [] $s))
			(seq
				(canon "P" $s #s)
				(call "P" ("set" "a") [])))`
	outcome, err := NewTestRunner("P", UnitCallService([]interface{}{1, "two"})).Call(script, nil)
	require.NoError(err)
	require.True(outcome.IsSuccess(), outcome.ErrorMessage)

	data := ParseData(outcome.Data)
	require.NoError(data.CidInfo.Verify())
	for _, st := range data.Trace {
		switch s := st.(type) {
		case trace.CallState:
			if s.Result.Kind != trace.CallExecuted {
				continue
			}
			result, ok := data.CidInfo.ServiceResultStore.Get(s.Result.Value.CID)
			require.True(ok)
			_, ok = data.CidInfo.ValueStore.Get(result.ValueCID)
			require.True(ok)
			_, ok = data.CidInfo.TetrapletStore.Get(result.TetrapletCID)
			require.True(ok)
		case trace.CanonState:
			result, ok := data.CidInfo.CanonResultStore.Get(s.Result.CID)
			require.True(ok)
			require.Len(result.Values, 1)
			for _, c := range result.Values {
				_, ok := data.CidInfo.CanonElementStore.Get(c)
				require.True(ok)
			}
		}
	}
}

func TestUnusedOutputReferencesServiceResult(t *testing.T) {
	require := require.New(t)

	script := `(seq (call "P" ("s" "f") []) (call "R" ("s" "g") []))`
	outcome, err := NewTestRunner("P", UnitCallService("v")).Call(script, nil)
	require.NoError(err)
	require.True(outcome.IsSuccess(), outcome.ErrorMessage)

	require.Equal([]string{`executed(unused "v")`, "sent_by(P)"}, DescribeTrace(outcome.Data))
	require.Equal(`"v"`, ResultValue(outcome.Data, 0))

	data := ParseData(outcome.Data)
	ref := data.Trace[0].(trace.CallState).Result.Value
	require.Equal(trace.UnusedValue, ref.Kind)
	_, ok := data.CidInfo.ServiceResultStore.Get(ref.CID)
	require.True(ok)

	// the remote peer replays the unused value
	remote := NewTestRunner("R", UnitCallService("w"))
	atR, err := remote.Call(script, outcome.Data)
	require.NoError(err)
	require.True(atR.IsSuccess(), atR.ErrorMessage)
	require.Equal([]string{`executed(unused "v")`, `executed(unused "w")`}, DescribeTrace(atR.Data))
}

func TestXorCatchesOnlyCatchableErrors(t *testing.T) {
	assert := assert.New(t)

	vm := interpreter.New(interpreter.DefaultConfig())
	params := interpreter.RunParameters{InitPeerID: "P", CurrentPeerID: "P", ParticleID: "id"}

	outcome := vm.Invoke(context.Background(), `(xor (fail 42 "boom") (null))`, nil, nil, nil, params)
	assert.True(outcome.IsSuccess(), outcome.ErrorMessage)

	outcome = vm.Invoke(context.Background(), `(fail 42 "boom")`, nil, nil, nil, params)
	assert.Equal((&execution.CatchableError{Kind: execution.UserError}).Code(), outcome.RetCode)
	assert.Contains(outcome.ErrorMessage, "boom")

	runner := NewTestRunner("P", UnitCallService("value"))
	outcome, err := runner.Call(`
		(xor
			(seq
				(call "P" ("s" "f") [] x)
				(call "P" ("s" "f") [] x))
			(null))`, nil)
	assert.NoError(err)
	assert.Equal((&execution.UncatchableError{Kind: execution.ShadowingIsNotAllowed}).Code(), outcome.RetCode)
	assert.Empty(outcome.NextPeerPKs)
	assert.Equal("{}", string(outcome.CallRequests))
}

func TestLastErrorLatching(t *testing.T) {
	require := require.New(t)

	vm := interpreter.New(interpreter.DefaultConfig())
	params := interpreter.RunParameters{InitPeerID: "P", CurrentPeerID: "P", ParticleID: "id"}
	script := `
		(seq
			(xor
				(seq
					(fail 42 "boom")
					(null))
				(null))
			(call "P" ("s" "f") [%last_error%] r))`

	outcome := vm.Invoke(context.Background(), script, nil, nil, nil, params)
	require.True(outcome.IsSuccess(), outcome.ErrorMessage)

	requests, err := outcome.DecodeCallRequests()
	require.NoError(err)
	require.Len(requests, 1)
	args := requests[1].Arguments
	require.Len(args, 1)

	lastError, ok := args[0].(map[string]interface{})
	require.True(ok, "expected an error object, found %v", args[0])
	require.Equal(json.Number("42"), lastError["error_code"])
	require.Equal("boom", lastError["message"])
	require.Equal("P", lastError["peer_id"])
	require.Contains(lastError["instruction"], "fail")
}

func TestMatchFailureKeepsLastError(t *testing.T) {
	require := require.New(t)

	vm := interpreter.New(interpreter.DefaultConfig())
	params := interpreter.RunParameters{InitPeerID: "P", CurrentPeerID: "P", ParticleID: "id"}
	script := `
		(seq
			(xor (match "a" "b" (null)) (null))
			(call "P" ("s" "f") [%last_error%] r))`

	outcome := vm.Invoke(context.Background(), script, nil, nil, nil, params)
	require.True(outcome.IsSuccess(), outcome.ErrorMessage)

	requests, err := outcome.DecodeCallRequests()
	require.NoError(err)
	lastError, ok := requests[1].Arguments[0].(map[string]interface{})
	require.True(ok)
	require.Equal(json.Number("0"), lastError["error_code"])
}

func TestJoinBehavior(t *testing.T) {
	require := require.New(t)

	script := `
		(par
			(call "R" ("s" "f") [] x)
			(seq
				(call "P" ("s" "g") [x] y)
				(call "P" ("s" "h") [y] z)))`
	outcome := NewTestRunner("P", UnitCallService("value")).Invoke(script, nil, nil, nil)
	require.True(outcome.IsSuccess(), outcome.ErrorMessage)

	require.Equal([]string{"par(1, 1)", "sent_by(P)", "sent_by(P)"}, DescribeTrace(outcome.Data))
	require.Equal([]string{"R"}, outcome.NextPeerPKs)
	require.Equal("{}", string(outcome.CallRequests))
}

func TestPreparationErrorKeepsPrevData(t *testing.T) {
	assert := assert.New(t)

	runner := NewTestRunner("P", UnitCallService("value"))
	first, err := runner.Call(`(call "P" ("s" "f") [] x)`, nil)
	assert.NoError(err)

	outcome := runner.Invoke(`(seq (null)`, first.Data, nil, nil)
	assert.Equal((&interpreter.PreparationError{Kind: interpreter.AIRParseError}).Code(), outcome.RetCode)
	assert.Equal(first.Data, outcome.Data)
	assert.Empty(outcome.NextPeerPKs)

	outcome = runner.Invoke(`(null)`, first.Data, []byte("not an envelope"), nil)
	assert.Equal((&interpreter.PreparationError{Kind: interpreter.CurrentDataDeError}).Code(), outcome.RetCode)
	assert.Equal(first.Data, outcome.Data)
}

func TestSizeLimit(t *testing.T) {
	assert := assert.New(t)

	config := interpreter.DefaultConfig()
	config.MaxDataSize = 8
	vm := interpreter.New(config)
	params := interpreter.RunParameters{InitPeerID: "P", CurrentPeerID: "P"}

	outcome := vm.Invoke(context.Background(), `(seq (null) (null))`, nil, nil, nil, params)
	assert.Equal((&interpreter.PreparationError{Kind: interpreter.SizeLimitExceeded}).Code(), outcome.RetCode)
}

func TestSignedExecution(t *testing.T) {
	require := require.New(t)

	keyPair, err := signatures.NewKeyPair(signatures.Ed25519)
	require.NoError(err)
	peerID := keyPair.PublicKey()

	script := fmt.Sprintf(`(seq (call %q ("s" "f") [] x) (call "R" ("s" "f") [x]))`, peerID)
	runner := NewTestRunner(peerID, UnitCallService("value"))
	runner.SecretKey = keyPair.Secret()

	outcome, err := runner.Call(script, nil)
	require.NoError(err)
	require.True(outcome.IsSuccess(), outcome.ErrorMessage)

	data := ParseData(outcome.Data)
	require.Contains(data.Signatures, peerID)
	require.NoError(signatures.VerifyData(data, DefaultParticleID))

	// another peer accepts the signed data
	remote := NewTestRunner("R", UnitCallService("value"))
	accepted := remote.Invoke(script, nil, outcome.Data, nil)
	require.True(accepted.IsSuccess(), accepted.ErrorMessage)

	// but not with a signature of someone else
	other, err := signatures.NewKeyPair(signatures.Ed25519)
	require.NoError(err)
	data.Signatures[peerID], err = other.Sign([]byte(DefaultParticleID))
	require.NoError(err)
	forged, err := data.Serialize(interpreter.DefaultConfig().DataFormat)
	require.NoError(err)
	rejected := remote.Invoke(script, nil, forged, nil)
	require.Equal((&interpreter.PreparationError{Kind: interpreter.SignatureVerificationError}).Code(), rejected.RetCode)
}

func TestIncorrectPeerID(t *testing.T) {
	require := require.New(t)

	keyPair, err := signatures.NewKeyPair(signatures.Ed25519)
	require.NoError(err)

	runner := NewTestRunner("P", UnitCallService("value"))
	runner.SecretKey = keyPair.Secret()
	outcome := runner.Invoke(`(null)`, nil, nil, nil)
	require.Equal((&interpreter.PreparationError{Kind: interpreter.IncorrectPeerID}).Code(), outcome.RetCode)
}
