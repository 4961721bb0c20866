// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package testutils runs scripts the way a peer does, executing call
// requests with in-process services until the particle has nothing left to
// do locally.
package testutils

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fluencelabs/aquavm-sub004/execution"
	"github.com/fluencelabs/aquavm-sub004/interpreter"
	"github.com/fluencelabs/aquavm-sub004/interpreterdata"
	"github.com/fluencelabs/aquavm-sub004/signatures"
	"github.com/fluencelabs/aquavm-sub004/trace"
	"github.com/fluencelabs/aquavm-sub004/values"
)

const (
	DefaultInitPeerID = "init_peer_id"
	DefaultParticleID = "particle_id"

	// maxRounds bounds the call request loop of a runner.
	maxRounds = 64
)

// CallService answers a call request.
type CallService func(callID uint32, req execution.CallRequestParams) execution.CallServiceResult

// Ok returns a successful result holding [v].
func Ok(v interface{}) execution.CallServiceResult {
	return execution.CallServiceResult{Result: string(values.MustCanonical(v))}
}

// Err returns a failed result.
func Err(retCode int32, msg string) execution.CallServiceResult {
	return execution.CallServiceResult{RetCode: retCode, Result: string(values.MustCanonical(msg))}
}

// UnitCallService returns [v] for every call.
func UnitCallService(v interface{}) CallService {
	return func(uint32, execution.CallRequestParams) execution.CallServiceResult { return Ok(v) }
}

// EchoCallService returns the arguments of the call: the first one if there
// is exactly one.
func EchoCallService() CallService {
	return func(_ uint32, req execution.CallRequestParams) execution.CallServiceResult {
		if len(req.Arguments) == 1 {
			return Ok(req.Arguments[0])
		}
		return Ok(req.Arguments)
	}
}

// ServiceMap dispatches calls by service id. Unknown services fail.
func ServiceMap(services map[string]CallService) CallService {
	return func(id uint32, req execution.CallRequestParams) execution.CallServiceResult {
		s, ok := services[req.ServiceID]
		if !ok {
			return Err(1, fmt.Sprintf("service %s is not found", req.ServiceID))
		}
		return s(id, req)
	}
}

// SequenceService returns [results] one after another, repeating the last
// one once they run out.
func SequenceService(results ...execution.CallServiceResult) CallService {
	i := 0
	return func(uint32, execution.CallRequestParams) execution.CallServiceResult {
		r := results[min(i, len(results)-1)]
		i++
		return r
	}
}

// TestRunner is a peer: it keeps the data it produced for the particle and
// performs its own call requests.
type TestRunner struct {
	VM      *interpreter.VM
	PeerID  string
	Service CallService

	InitPeerID string
	ParticleID string
	Timestamp  uint64
	TTL        uint32
	KeyFormat  signatures.KeyFormat
	SecretKey  []byte

	prevData []byte
}

func NewTestRunner(peerID string, service CallService) *TestRunner {
	return &TestRunner{
		VM:         interpreter.New(interpreter.DefaultConfig()),
		PeerID:     peerID,
		Service:    service,
		InitPeerID: DefaultInitPeerID,
		ParticleID: DefaultParticleID,
		Timestamp:  1337,
		TTL:        7000,
	}
}

func (r *TestRunner) params() interpreter.RunParameters {
	return interpreter.RunParameters{
		InitPeerID:    r.InitPeerID,
		CurrentPeerID: r.PeerID,
		Timestamp:     r.Timestamp,
		TTL:           r.TTL,
		ParticleID:    r.ParticleID,
		KeyFormat:     r.KeyFormat,
		SecretKey:     r.SecretKey,
	}
}

// Call executes [script] with [currentData], then keeps answering call
// requests until none are left. It returns the last outcome with the next
// peers of every round.
func (r *TestRunner) Call(script string, currentData []byte) (*interpreter.Outcome, error) {
	var nextPeers []string
	seen := map[string]bool{}

	outcome := r.VM.Invoke(context.Background(), script, r.prevData, currentData, nil, r.params())
	for round := 0; ; round++ {
		if outcome.RetCode != 0 && !execution.IsCatchableCode(outcome.RetCode) {
			return outcome, nil
		}
		r.prevData = outcome.Data
		for _, peer := range outcome.NextPeerPKs {
			if !seen[peer] {
				seen[peer] = true
				nextPeers = append(nextPeers, peer)
			}
		}

		requests, err := outcome.DecodeCallRequests()
		if err != nil {
			return nil, err
		}
		if len(requests) == 0 {
			outcome.NextPeerPKs = append([]string{}, nextPeers...)
			return outcome, nil
		}
		if round == maxRounds {
			return nil, fmt.Errorf("call requests are still produced after %d rounds", maxRounds)
		}
		results := execution.CallResults{}
		for _, id := range sortedIDs(requests) {
			results[id] = r.Service(id, requests[id])
		}
		outcome = r.VM.Invoke(context.Background(), script, r.prevData, nil, results, r.params())
	}
}

func sortedIDs(requests map[uint32]execution.CallRequestParams) []uint32 {
	ids := make([]uint32, 0, len(requests))
	for id := range requests {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ParseData decodes an envelope and panics on failure.
func ParseData(raw []byte) *interpreterdata.InterpreterData {
	data, _, err := interpreterdata.Parse(raw)
	if err != nil {
		panic(err)
	}
	return data
}

// DescribeTrace renders the trace of [raw] with every executed value
// resolved, e.g. `executed("test")`, `sent_by(peer)` or `par(1, 1)`.
func DescribeTrace(raw []byte) []string {
	data := ParseData(raw)
	out := make([]string, len(data.Trace))
	for i, st := range data.Trace {
		out[i] = describeState(st, data.CidInfo)
	}
	return out
}

func describeState(st trace.ExecutedState, info interpreterdata.CidInfo) string {
	switch s := st.(type) {
	case trace.CallState:
		if s.Result.Kind != trace.CallExecuted {
			return s.Result.String()
		}
		ref := s.Result.Value
		switch ref.Kind {
		case trace.StreamValue:
			return fmt.Sprintf("executed(%s gen %d)", resolveServiceResult(ref.CID, info), ref.Generation)
		case trace.UnusedValue:
			return fmt.Sprintf("executed(unused %s)", resolveServiceResult(ref.CID, info))
		default:
			return fmt.Sprintf("executed(%s)", resolveServiceResult(ref.CID, info))
		}
	case trace.CanonState:
		if s.Result.Kind != trace.CanonExecuted {
			return "canon." + s.Result.String()
		}
		result, ok := info.CanonResultStore.Get(s.Result.CID)
		if !ok {
			return "canon(<missing>)"
		}
		elements := make([]string, len(result.Values))
		for i, c := range result.Values {
			el, ok := info.CanonElementStore.Get(c)
			if !ok {
				elements[i] = "<missing>"
				continue
			}
			elements[i] = resolveValue(el.ValueCID, info)
		}
		return "canon[" + strings.Join(elements, ", ") + "]"
	default:
		return st.String()
	}
}

func resolveServiceResult(c values.CID, info interpreterdata.CidInfo) string {
	result, ok := info.ServiceResultStore.Get(c)
	if !ok {
		return "<missing>"
	}
	return resolveValue(result.ValueCID, info)
}

func resolveValue(c values.CID, info interpreterdata.CidInfo) string {
	v, ok := info.ValueStore.Get(c)
	if !ok {
		return "<missing>"
	}
	return string(values.MustCanonical(v))
}

// ResultValue returns the canonical JSON of the value the call state at
// [pos] of [raw] points to. Every kind of value reference, unused ones
// included, names a service result.
func ResultValue(raw []byte, pos int) string {
	data := ParseData(raw)
	st, ok := data.Trace[pos].(trace.CallState)
	if !ok || st.Result.Kind != trace.CallExecuted {
		return ""
	}
	return resolveServiceResult(st.Result.Value.CID, data.CidInfo)
}

// Data is the envelope the runner produced last.
func (r *TestRunner) Data() []byte { return r.prevData }

// Invoke runs [script] once without executing call requests and without
// touching the data kept by the runner.
func (r *TestRunner) Invoke(script string, prevData, currentData []byte, results execution.CallResults) *interpreter.Outcome {
	return r.VM.Invoke(context.Background(), script, prevData, currentData, results, r.params())
}
