// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package interpreter

import (
	"bytes"
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fluencelabs/aquavm-sub004/execution"
	"github.com/fluencelabs/aquavm-sub004/interpreterdata"
	"github.com/fluencelabs/aquavm-sub004/signatures"
)

var emptyCallRequests = []byte("{}")

// farewell packs the result of an execution that ended with [execErr].
func (vm *VM) farewell(ctx context.Context, p *preparedExecution, execErr error) *Outcome {
	_, span := tracer.Start(ctx, "farewell")
	defer span.End()

	globalStreams, err := p.ctx.Streams.CompactifyGlobal(p.handler)
	if err != nil && (execErr == nil || execution.IsCatchable(execErr)) {
		execErr = err
	}
	uncatchable := execErr != nil && !execution.IsCatchable(execErr)

	sigs, err := signatures.MergeSignatures(
		p.ctx.Tracker,
		p.keyPair,
		p.params.ParticleID,
		p.prev.Signatures,
		p.current.Signatures,
	)
	if err != nil {
		return vm.farewellError(p, &FarewellError{Kind: SigningError, Err: err})
	}
	if globalStreams == nil {
		globalStreams = map[string]int{}
	}

	data := &interpreterdata.InterpreterData{
		Trace:             p.handler.ResultTrace(),
		GlobalStreams:     globalStreams,
		RestrictedStreams: p.ctx.Streams.RestrictedCounts(),
		CidInfo:           p.ctx.Cids.Result,
		Signatures:        sigs,
		LastCallRequestID: p.ctx.LastCallRequestID,
		Versions:          interpreterdata.CurrentVersions(),
	}
	raw, err := data.Serialize(vm.config.DataFormat)
	if err != nil {
		return vm.farewellError(p, &FarewellError{Kind: DataSerializationError, Err: err})
	}

	outcome := &Outcome{
		Data:         raw,
		NextPeerPKs:  []string{},
		CallRequests: emptyCallRequests,
	}
	if !uncatchable {
		outcome.NextPeerPKs = append(outcome.NextPeerPKs, p.ctx.NextPeerPKs()...)
		requests, err := encodeCallRequests(p.ctx.CallRequests)
		if err != nil {
			return vm.farewellError(p, &FarewellError{Kind: CallRequestsSerializationError, Err: err})
		}
		outcome.CallRequests = requests
	}
	if execErr != nil {
		outcome.RetCode = ErrorCode(execErr)
		outcome.ErrorMessage = execErr.Error()
	}

	span.SetAttributes(
		attribute.Int("result_trace_len", len(data.Trace)),
		attribute.Int("next_peers", len(outcome.NextPeerPKs)),
		attribute.Int("call_requests", len(p.ctx.CallRequests)),
	)
	return outcome
}

// farewellError keeps the previous data: nothing of this run can be sent.
func (vm *VM) farewellError(p *preparedExecution, err *FarewellError) *Outcome {
	logger.Error("farewell failed", "particleID", p.params.ParticleID, "error", err)
	raw, _ := p.prev.Serialize(vm.config.DataFormat)
	return &Outcome{
		RetCode:      err.Code(),
		ErrorMessage: err.Error(),
		Data:         raw,
		NextPeerPKs:  []string{},
		CallRequests: emptyCallRequests,
	}
}

func encodeCallRequests(requests map[uint32]execution.CallRequestParams) ([]byte, error) {
	if len(requests) == 0 {
		return emptyCallRequests, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(requests); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodeCallRequests(raw []byte) (map[uint32]execution.CallRequestParams, error) {
	requests := map[uint32]execution.CallRequestParams{}
	if len(raw) == 0 {
		return requests, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&requests); err != nil {
		return nil, err
	}
	return requests, nil
}
