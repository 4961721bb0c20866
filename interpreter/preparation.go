// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package interpreter

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fluencelabs/aquavm-sub004/air"
	"github.com/fluencelabs/aquavm-sub004/execution"
	"github.com/fluencelabs/aquavm-sub004/interpreterdata"
	"github.com/fluencelabs/aquavm-sub004/signatures"
	"github.com/fluencelabs/aquavm-sub004/trace"
	"github.com/fluencelabs/aquavm-sub004/tracehandler"
)

var errDataTooLarge = errors.New("input is larger than the configured limit")

// preparedExecution is everything execution needs.
type preparedExecution struct {
	script  air.Instruction
	prev    *interpreterdata.InterpreterData
	current *interpreterdata.InterpreterData
	ctx     *execution.ExecutionCtx
	handler *tracehandler.TraceHandler
	keyPair *signatures.KeyPair
	params  RunParameters
}

func (vm *VM) prepare(
	ctx context.Context,
	script string,
	prevData, currentData []byte,
	callResults execution.CallResults,
	params RunParameters,
) (*preparedExecution, error) {
	_, span := tracer.Start(ctx, "preparation")
	defer span.End()

	if err := vm.checkSizes(script, prevData, currentData); err != nil {
		return nil, err
	}

	ast, err := air.ParseWithMaxDepth(script, vm.config.MaxASTDepth)
	if err != nil {
		return nil, &PreparationError{Kind: AIRParseError, Err: err}
	}

	prev, err := vm.parseData(prevData, PrevDataDeError, UnsupportedPrevVersion)
	if err != nil {
		return nil, err
	}
	current, err := vm.parseData(currentData, CurrentDataDeError, UnsupportedCurrentVersion)
	if err != nil {
		return nil, err
	}

	if err := current.CidInfo.Verify(); err != nil {
		return nil, &PreparationError{Kind: CidStoreVerificationError, Err: err}
	}
	if err := signatures.VerifyData(current, params.ParticleID); err != nil {
		return nil, &PreparationError{Kind: SignatureVerificationError, Err: err}
	}

	keyPair, err := keyPairOf(params)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("prev_trace_len", len(prev.Trace)),
		attribute.Int("current_trace_len", len(current.Trace)),
	)
	logger.Debug("prepared execution",
		"particleID", params.ParticleID,
		"prevTraceLen", len(prev.Trace),
		"currentTraceLen", len(current.Trace),
		"prevVersion", prev.Versions.DataVersion,
		"currentVersion", current.Versions.DataVersion,
	)

	return &preparedExecution{
		script:  ast,
		prev:    prev,
		current: current,
		ctx:     execution.NewExecutionCtx(prev, current, callResults, params.execution()),
		handler: tracehandler.NewTraceHandler(prev.Trace, current.Trace, params.CurrentPeerID),
		keyPair: keyPair,
		params:  params,
	}, nil
}

func (vm *VM) checkSizes(script string, prevData, currentData []byte) error {
	limit := vm.config.MaxDataSize
	if limit <= 0 {
		return nil
	}
	inputs := []struct {
		name string
		size int
	}{
		{"script", len(script)},
		{"previous data", len(prevData)},
		{"current data", len(currentData)},
	}
	for _, in := range inputs {
		if in.size > limit {
			return &PreparationError{
				Kind: SizeLimitExceeded,
				Err:  fmt.Errorf("%w: %s is %d bytes, limit is %d", errDataTooLarge, in.name, in.size, limit),
			}
		}
	}
	return nil
}

func (vm *VM) parseData(raw []byte, deKind, versionKind PreparationErrorKind) (*interpreterdata.InterpreterData, error) {
	data, _, err := interpreterdata.Parse(raw)
	if err != nil {
		return nil, &PreparationError{Kind: deKind, Err: err}
	}
	if err := data.CheckVersion(vm.config.MinSupportedDataVersion); err != nil {
		return nil, &PreparationError{Kind: versionKind, Err: err}
	}
	if err := trace.Validate(data.Trace); err != nil {
		return nil, &PreparationError{Kind: deKind, Err: err}
	}
	return data, nil
}

// keyPairOf restores the peer key. The peer id must be the public key
// whenever a key is given since signatures are keyed by it.
func keyPairOf(params RunParameters) (*signatures.KeyPair, error) {
	if len(params.SecretKey) == 0 {
		return nil, nil
	}
	format := params.KeyFormat
	if format == "" {
		format = signatures.Ed25519
	}
	k, err := signatures.KeyPairFromSecret(format, params.SecretKey)
	if err != nil {
		return nil, &PreparationError{Kind: MalformedKeyPair, Err: err}
	}
	if k.PublicKey() != params.CurrentPeerID {
		return nil, &PreparationError{
			Kind: IncorrectPeerID,
			Err:  fmt.Errorf("current peer id %q, key pair belongs to %q", params.CurrentPeerID, k.PublicKey()),
		}
	}
	return k, nil
}
