// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package interpreter is the entry point of the AIR interpreter: it prepares
// an execution from the particle envelopes, runs the script and packs the
// outcome.
package interpreter

import (
	"context"

	log "github.com/inconshreveable/log15"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fluencelabs/aquavm-sub004/execution"
)

var (
	logger = log.New("module", "interpreter")
	tracer = otel.Tracer("github.com/fluencelabs/aquavm-sub004/interpreter")
)

// VM runs AIR scripts. It holds no state between invocations and may be
// used concurrently.
type VM struct {
	config Config
}

func New(config Config) *VM {
	return &VM{config: config}
}

func (vm *VM) Config() Config { return vm.config }

// Invoke executes [script] on the current peer. [prevData] is the envelope
// this peer produced last time for the particle, [currentData] the one that
// just arrived and [callResults] the answers to earlier call requests.
func (vm *VM) Invoke(
	ctx context.Context,
	script string,
	prevData, currentData []byte,
	callResults execution.CallResults,
	params RunParameters,
) *Outcome {
	ctx, span := tracer.Start(ctx, "invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("particle_id", params.ParticleID),
		attribute.String("current_peer_id", params.CurrentPeerID),
	)

	prepared, err := vm.prepare(ctx, script, prevData, currentData, callResults, params)
	if err != nil {
		logger.Warn("preparation failed", "particleID", params.ParticleID, "error", err)
		span.SetStatus(codes.Error, err.Error())
		return &Outcome{
			RetCode:      ErrorCode(err),
			ErrorMessage: err.Error(),
			Data:         prevData,
			NextPeerPKs:  []string{},
			CallRequests: emptyCallRequests,
		}
	}

	execErr := vm.execute(ctx, prepared)
	outcome := vm.farewell(ctx, prepared, execErr)
	if !outcome.IsSuccess() {
		span.SetStatus(codes.Error, outcome.ErrorMessage)
	}
	logger.Info("invocation finished",
		"particleID", params.ParticleID,
		"retCode", outcome.RetCode,
		"nextPeers", len(outcome.NextPeerPKs),
		"instructions", prepared.ctx.Instructions.Counts,
	)
	return outcome
}

func (vm *VM) execute(ctx context.Context, p *preparedExecution) error {
	_, span := tracer.Start(ctx, "execution")
	defer span.End()

	err := execution.Execute(p.script, p.ctx, p.handler)
	if err != nil {
		logger.Debug("execution failed", "particleID", p.params.ParticleID, "error", err)
		span.RecordError(err)
	}
	return err
}
