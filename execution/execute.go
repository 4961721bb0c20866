// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package execution interprets an AIR tree against the trace handler.
package execution

import (
	log "github.com/inconshreveable/log15"

	"github.com/fluencelabs/aquavm-sub004/air"
	"github.com/fluencelabs/aquavm-sub004/tracehandler"
	"github.com/fluencelabs/aquavm-sub004/values"
)

var logger = log.New("module", "execution")

// Execute runs [instr]. Catchable errors raised by it update %last_error%
// and :error: before being returned.
func Execute(instr air.Instruction, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	err := execute(instr, ctx, h)
	if ce, ok := AsCatchable(err); ok {
		ctx.setErrors(ce, instr)
	}
	return err
}

func execute(instr air.Instruction, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	switch in := instr.(type) {
	case *air.Call:
		ctx.Instructions.meet("call")
		return executeCall(in, ctx, h)
	case *air.Ap:
		ctx.Instructions.meet("ap")
		return executeAp(in, ctx, h)
	case *air.Canon:
		ctx.Instructions.meet("canon")
		return executeCanon(in, ctx, h)
	case *air.Seq:
		ctx.Instructions.meet("seq")
		return executeSeq(in, ctx, h)
	case *air.Par:
		ctx.Instructions.meet("par")
		return executePar(in, ctx, h)
	case *air.Xor:
		ctx.Instructions.meet("xor")
		return executeXor(in, ctx, h)
	case *air.Match:
		ctx.Instructions.meet("match")
		return executeMatch(in.Left, in.Right, in.Body, true, ctx, h)
	case *air.MisMatch:
		ctx.Instructions.meet("mismatch")
		return executeMatch(in.Left, in.Right, in.Body, false, ctx, h)
	case *air.FoldScalar:
		ctx.Instructions.meet("fold")
		return executeFoldScalar(in, ctx, h)
	case *air.FoldStream:
		ctx.Instructions.meet("fold")
		return executeFoldStream(in, ctx, h)
	case *air.Next:
		ctx.Instructions.meet("next")
		return executeNext(in, ctx, h)
	case *air.New:
		ctx.Instructions.meet("new")
		return executeNew(in, ctx, h)
	case *air.Fail:
		ctx.Instructions.meet("fail")
		return executeFail(in, ctx)
	case *air.Null:
		ctx.Instructions.meet("null")
		return nil
	case *air.Never:
		ctx.Instructions.meet("never")
		ctx.makeSubgraphIncomplete()
		return nil
	default:
		return uncatchable(ScopeError, nil, "unknown instruction %T", instr)
	}
}

// joinable turns a joinable error into an incomplete subgraph.
func joinable(err error, ctx *ExecutionCtx) (bool, error) {
	if IsJoinable(err) {
		ctx.makeSubgraphIncomplete()
		return true, nil
	}
	return false, err
}

func executeSeq(seq *air.Seq, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	ctx.SubgraphComplete = true
	if err := Execute(seq.Left, ctx, h); err != nil {
		return err
	}
	if !ctx.SubgraphComplete {
		return nil
	}
	return Execute(seq.Right, ctx, h)
}

type subgraphResult struct {
	complete bool
	err      error
}

func executeSubgraph(
	instr air.Instruction,
	ctx *ExecutionCtx,
	h *tracehandler.TraceHandler,
	subgraph tracehandler.SubgraphType,
) (subgraphResult, error) {
	ctx.SubgraphComplete = true
	err := Execute(instr, ctx, h)
	if err != nil && !IsCatchable(err) {
		h.ParEndWithError()
		return subgraphResult{}, err
	}
	result := subgraphResult{complete: ctx.SubgraphComplete && err == nil, err: err}
	if err := h.MeetParSubgraphEnd(subgraph); err != nil {
		return subgraphResult{}, traceError(err)
	}
	return result, nil
}

func executePar(par *air.Par, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	if err := h.MeetParStart(); err != nil {
		return traceError(err)
	}
	left, err := executeSubgraph(par.Left, ctx, h, tracehandler.LeftSubgraph)
	if err != nil {
		return err
	}
	right, err := executeSubgraph(par.Right, ctx, h, tracehandler.RightSubgraph)
	if err != nil {
		return err
	}

	ctx.SubgraphComplete = left.complete || right.complete
	if left.err != nil && right.err != nil {
		return right.err
	}
	ctx.LastError.enable()
	ctx.Error.enable()
	return nil
}

func executeXor(xor *air.Xor, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	err := Execute(xor.Left, ctx, h)
	if err == nil || !IsCatchable(err) {
		return err
	}
	logger.Debug("xor caught an error", "error", err)

	ctx.SubgraphComplete = true
	ctx.LastError.enable()
	ctx.Error.enable()
	if err := Execute(xor.Right, ctx, h); err != nil {
		return err
	}
	ctx.Error.clear()
	return nil
}

func executeMatch(
	leftValue, rightValue air.Value,
	body air.Instruction,
	equal bool,
	ctx *ExecutionCtx,
	h *tracehandler.TraceHandler,
) error {
	left, err := ctx.Resolve(leftValue)
	if err != nil {
		_, err = joinable(err, ctx)
		return err
	}
	right, err := ctx.Resolve(rightValue)
	if err != nil {
		_, err = joinable(err, ctx)
		return err
	}

	matched := values.Equal(left.Result, right.Result)
	switch {
	case equal && !matched:
		return catchable(MatchValuesNotEqual, "%s and %s are not equal", leftValue, rightValue)
	case !equal && matched:
		return catchable(MismatchValuesEqual, "%s and %s are equal", leftValue, rightValue)
	}
	return Execute(body, ctx, h)
}

func executeNew(n *air.New, ctx *ExecutionCtx, h *tracehandler.TraceHandler) error {
	name := n.Argument.Name
	switch n.Argument.Kind {
	case air.NewScalar:
		ctx.scalars.openScope(name)
		defer ctx.scalars.closeScope(name)
		return Execute(n.Body, ctx, h)
	case air.NewCanonStream:
		ctx.canons.openScope(name)
		defer ctx.canons.closeScope(name)
		return Execute(n.Body, ctx, h)
	}

	ctx.Streams.MeetNewStart(name, n.Position)
	err := Execute(n.Body, ctx, h)
	if endErr := ctx.Streams.MeetNewEnd(name, h); endErr != nil && (err == nil || IsCatchable(err)) {
		return endErr
	}
	return err
}

func executeFail(f *air.Fail, ctx *ExecutionCtx) error {
	switch f.Kind {
	case air.FailLiteral:
		if f.Code == 0 {
			return catchable(InvalidErrorObject, "fail error code must be non zero")
		}
		return &CatchableError{Kind: UserError, Msg: f.Message, RetCode: f.Code}
	case air.FailScalar:
		agg, err := ctx.Resolve(f.Scalar)
		if err != nil {
			_, err = joinable(err, ctx)
			return err
		}
		return userErrorFromObject(agg)
	case air.FailLastError:
		return rethrow(ctx.LastError)
	default:
		return rethrow(ctx.Error)
	}
}

func userErrorFromObject(agg *ValueAggregate) error {
	obj, ok := agg.Result.(map[string]interface{})
	if !ok {
		return catchable(InvalidErrorObject, "error object must be an object, found %s", values.TypeName(agg.Result))
	}
	code, err := errorCodeOf(obj)
	if err != nil {
		return err
	}
	msg, ok := obj[MessageField].(string)
	if !ok {
		return catchable(InvalidErrorObject, "error object must have a string %q field", MessageField)
	}
	return &CatchableError{
		Kind:        UserError,
		Msg:         msg,
		RetCode:     code,
		Tetraplet:   agg.Tetraplet,
		ErrorObject: obj,
	}
}

func errorCodeOf(obj map[string]interface{}) (int64, error) {
	n, ok := obj[ErrorCodeField].(interface{ Int64() (int64, error) })
	if !ok {
		return 0, catchable(InvalidErrorObject, "error object must have a numeric %q field", ErrorCodeField)
	}
	code, err := n.Int64()
	if err != nil {
		return 0, catchable(InvalidErrorObject, "error code is not an integer: %s", err)
	}
	if code == 0 {
		return 0, catchable(InvalidErrorObject, "error code must be non zero")
	}
	return code, nil
}

// rethrow raises the error held by [d] again. Nothing is raised when no
// error was recorded.
func rethrow(d *ErrorDescriptor) error {
	if !d.IsSet() {
		return nil
	}
	obj := d.Object()
	code, err := errorCodeOf(obj)
	if err != nil {
		return err
	}
	msg, _ := obj[MessageField].(string)
	return &CatchableError{
		Kind:        UserError,
		Msg:         msg,
		RetCode:     code,
		Tetraplet:   d.tetraplet,
		ErrorObject: obj,
	}
}
