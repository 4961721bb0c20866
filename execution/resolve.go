// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/fluencelabs/aquavm-sub004/air"
	"github.com/fluencelabs/aquavm-sub004/values"
)

// Resolve evaluates [v] in the current context.
func (c *ExecutionCtx) Resolve(v air.Value) (*ValueAggregate, error) {
	initPeer := c.RunParams.InitPeerID
	switch val := v.(type) {
	case *air.Literal:
		return literalValue(val.Value, initPeer), nil
	case *air.EmptyArray:
		return literalValue([]interface{}{}, initPeer), nil
	case *air.InitPeerID:
		return literalValue(initPeer, initPeer), nil
	case *air.Timestamp:
		return literalValue(json.Number(strconv.FormatUint(c.RunParams.Timestamp, 10)), initPeer), nil
	case *air.TTL:
		return literalValue(json.Number(strconv.FormatUint(uint64(c.RunParams.TTL), 10)), initPeer), nil
	case *air.LastError:
		return c.applyLambda(c.LastError.aggregate(initPeer), val.Lambda)
	case *air.ErrorValue:
		return c.applyLambda(c.Error.aggregate(initPeer), val.Lambda)
	case *air.Scalar:
		agg, err := c.Scalar(val.Name)
		if err != nil {
			return nil, err
		}
		return c.applyLambda(agg, val.Lambda)
	case *air.CanonStream:
		cs, err := c.Canon(val.Name)
		if err != nil {
			return nil, err
		}
		return c.applyCanonLambda(cs, val.Lambda)
	default:
		return nil, catchable(IncompatibleValueType, "%s can't be used as a value", v)
	}
}

// ResolveString evaluates [v] and requires a string.
func (c *ExecutionCtx) ResolveString(v air.Value, what string) (string, *ValueAggregate, error) {
	agg, err := c.Resolve(v)
	if err != nil {
		return "", nil, err
	}
	s, ok := agg.Result.(string)
	if !ok {
		return "", nil, &CatchableError{
			Kind:      IncompatibleValueType,
			Msg:       fmt.Sprintf("%s %s must be a string, found %s", what, v, values.TypeName(agg.Result)),
			Tetraplet: agg.Tetraplet,
		}
	}
	return s, agg, nil
}

func (c *ExecutionCtx) resolveIndex(name string) (interface{}, error) {
	agg, err := c.Scalar(name)
	if err != nil {
		return nil, err
	}
	return agg.Result, nil
}

func (c *ExecutionCtx) applyLambda(agg *ValueAggregate, lambda *values.Lambda) (*ValueAggregate, error) {
	if lambda == nil {
		return agg, nil
	}
	result, path, err := lambda.Apply(agg.Result, c.resolveIndex)
	if err != nil {
		return nil, lambdaError(err, agg)
	}
	return &ValueAggregate{
		Result:     result,
		Tetraplet:  agg.Tetraplet.WithLambda(path),
		Provenance: agg.Provenance,
		TracePos:   agg.TracePos,
	}, nil
}

func lambdaError(err error, agg *ValueAggregate) error {
	var lerr *values.LambdaError
	if !errors.As(err, &lerr) {
		return err
	}
	return &CatchableError{Kind: LambdaApplierError, Msg: lerr.Msg, Tetraplet: agg.Tetraplet, Err: err}
}

// applyCanonLambda applies a lambda to a canon stream. The first index
// accessor selects an element so that the result keeps the tetraplet of
// that element.
func (c *ExecutionCtx) applyCanonLambda(cs *CanonStream, lambda *values.Lambda) (*ValueAggregate, error) {
	if lambda == nil {
		return cs.aggregate(), nil
	}
	if lambda.Length {
		return &ValueAggregate{
			Result:     json.Number(strconv.Itoa(len(cs.Values))),
			Tetraplet:  cs.Tetraplet.WithLambda(".length"),
			Provenance: values.CanonProvenance(cs.CID),
			TracePos:   -1,
		}, nil
	}
	if len(lambda.Accessors) == 0 || lambda.Accessors[0].Kind == values.FieldAccessor {
		return c.applyLambda(cs.aggregate(), lambda)
	}

	idx, err := lambda.Accessors[0].ResolveIndex(c.resolveIndex)
	if err != nil {
		return nil, lambdaError(err, cs.aggregate())
	}
	if len(cs.Values) == 0 {
		return nil, catchable(EmptyCanonStream, "canon stream is empty, can't select element %d", idx)
	}
	if int(idx) >= len(cs.Values) {
		return nil, catchable(CanonStreamNotEnoughValues,
			"canon stream has %d values, element %d requested", len(cs.Values), idx)
	}
	el := cs.Values[idx]
	rest := &values.Lambda{Accessors: lambda.Accessors[1:], Flatten: lambda.Flatten}
	if len(rest.Accessors) == 0 && !rest.Flatten {
		return el, nil
	}
	return c.applyLambda(el, rest)
}

// resolveArguments evaluates call arguments and their tetraplets.
func (c *ExecutionCtx) resolveArguments(args []air.Value) ([]interface{}, [][]*values.SecurityTetraplet, error) {
	resolved := make([]interface{}, 0, len(args))
	tetraplets := make([][]*values.SecurityTetraplet, 0, len(args))
	for _, arg := range args {
		if cs, ok := arg.(*air.CanonStream); ok && cs.Lambda == nil {
			canon, err := c.Canon(cs.Name)
			if err != nil {
				return nil, nil, err
			}
			resolved = append(resolved, canon.AsArray())
			ts := make([]*values.SecurityTetraplet, len(canon.Values))
			for i, v := range canon.Values {
				ts[i] = v.Tetraplet
			}
			tetraplets = append(tetraplets, ts)
			continue
		}
		agg, err := c.Resolve(arg)
		if err != nil {
			return nil, nil, err
		}
		resolved = append(resolved, agg.Result)
		tetraplets = append(tetraplets, []*values.SecurityTetraplet{agg.Tetraplet})
	}
	return resolved, tetraplets, nil
}
