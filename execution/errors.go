// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"errors"
	"fmt"

	"github.com/fluencelabs/aquavm-sub004/values"
)

const (
	catchableErrorsStart   int64 = 10000
	uncatchableErrorsStart int64 = 20000
)

// IsCatchableCode reports whether [code] is the code of a catchable error
// that reached the top level.
func IsCatchableCode(code int64) bool {
	return code >= catchableErrorsStart && code < uncatchableErrorsStart
}

// CatchableErrorKind classifies errors that xor can catch.
type CatchableErrorKind uint8

const (
	LocalServiceError CatchableErrorKind = iota + 1
	VariableNotFound
	CanonStreamNotFound
	IncompatibleValueType
	FoldIteratesOverNonArray
	MatchValuesNotEqual
	MismatchValuesEqual
	UserError
	InvalidErrorObject
	LambdaApplierError
	CanonStreamNotEnoughValues
	EmptyCanonStream
	StreamGenerationNotFound
)

func (k CatchableErrorKind) String() string {
	switch k {
	case LocalServiceError:
		return "local service error"
	case VariableNotFound:
		return "variable not found"
	case CanonStreamNotFound:
		return "canon stream not found"
	case IncompatibleValueType:
		return "incompatible value type"
	case FoldIteratesOverNonArray:
		return "fold iterates over non array"
	case MatchValuesNotEqual:
		return "match values not equal"
	case MismatchValuesEqual:
		return "mismatch values equal"
	case UserError:
		return "user error"
	case InvalidErrorObject:
		return "invalid error object"
	case LambdaApplierError:
		return "lambda applier error"
	case CanonStreamNotEnoughValues:
		return "canon stream has not enough values"
	case EmptyCanonStream:
		return "canon stream is empty"
	case StreamGenerationNotFound:
		return "stream generation not found"
	default:
		return fmt.Sprintf("catchable(%d)", uint8(k))
	}
}

// CatchableError is raised by an instruction and may be caught by xor.
type CatchableError struct {
	Kind CatchableErrorKind
	Msg  string

	// RetCode is the service return code of a LocalServiceError or the
	// user supplied code of a UserError.
	RetCode int64
	// Tetraplet describes the value or call that failed, if any.
	Tetraplet *values.SecurityTetraplet
	// ErrorObject overrides the error object built for %last_error%.
	ErrorObject map[string]interface{}

	Err error
}

func (e *CatchableError) Error() string {
	if e.Err != nil && e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *CatchableError) Unwrap() error { return e.Err }

// Code is the interpreter error code of the kind.
func (e *CatchableError) Code() int64 { return catchableErrorsStart + int64(e.Kind) }

// ErrorCode is the code exposed to scripts through the error object.
func (e *CatchableError) ErrorCode() int64 {
	switch e.Kind {
	case LocalServiceError, UserError:
		return e.RetCode
	default:
		return e.Code()
	}
}

// IsJoinable reports whether the error means data isn't available yet: the
// instruction should wait instead of failing.
func (e *CatchableError) IsJoinable() bool {
	switch e.Kind {
	case VariableNotFound, CanonStreamNotFound, CanonStreamNotEnoughValues, EmptyCanonStream:
		return true
	default:
		return false
	}
}

// AffectsLastError reports whether the error updates %last_error%.
func (e *CatchableError) AffectsLastError() bool {
	return e.Kind != MatchValuesNotEqual && e.Kind != MismatchValuesEqual
}

// AffectsError reports whether the error updates :error:.
func (e *CatchableError) AffectsError() bool { return true }

// UncatchableErrorKind classifies errors that abort the execution.
type UncatchableErrorKind uint8

const (
	TraceError UncatchableErrorKind = iota + 1
	CallResultNotCorrespondToInstr
	MultipleIterableValues
	IterableNotFound
	ValueNotFoundInStores
	GenerationCompactificationError
	ShadowingIsNotAllowed
	CallServiceResultDeError
	IncorrectCanonStream
	ValueSerializationError
	ScopeError
)

func (k UncatchableErrorKind) String() string {
	switch k {
	case TraceError:
		return "trace error"
	case CallResultNotCorrespondToInstr:
		return "call result doesn't correspond to the instruction"
	case MultipleIterableValues:
		return "multiple iterable values"
	case IterableNotFound:
		return "iterable not found"
	case ValueNotFoundInStores:
		return "value not found in CID stores"
	case GenerationCompactificationError:
		return "stream generation compactification error"
	case ShadowingIsNotAllowed:
		return "shadowing is not allowed"
	case CallServiceResultDeError:
		return "call service result is not valid JSON"
	case IncorrectCanonStream:
		return "incorrect canon stream"
	case ValueSerializationError:
		return "value serialization error"
	default:
		return "scope error"
	}
}

// UncatchableError aborts the execution and is never handled by xor.
type UncatchableError struct {
	Kind UncatchableErrorKind
	Msg  string
	Err  error
}

func (e *UncatchableError) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *UncatchableError) Unwrap() error { return e.Err }

func (e *UncatchableError) Code() int64 { return uncatchableErrorsStart + int64(e.Kind) }

func catchable(kind CatchableErrorKind, format string, args ...interface{}) *CatchableError {
	return &CatchableError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func uncatchable(kind UncatchableErrorKind, err error, format string, args ...interface{}) *UncatchableError {
	return &UncatchableError{Kind: kind, Err: err, Msg: fmt.Sprintf(format, args...)}
}

func traceError(err error) *UncatchableError {
	return &UncatchableError{Kind: TraceError, Err: err}
}

// AsCatchable unwraps a catchable error.
func AsCatchable(err error) (*CatchableError, bool) {
	var ce *CatchableError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsCatchable reports whether [err] can be caught by xor.
func IsCatchable(err error) bool {
	_, ok := AsCatchable(err)
	return ok
}

// IsJoinable reports whether [err] means the instruction has to wait for
// data.
func IsJoinable(err error) bool {
	ce, ok := AsCatchable(err)
	return ok && ce.IsJoinable()
}

// ErrorCode returns the outcome code of an execution error.
func ErrorCode(err error) int64 {
	var ce *CatchableError
	if errors.As(err, &ce) {
		return ce.Code()
	}
	var ue *UncatchableError
	if errors.As(err, &ue) {
		return ue.Code()
	}
	return uncatchableErrorsStart
}
