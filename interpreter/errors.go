// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package interpreter

import (
	"errors"
	"fmt"

	"github.com/fluencelabs/aquavm-sub004/execution"
)

const farewellErrorsStart int64 = 30000

// PreparationErrorKind classifies failures that happen before execution.
// The kind is also the outcome code.
type PreparationErrorKind uint8

const (
	AIRParseError PreparationErrorKind = iota + 1
	SizeLimitExceeded
	PrevDataDeError
	CurrentDataDeError
	UnsupportedPrevVersion
	UnsupportedCurrentVersion
	CidStoreVerificationError
	SignatureVerificationError
	MalformedKeyPair
	IncorrectPeerID
)

func (k PreparationErrorKind) String() string {
	switch k {
	case AIRParseError:
		return "air parse error"
	case SizeLimitExceeded:
		return "size limit exceeded"
	case PrevDataDeError:
		return "previous data is malformed"
	case CurrentDataDeError:
		return "current data is malformed"
	case UnsupportedPrevVersion:
		return "previous data version is unsupported"
	case UnsupportedCurrentVersion:
		return "current data version is unsupported"
	case CidStoreVerificationError:
		return "CID store verification failed"
	case SignatureVerificationError:
		return "signature verification failed"
	case MalformedKeyPair:
		return "malformed key pair"
	default:
		return "peer id doesn't match the key pair"
	}
}

// PreparationError is fatal: the outcome carries the previous data as is.
type PreparationError struct {
	Kind PreparationErrorKind
	Err  error
}

func (e *PreparationError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Err) }

func (e *PreparationError) Unwrap() error { return e.Err }

func (e *PreparationError) Code() int64 { return int64(e.Kind) }

// FarewellErrorKind classifies failures while packing the outcome.
type FarewellErrorKind uint8

const (
	DataSerializationError FarewellErrorKind = iota + 1
	CallRequestsSerializationError
	SigningError
)

func (k FarewellErrorKind) String() string {
	switch k {
	case DataSerializationError:
		return "data serialization failed"
	case CallRequestsSerializationError:
		return "call requests serialization failed"
	default:
		return "signing failed"
	}
}

type FarewellError struct {
	Kind FarewellErrorKind
	Err  error
}

func (e *FarewellError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Err) }

func (e *FarewellError) Unwrap() error { return e.Err }

func (e *FarewellError) Code() int64 { return farewellErrorsStart + int64(e.Kind) }

// ErrorCode returns the outcome code of any invocation error.
func ErrorCode(err error) int64 {
	var prepErr *PreparationError
	if errors.As(err, &prepErr) {
		return prepErr.Code()
	}
	var farewellErr *FarewellError
	if errors.As(err, &farewellErr) {
		return farewellErr.Code()
	}
	return execution.ErrorCode(err)
}
