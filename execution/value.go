// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"github.com/fluencelabs/aquavm-sub004/values"
)

// ValueAggregate is a resolved JSON value together with where it came from.
type ValueAggregate struct {
	Result     interface{}
	Tetraplet  *values.SecurityTetraplet
	Provenance values.Provenance
	// TracePos is the result trace position of the state that produced the
	// value, or -1 when no state did.
	TracePos int
}

func literalValue(v interface{}, initPeerID string) *ValueAggregate {
	return &ValueAggregate{
		Result:     v,
		Tetraplet:  values.LiteralTetraplet(initPeerID),
		Provenance: values.LiteralProvenance(),
		TracePos:   -1,
	}
}

// CanonStream is a frozen view of a stream.
type CanonStream struct {
	CID       values.CID
	Tetraplet *values.SecurityTetraplet
	Values    []*ValueAggregate
}

// AsArray returns the canon stream values as a JSON array.
func (c *CanonStream) AsArray() []interface{} {
	arr := make([]interface{}, len(c.Values))
	for i, v := range c.Values {
		arr[i] = v.Result
	}
	return arr
}

func (c *CanonStream) aggregate() *ValueAggregate {
	return &ValueAggregate{
		Result:     c.AsArray(),
		Tetraplet:  c.Tetraplet,
		Provenance: values.CanonProvenance(c.CID),
		TracePos:   -1,
	}
}
