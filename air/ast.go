// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package air parses AIR scripts into an instruction tree.
package air

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fluencelabs/aquavm-sub004/values"
)

// Instruction is a node of the AIR instruction tree.
type Instruction interface {
	fmt.Stringer
	instruction()
}

// Value is an argument of an instruction.
type Value interface {
	fmt.Stringer
	value()
}

type (
	Call struct {
		Triplet Triplet
		Args    []Value
		Output  CallOutput
	}

	Ap struct {
		Argument Value
		Result   ApResult
	}

	Canon struct {
		PeerID      Value
		Stream      string
		CanonStream string
	}

	Seq struct{ Left, Right Instruction }
	Par struct{ Left, Right Instruction }
	Xor struct{ Left, Right Instruction }

	Match struct {
		Left, Right Value
		Body        Instruction
	}

	MisMatch struct {
		Left, Right Value
		Body        Instruction
	}

	// FoldScalar iterates over a scalar array, a canon stream or `[]`.
	FoldScalar struct {
		Iterable Value
		Iterator string
		Body     Instruction
		Last     Instruction
	}

	// FoldStream iterates over a stream, including values added to it while
	// the fold runs.
	FoldStream struct {
		Stream   string
		Iterator string
		Body     Instruction
		Last     Instruction
	}

	Next struct{ Iterator string }

	New struct {
		Argument NewArgument
		Body     Instruction
		// Position is the byte offset of the instruction in the script. It
		// identifies the scope of a restricted stream.
		Position int
	}

	Fail struct {
		Kind    FailKind
		Code    int64
		Message string
		Scalar  *Scalar
	}

	Null  struct{}
	Never struct{}
)

func (*Call) instruction()       {}
func (*Ap) instruction()         {}
func (*Canon) instruction()      {}
func (*Seq) instruction()        {}
func (*Par) instruction()        {}
func (*Xor) instruction()        {}
func (*Match) instruction()      {}
func (*MisMatch) instruction()   {}
func (*FoldScalar) instruction() {}
func (*FoldStream) instruction() {}
func (*Next) instruction()       {}
func (*New) instruction()        {}
func (*Fail) instruction()       {}
func (*Null) instruction()       {}
func (*Never) instruction()      {}

// Triplet names the peer, service and function of a call.
type Triplet struct {
	PeerID       Value
	ServiceID    Value
	FunctionName Value
}

// OutputKind tells where a call stores its result.
type OutputKind uint8

const (
	OutputNone OutputKind = iota
	OutputScalar
	OutputStream
)

type CallOutput struct {
	Kind OutputKind
	Name string
}

// ApResult is the destination of an ap: a scalar or a stream.
type ApResult struct {
	Stream bool
	Name   string
}

// NewKind tells which kind of variable a `new` scopes.
type NewKind uint8

const (
	NewScalar NewKind = iota
	NewStream
	NewCanonStream
)

type NewArgument struct {
	Kind NewKind
	Name string
}

// FailKind tells what a fail raises.
type FailKind uint8

const (
	FailLiteral FailKind = iota
	FailScalar
	FailLastError
	FailError
)

type (
	// Literal is a string, number, boolean or null literal.
	Literal struct{ Value interface{} }

	EmptyArray struct{}
	InitPeerID struct{}
	Timestamp  struct{}
	TTL        struct{}

	LastError  struct{ Lambda *values.Lambda }
	ErrorValue struct{ Lambda *values.Lambda }

	Scalar struct {
		Name   string
		Lambda *values.Lambda
	}

	CanonStream struct {
		Name   string
		Lambda *values.Lambda
	}

	Stream struct{ Name string }
)

func (*Literal) value()     {}
func (*EmptyArray) value()  {}
func (*InitPeerID) value()  {}
func (*Timestamp) value()   {}
func (*TTL) value()         {}
func (*LastError) value()   {}
func (*ErrorValue) value()  {}
func (*Scalar) value()      {}
func (*CanonStream) value() {}
func (*Stream) value()      {}

func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(v)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (*EmptyArray) String() string  { return "[]" }
func (*InitPeerID) String() string  { return "%init_peer_id%" }
func (*Timestamp) String() string   { return "%timestamp%" }
func (*TTL) String() string         { return "%ttl%" }
func (e *LastError) String() string { return "%last_error%" + e.Lambda.String() }
func (e *ErrorValue) String() string {
	return ":error:" + e.Lambda.String()
}
func (s *Scalar) String() string      { return s.Name + s.Lambda.String() }
func (c *CanonStream) String() string { return c.Name + c.Lambda.String() }
func (s *Stream) String() string      { return s.Name }

func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	out := ""
	if c.Output.Kind != OutputNone {
		out = " " + c.Output.Name
	}
	return fmt.Sprintf("call %s (%s %s) [%s]%s",
		c.Triplet.PeerID, c.Triplet.ServiceID, c.Triplet.FunctionName, strings.Join(args, " "), out)
}

func (a *Ap) String() string     { return fmt.Sprintf("ap %s %s", a.Argument, a.Result.Name) }
func (c *Canon) String() string  { return fmt.Sprintf("canon %s %s %s", c.PeerID, c.Stream, c.CanonStream) }
func (*Seq) String() string      { return "seq" }
func (*Par) String() string      { return "par" }
func (*Xor) String() string      { return "xor" }
func (m *Match) String() string  { return fmt.Sprintf("match %s %s", m.Left, m.Right) }
func (m *MisMatch) String() string {
	return fmt.Sprintf("mismatch %s %s", m.Left, m.Right)
}
func (f *FoldScalar) String() string { return fmt.Sprintf("fold %s %s", f.Iterable, f.Iterator) }
func (f *FoldStream) String() string { return fmt.Sprintf("fold %s %s", f.Stream, f.Iterator) }
func (n *Next) String() string       { return "next " + n.Iterator }
func (n *New) String() string        { return "new " + n.Argument.Name }
func (*Null) String() string         { return "null" }
func (*Never) String() string        { return "never" }

func (f *Fail) String() string {
	switch f.Kind {
	case FailLiteral:
		return fmt.Sprintf("fail %d %s", f.Code, strconv.Quote(f.Message))
	case FailScalar:
		return "fail " + f.Scalar.String()
	case FailLastError:
		return "fail %last_error%"
	default:
		return "fail :error:"
	}
}

// Depth returns the nesting depth of the instruction tree rooted at [instr].
func Depth(instr Instruction) int {
	switch i := instr.(type) {
	case *Seq:
		return 1 + max(Depth(i.Left), Depth(i.Right))
	case *Par:
		return 1 + max(Depth(i.Left), Depth(i.Right))
	case *Xor:
		return 1 + max(Depth(i.Left), Depth(i.Right))
	case *Match:
		return 1 + Depth(i.Body)
	case *MisMatch:
		return 1 + Depth(i.Body)
	case *New:
		return 1 + Depth(i.Body)
	case *FoldScalar:
		return 1 + max(Depth(i.Body), optionalDepth(i.Last))
	case *FoldStream:
		return 1 + max(Depth(i.Body), optionalDepth(i.Last))
	default:
		return 1
	}
}

func optionalDepth(instr Instruction) int {
	if instr == nil {
		return 0
	}
	return Depth(instr)
}
