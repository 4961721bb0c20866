// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package air

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fluencelabs/aquavm-sub004/values"
)

// ErrDepthExceeded is returned when a script nests deeper than allowed.
var ErrDepthExceeded = errors.New("instruction tree is nested too deeply")

// Parse parses an AIR script without a nesting limit.
func Parse(script string) (Instruction, error) {
	return ParseWithMaxDepth(script, 0)
}

// ParseWithMaxDepth parses an AIR script and fails with ErrDepthExceeded if
// instructions nest deeper than [maxDepth]. A zero [maxDepth] disables the
// check.
func ParseWithMaxDepth(script string, maxDepth int) (Instruction, error) {
	p := &parser{lex: newLexer(script), maxDepth: maxDepth}
	if err := p.advance(); err != nil {
		return nil, err
	}
	instr, err := p.parseInstruction()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokenEOF {
		return nil, p.errorf("unexpected %s after the top-level instruction", p.tok.kind)
	}
	return instr, nil
}

type parser struct {
	lex      *lexer
	tok      token
	depth    int
	maxDepth int
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Line: p.tok.line, Col: p.tok.col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.tok
	if tok.kind != kind {
		return tok, p.errorf("expected %s, found %s", kind, describe(tok))
	}
	return tok, p.advance()
}

func describe(tok token) string {
	if tok.kind == tokenWord || tok.kind == tokenNumber {
		return fmt.Sprintf("%s %q", tok.kind, tok.text)
	}
	return tok.kind.String()
}

func (p *parser) parseInstruction() (Instruction, error) {
	open, err := p.expect(tokenLParen)
	if err != nil {
		return nil, err
	}
	p.depth++
	defer func() { p.depth-- }()
	if p.maxDepth > 0 && p.depth > p.maxDepth {
		return nil, fmt.Errorf("%w: limit is %d", ErrDepthExceeded, p.maxDepth)
	}

	keyword, err := p.expect(tokenWord)
	if err != nil {
		return nil, err
	}

	var instr Instruction
	switch keyword.text {
	case "call":
		instr, err = p.parseCall()
	case "ap":
		instr, err = p.parseAp()
	case "canon":
		instr, err = p.parseCanon()
	case "seq", "par", "xor":
		instr, err = p.parseBinary(keyword.text)
	case "match", "mismatch":
		instr, err = p.parseMatch(keyword.text == "match")
	case "fold":
		instr, err = p.parseFold()
	case "next":
		instr, err = p.parseNext()
	case "new":
		instr, err = p.parseNew(open.offset)
	case "fail":
		instr, err = p.parseFail()
	case "null":
		instr = &Null{}
	case "never":
		instr = &Never{}
	default:
		return nil, &ParseError{Line: keyword.line, Col: keyword.col, Msg: fmt.Sprintf("unknown instruction %q", keyword.text)}
	}
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenRParen); err != nil {
		return nil, err
	}
	return instr, nil
}

func (p *parser) parseBinary(keyword string) (Instruction, error) {
	left, err := p.parseInstruction()
	if err != nil {
		return nil, err
	}
	right, err := p.parseInstruction()
	if err != nil {
		return nil, err
	}
	switch keyword {
	case "seq":
		return &Seq{Left: left, Right: right}, nil
	case "par":
		return &Par{Left: left, Right: right}, nil
	default:
		return &Xor{Left: left, Right: right}, nil
	}
}

func (p *parser) parseCall() (Instruction, error) {
	peer, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := checkPeerValue(p, peer); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenLParen); err != nil {
		return nil, err
	}
	service, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	function, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenRParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenLBracket); err != nil {
		return nil, err
	}
	var args []Value
	for p.tok.kind != tokenRBracket {
		arg, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if _, ok := arg.(*Stream); ok {
			return nil, p.errorf("streams can't be passed to a call directly, canonicalize %s first", arg)
		}
		args = append(args, arg)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	call := &Call{
		Triplet: Triplet{PeerID: peer, ServiceID: service, FunctionName: function},
		Args:    args,
	}
	if p.tok.kind == tokenWord {
		name := p.tok.text
		switch {
		case strings.HasPrefix(name, "$") && isName(name[1:]):
			call.Output = CallOutput{Kind: OutputStream, Name: name}
		case isName(name):
			call.Output = CallOutput{Kind: OutputScalar, Name: name}
		default:
			return nil, p.errorf("invalid call output %q", name)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return call, nil
}

func checkPeerValue(p *parser, v Value) error {
	switch v.(type) {
	case *Stream, *EmptyArray:
		return p.errorf("%s can't be used as a peer id", v)
	}
	return nil
}

func (p *parser) parseAp() (Instruction, error) {
	arg, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if _, ok := arg.(*Stream); ok {
		return nil, p.errorf("ap can't take a stream as its argument")
	}
	dst, err := p.expect(tokenWord)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasPrefix(dst.text, "$") && isName(dst.text[1:]):
		return &Ap{Argument: arg, Result: ApResult{Stream: true, Name: dst.text}}, nil
	case isName(dst.text):
		return &Ap{Argument: arg, Result: ApResult{Name: dst.text}}, nil
	default:
		return nil, &ParseError{Line: dst.line, Col: dst.col, Msg: fmt.Sprintf("invalid ap destination %q", dst.text)}
	}
}

func (p *parser) parseCanon() (Instruction, error) {
	peer, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := checkPeerValue(p, peer); err != nil {
		return nil, err
	}
	stream, err := p.expect(tokenWord)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(stream.text, "$") || !isName(stream.text[1:]) {
		return nil, &ParseError{Line: stream.line, Col: stream.col, Msg: fmt.Sprintf("canon expects a stream, found %q", stream.text)}
	}
	canon, err := p.expect(tokenWord)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(canon.text, "#") || !isName(canon.text[1:]) {
		return nil, &ParseError{Line: canon.line, Col: canon.col, Msg: fmt.Sprintf("canon expects a canon stream name, found %q", canon.text)}
	}
	return &Canon{PeerID: peer, Stream: stream.text, CanonStream: canon.text}, nil
}

func (p *parser) parseMatch(match bool) (Instruction, error) {
	left, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	right, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	for _, v := range []Value{left, right} {
		if _, ok := v.(*Stream); ok {
			return nil, p.errorf("streams can't be matched, canonicalize %s first", v)
		}
	}
	body, err := p.parseInstruction()
	if err != nil {
		return nil, err
	}
	if match {
		return &Match{Left: left, Right: right, Body: body}, nil
	}
	return &MisMatch{Left: left, Right: right, Body: body}, nil
}

func (p *parser) parseFold() (Instruction, error) {
	iterable, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	iterator, err := p.expect(tokenWord)
	if err != nil {
		return nil, err
	}
	if !isName(iterator.text) {
		return nil, &ParseError{Line: iterator.line, Col: iterator.col, Msg: fmt.Sprintf("invalid fold iterator %q", iterator.text)}
	}
	body, err := p.parseInstruction()
	if err != nil {
		return nil, err
	}
	var last Instruction
	if p.tok.kind == tokenLParen {
		if last, err = p.parseInstruction(); err != nil {
			return nil, err
		}
	}

	switch it := iterable.(type) {
	case *Stream:
		return &FoldStream{Stream: it.Name, Iterator: iterator.text, Body: body, Last: last}, nil
	case *Scalar, *CanonStream, *EmptyArray:
		return &FoldScalar{Iterable: iterable, Iterator: iterator.text, Body: body, Last: last}, nil
	default:
		return nil, p.errorf("%s can't be iterated by fold", iterable)
	}
}

func (p *parser) parseNext() (Instruction, error) {
	iterator, err := p.expect(tokenWord)
	if err != nil {
		return nil, err
	}
	if !isName(iterator.text) {
		return nil, &ParseError{Line: iterator.line, Col: iterator.col, Msg: fmt.Sprintf("invalid iterator %q", iterator.text)}
	}
	return &Next{Iterator: iterator.text}, nil
}

func (p *parser) parseNew(offset int) (Instruction, error) {
	arg, err := p.expect(tokenWord)
	if err != nil {
		return nil, err
	}
	var kind NewKind
	switch {
	case strings.HasPrefix(arg.text, "$") && isName(arg.text[1:]):
		kind = NewStream
	case strings.HasPrefix(arg.text, "#") && isName(arg.text[1:]):
		kind = NewCanonStream
	case isName(arg.text):
		kind = NewScalar
	default:
		return nil, &ParseError{Line: arg.line, Col: arg.col, Msg: fmt.Sprintf("invalid new argument %q", arg.text)}
	}
	body, err := p.parseInstruction()
	if err != nil {
		return nil, err
	}
	return &New{Argument: NewArgument{Kind: kind, Name: arg.text}, Body: body, Position: offset}, nil
}

func (p *parser) parseFail() (Instruction, error) {
	switch p.tok.kind {
	case tokenNumber:
		code, err := strconv.ParseInt(p.tok.text, 10, 64)
		if err != nil {
			return nil, p.errorf("fail code must be an integer, found %q", p.tok.text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		msg, err := p.expect(tokenString)
		if err != nil {
			return nil, err
		}
		return &Fail{Kind: FailLiteral, Code: code, Message: msg.text}, nil
	case tokenWord:
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		switch val := v.(type) {
		case *LastError:
			if val.Lambda != nil {
				return nil, p.errorf("fail can't apply a lambda to %%last_error%%")
			}
			return &Fail{Kind: FailLastError}, nil
		case *ErrorValue:
			if val.Lambda != nil {
				return nil, p.errorf("fail can't apply a lambda to :error:")
			}
			return &Fail{Kind: FailError}, nil
		case *Scalar:
			return &Fail{Kind: FailScalar, Scalar: val}, nil
		}
		return nil, p.errorf("fail expects a scalar, found %s", v)
	default:
		return nil, p.errorf("fail expects a code and a message, found %s", describe(p.tok))
	}
}

func (p *parser) parseValue() (Value, error) {
	tok := p.tok
	switch tok.kind {
	case tokenString:
		return &Literal{Value: tok.text}, p.advance()
	case tokenNumber:
		if !json.Valid([]byte(tok.text)) {
			return nil, p.errorf("invalid number %q", tok.text)
		}
		return &Literal{Value: json.Number(tok.text)}, p.advance()
	case tokenLBracket:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRBracket); err != nil {
			return nil, err
		}
		return &EmptyArray{}, nil
	case tokenWord:
		v, err := parseWord(tok.text)
		if err != nil {
			return nil, &ParseError{Line: tok.line, Col: tok.col, Msg: err.Error()}
		}
		return v, p.advance()
	default:
		return nil, p.errorf("expected a value, found %s", describe(tok))
	}
}

func parseWord(word string) (Value, error) {
	switch word {
	case "true":
		return &Literal{Value: true}, nil
	case "false":
		return &Literal{Value: false}, nil
	case "nil":
		return &Literal{Value: nil}, nil
	case "%init_peer_id%":
		return &InitPeerID{}, nil
	case "%timestamp%":
		return &Timestamp{}, nil
	case "%ttl%":
		return &TTL{}, nil
	}

	if rest, ok := strings.CutPrefix(word, "%last_error%"); ok {
		lambda, err := optionalLambda(rest)
		return &LastError{Lambda: lambda}, err
	}
	if rest, ok := strings.CutPrefix(word, ":error:"); ok {
		lambda, err := optionalLambda(rest)
		return &ErrorValue{Lambda: lambda}, err
	}

	name, rest := splitName(word)
	switch {
	case strings.HasPrefix(name, "$"):
		if !isName(name[1:]) {
			return nil, fmt.Errorf("invalid stream name %q", name)
		}
		if rest != "" {
			return nil, fmt.Errorf("lambda can't be applied to stream %s, canonicalize it first", name)
		}
		return &Stream{Name: name}, nil
	case strings.HasPrefix(name, "#"):
		if !isName(name[1:]) {
			return nil, fmt.Errorf("invalid canon stream name %q", name)
		}
		lambda, err := optionalLambda(rest)
		return &CanonStream{Name: name, Lambda: lambda}, err
	case isName(name):
		lambda, err := optionalLambda(rest)
		return &Scalar{Name: name, Lambda: lambda}, err
	default:
		return nil, fmt.Errorf("invalid value %q", word)
	}
}

func splitName(word string) (string, string) {
	if i := strings.IndexByte(word, '.'); i >= 0 {
		return word[:i], word[i:]
	}
	return word, ""
}

func optionalLambda(s string) (*values.Lambda, error) {
	if s == "" {
		return nil, nil
	}
	return values.ParseLambda(s)
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && (c == '-' || (c >= '0' && c <= '9')):
		default:
			return false
		}
	}
	return true
}
