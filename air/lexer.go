// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package air

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type tokenKind uint8

const (
	tokenEOF tokenKind = iota
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenString
	tokenNumber
	tokenWord
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of input"
	case tokenLParen:
		return "'('"
	case tokenRParen:
		return "')'"
	case tokenLBracket:
		return "'['"
	case tokenRBracket:
		return "']'"
	case tokenString:
		return "string"
	case tokenNumber:
		return "number"
	default:
		return "word"
	}
}

type token struct {
	kind   tokenKind
	text   string
	offset int
	line   int
	col    int
}

// ParseError reports a lexical or syntactic error with its position.
type ParseError struct {
	Line int
	Col  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}

type lexer struct {
	src    string
	offset int
	line   int
	col    int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) errorf(line, col int, format string, args ...interface{}) error {
	return &ParseError{Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) peekByte() byte {
	if l.offset >= len(l.src) {
		return 0
	}
	return l.src[l.offset]
}

func (l *lexer) advance() rune {
	r, size := utf8.DecodeRuneInString(l.src[l.offset:])
	l.offset += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) skipSpaceAndComments() {
	for l.offset < len(l.src) {
		c := l.peekByte()
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.advance()
		case c == ';':
			for l.offset < len(l.src) && l.peekByte() != '\n' {
				l.advance()
			}
		default:
			return
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpaceAndComments()
	tok := token{offset: l.offset, line: l.line, col: l.col}
	if l.offset >= len(l.src) {
		tok.kind = tokenEOF
		return tok, nil
	}

	c := l.peekByte()
	switch {
	case c == '(':
		l.advance()
		tok.kind = tokenLParen
	case c == ')':
		l.advance()
		tok.kind = tokenRParen
	case c == '[':
		l.advance()
		tok.kind = tokenLBracket
	case c == ']':
		l.advance()
		tok.kind = tokenRBracket
	case c == '"':
		s, err := l.lexString()
		if err != nil {
			return tok, err
		}
		tok.kind = tokenString
		tok.text = s
	case c == '-' || (c >= '0' && c <= '9'):
		tok.kind = tokenNumber
		tok.text = l.lexNumber()
		if tok.text == "-" {
			return tok, l.errorf(tok.line, tok.col, "expected digits after '-'")
		}
	default:
		word := l.lexWord()
		if word == "" {
			return tok, l.errorf(tok.line, tok.col, "unexpected character %q", c)
		}
		tok.kind = tokenWord
		tok.text = word
	}
	return tok, nil
}

func (l *lexer) lexString() (string, error) {
	line, col := l.line, l.col
	l.advance()
	var b strings.Builder
	for {
		if l.offset >= len(l.src) {
			return "", l.errorf(line, col, "unterminated string literal")
		}
		r := l.advance()
		switch r {
		case '"':
			return b.String(), nil
		case '\\':
			if l.offset >= len(l.src) {
				return "", l.errorf(line, col, "unterminated string literal")
			}
			esc := l.advance()
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '"', '\\':
				b.WriteRune(esc)
			default:
				return "", l.errorf(l.line, l.col-2, "unknown escape sequence \\%c", esc)
			}
		default:
			b.WriteRune(r)
		}
	}
}

func (l *lexer) lexNumber() string {
	start := l.offset
	if l.peekByte() == '-' {
		l.advance()
	}
	digits := func() {
		for c := l.peekByte(); c >= '0' && c <= '9'; c = l.peekByte() {
			l.advance()
		}
	}
	digits()
	if l.peekByte() == '.' {
		l.advance()
		digits()
	}
	if c := l.peekByte(); c == 'e' || c == 'E' {
		l.advance()
		if c := l.peekByte(); c == '+' || c == '-' {
			l.advance()
		}
		digits()
	}
	return l.src[start:l.offset]
}

// lexWord reads identifiers, variables with their lambdas and the special
// %...% and :error: values. A '[' is part of a word only right after a '.',
// which is how lambda indices are written.
func (l *lexer) lexWord() string {
	start := l.offset
	for l.offset < len(l.src) {
		c := l.peekByte()
		switch {
		case isWordByte(c):
			l.advance()
		case c == '[' && l.offset > start && l.src[l.offset-1] == '.':
			for l.offset < len(l.src) && l.peekByte() != ']' {
				l.advance()
			}
			if l.offset < len(l.src) {
				l.advance()
			}
		default:
			return l.src[start:l.offset]
		}
	}
	return l.src[start:l.offset]
}

func isWordByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-' || c == '$' || c == '#' || c == '%' || c == ':' || c == '.' || c == '!':
		return true
	default:
		return false
	}
}
