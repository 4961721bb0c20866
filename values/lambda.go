// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package values

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AccessorKind tells how an accessor selects a sub-value.
type AccessorKind uint8

const (
	FieldAccessor AccessorKind = iota
	IndexAccessor
	ScalarIndexAccessor
)

// Accessor is one step of a lambda path.
type Accessor struct {
	Kind   AccessorKind
	Field  string
	Index  uint32
	Scalar string
}

func (a Accessor) String() string {
	switch a.Kind {
	case FieldAccessor:
		return "." + a.Field
	case IndexAccessor:
		return ".[" + strconv.FormatUint(uint64(a.Index), 10) + "]"
	default:
		return ".[" + a.Scalar + "]"
	}
}

// Lambda is a path applied to a JSON value, either a chain of accessors
// (`.$.field.[0].[idx]!`) or the `.length` functor.
type Lambda struct {
	Accessors []Accessor
	Length    bool
	Flatten   bool
}

// LambdaErrorKind classifies lambda failures.
type LambdaErrorKind uint8

const (
	LambdaFieldNotFound LambdaErrorKind = iota
	LambdaIndexOutOfRange
	LambdaNotAnObject
	LambdaNotAnArray
	LambdaInvalidIndex
	LambdaLengthOfNonArray
)

// LambdaError is returned when a lambda can't be applied to a value.
type LambdaError struct {
	Kind LambdaErrorKind
	Msg  string
}

func (e *LambdaError) Error() string { return e.Msg }

// IndexResolver resolves the value of a scalar used as an array index.
type IndexResolver func(name string) (interface{}, error)

// ParseLambda parses the textual form of a lambda.
func ParseLambda(s string) (*Lambda, error) {
	if s == ".length" {
		return &Lambda{Length: true}, nil
	}
	if !strings.HasPrefix(s, ".$") {
		return nil, fmt.Errorf("lambda %q must start with .$ or be .length", s)
	}
	body := s[2:]
	l := &Lambda{}
	if strings.HasSuffix(body, "!") {
		l.Flatten = true
		body = body[:len(body)-1]
	}
	for len(body) > 0 {
		if body[0] != '.' {
			return nil, fmt.Errorf("lambda %q: expected '.' at %q", s, body)
		}
		body = body[1:]
		if strings.HasPrefix(body, "[") {
			end := strings.IndexByte(body, ']')
			if end < 0 {
				return nil, fmt.Errorf("lambda %q: unterminated index", s)
			}
			inner := body[1:end]
			body = body[end+1:]
			if inner == "" {
				return nil, fmt.Errorf("lambda %q: empty index", s)
			}
			if idx, err := strconv.ParseUint(inner, 10, 32); err == nil {
				l.Accessors = append(l.Accessors, Accessor{Kind: IndexAccessor, Index: uint32(idx)})
				continue
			}
			if !isIdent(inner) {
				return nil, fmt.Errorf("lambda %q: invalid index %q", s, inner)
			}
			l.Accessors = append(l.Accessors, Accessor{Kind: ScalarIndexAccessor, Scalar: inner})
			continue
		}
		end := strings.IndexByte(body, '.')
		if end < 0 {
			end = len(body)
		}
		field := body[:end]
		body = body[end:]
		if !isIdent(field) {
			return nil, fmt.Errorf("lambda %q: invalid field name %q", s, field)
		}
		l.Accessors = append(l.Accessors, Accessor{Kind: FieldAccessor, Field: field})
	}
	if len(l.Accessors) == 0 {
		return nil, fmt.Errorf("lambda %q has no accessors", s)
	}
	return l, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r == '-' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

func (l *Lambda) String() string {
	if l == nil {
		return ""
	}
	if l.Length {
		return ".length"
	}
	var b strings.Builder
	b.WriteString(".$")
	for _, a := range l.Accessors {
		b.WriteString(a.String())
	}
	if l.Flatten {
		b.WriteString("!")
	}
	return b.String()
}

// Apply applies [l] to [v]. It returns the selected value and the path with
// scalar indices replaced by their resolved values, which is what tetraplets
// record.
func (l *Lambda) Apply(v interface{}, resolve IndexResolver) (interface{}, string, error) {
	if l.Length {
		arr, ok := v.([]interface{})
		if !ok {
			return nil, "", &LambdaError{
				Kind: LambdaLengthOfNonArray,
				Msg:  fmt.Sprintf("length functor applied to %s", TypeName(v)),
			}
		}
		return json.Number(strconv.Itoa(len(arr))), ".length", nil
	}

	var path strings.Builder
	path.WriteString(".$")
	current := v
	for _, a := range l.Accessors {
		switch a.Kind {
		case FieldAccessor:
			obj, ok := current.(map[string]interface{})
			if !ok {
				return nil, "", &LambdaError{
					Kind: LambdaNotAnObject,
					Msg:  fmt.Sprintf("field accessor %q applied to %s", a.Field, TypeName(current)),
				}
			}
			next, ok := obj[a.Field]
			if !ok {
				return nil, "", &LambdaError{
					Kind: LambdaFieldNotFound,
					Msg:  fmt.Sprintf("field %q not found", a.Field),
				}
			}
			current = next
			path.WriteString(a.String())
		case IndexAccessor, ScalarIndexAccessor:
			idx := a.Index
			if a.Kind == ScalarIndexAccessor {
				resolved, err := resolveIndex(a.Scalar, resolve)
				if err != nil {
					return nil, "", err
				}
				idx = resolved
			}
			selected, err := SelectIndex(current, idx)
			if err != nil {
				return nil, "", err
			}
			current = selected
			path.WriteString(Accessor{Kind: IndexAccessor, Index: idx}.String())
		}
	}
	if l.Flatten {
		path.WriteString("!")
	}
	return current, path.String(), nil
}

// SelectIndex returns the element [idx] of the array [v].
func SelectIndex(v interface{}, idx uint32) (interface{}, error) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, &LambdaError{
			Kind: LambdaNotAnArray,
			Msg:  fmt.Sprintf("index accessor [%d] applied to %s", idx, TypeName(v)),
		}
	}
	if int(idx) >= len(arr) {
		return nil, &LambdaError{
			Kind: LambdaIndexOutOfRange,
			Msg:  fmt.Sprintf("index %d out of range for array of length %d", idx, len(arr)),
		}
	}
	return arr[idx], nil
}

// ResolveIndex applies the scalar index accessor [a] using [resolve].
func (a Accessor) ResolveIndex(resolve IndexResolver) (uint32, error) {
	if a.Kind == IndexAccessor {
		return a.Index, nil
	}
	return resolveIndex(a.Scalar, resolve)
}

func resolveIndex(name string, resolve IndexResolver) (uint32, error) {
	if resolve == nil {
		return 0, &LambdaError{Kind: LambdaInvalidIndex, Msg: fmt.Sprintf("can't resolve index %q", name)}
	}
	v, err := resolve(name)
	if err != nil {
		return 0, err
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, &LambdaError{
			Kind: LambdaInvalidIndex,
			Msg:  fmt.Sprintf("index %q is %s, expected a number", name, TypeName(v)),
		}
	}
	idx, err := strconv.ParseUint(n.String(), 10, 32)
	if err != nil {
		return 0, &LambdaError{
			Kind: LambdaInvalidIndex,
			Msg:  fmt.Sprintf("index %q has value %s, expected a non-negative integer", name, n),
		}
	}
	return uint32(idx), nil
}
