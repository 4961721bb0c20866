// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package values holds the JSON value model shared by the interpreter: the
// canonical encoding, content identifiers, security tetraplets and lambda
// accessors.
package values

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var errTrailingData = errors.New("unexpected trailing data after JSON value")

// Parse decodes [raw] into the generic value model. Numbers are kept as
// json.Number so that integer precision survives a round trip.
func Parse(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errTrailingData
	}
	return v, nil
}

// Normalize converts any JSON-marshallable Go value into the generic value
// model (maps, slices, strings, json.Number, bools and nil).
func Normalize(v interface{}) (interface{}, error) {
	switch v.(type) {
	case nil, string, bool, json.Number:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Canonical returns the canonical JSON encoding of [v]: object keys sorted,
// no insignificant whitespace and no HTML escaping.
func Canonical(v interface{}) ([]byte, error) {
	normalized, err := Normalize(v)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MustCanonical is Canonical for values known to be serializable.
func MustCanonical(v interface{}) []byte {
	b, err := Canonical(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Equal reports whether two values are equal as JSON values. Numbers compare
// by their numeric value, objects by their key sets.
func Equal(a, b interface{}) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case json.Number:
		bv, ok := b.(json.Number)
		return ok && numbersEqual(av, bv)
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	default:
		na, errA := Normalize(a)
		nb, errB := Normalize(b)
		if errA != nil || errB != nil {
			return false
		}
		return Equal(na, nb)
	}
}

func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	ai, errA := a.Int64()
	bi, errB := b.Int64()
	if errA == nil && errB == nil {
		return ai == bi
	}
	af, errA := a.Float64()
	bf, errB := b.Float64()
	return errA == nil && errB == nil && af == bf
}

// TypeName names the JSON type of [v] for error messages.
func TypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number, float64, int, int64, uint32, uint64:
		return "number"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// SortedKeys returns the keys of [m] in lexicographic order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
