// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"fmt"

	"github.com/fluencelabs/aquavm-sub004/interpreterdata"
	"github.com/fluencelabs/aquavm-sub004/values"
)

// CidState reads values referenced by the input traces and collects
// everything the result trace references into the result stores.
type CidState struct {
	input  interpreterdata.CidInfo
	Result interpreterdata.CidInfo
}

func NewCidState(prev, current interpreterdata.CidInfo) *CidState {
	input := interpreterdata.NewCidInfo()
	for _, info := range []interpreterdata.CidInfo{prev, current} {
		merge(input.ValueStore, info.ValueStore)
		merge(input.TetrapletStore, info.TetrapletStore)
		merge(input.CanonElementStore, info.CanonElementStore)
		merge(input.CanonResultStore, info.CanonResultStore)
		merge(input.ServiceResultStore, info.ServiceResultStore)
	}
	return &CidState{input: input, Result: interpreterdata.NewCidInfo()}
}

func merge[T any](dst, src interpreterdata.CidStore[T]) {
	for c, v := range src {
		dst.Insert(c, v)
	}
}

// fetch looks [c] up and copies it into the result store.
func fetch[T any](result, input interpreterdata.CidStore[T], c values.CID, name string) (T, error) {
	if v, ok := result.Get(c); ok {
		return v, nil
	}
	v, ok := input.Get(c)
	if !ok {
		var zero T
		return zero, uncatchable(ValueNotFoundInStores, nil, "%s %s", name, c)
	}
	result.Insert(c, v)
	return v, nil
}

// TrackServiceResult stores a fresh call result and returns the CID of its
// service result aggregate.
func (s *CidState) TrackServiceResult(
	value interface{},
	tetraplet *values.SecurityTetraplet,
	args []interface{},
) (values.CID, error) {
	valueCID, err := s.Result.ValueStore.Put(value)
	if err != nil {
		return "", uncatchable(ValueSerializationError, err, "service result")
	}
	tetrapletCID, err := s.Result.TetrapletStore.Put(tetraplet)
	if err != nil {
		return "", uncatchable(ValueSerializationError, err, "tetraplet")
	}
	argumentHash, err := values.ComputeCID(args)
	if err != nil {
		return "", uncatchable(ValueSerializationError, err, "arguments")
	}
	c, err := s.Result.ServiceResultStore.Put(&interpreterdata.ServiceResultAggregate{
		ValueCID:     valueCID,
		ArgumentHash: argumentHash,
		TetrapletCID: tetrapletCID,
	})
	if err != nil {
		return "", uncatchable(ValueSerializationError, err, "service result aggregate")
	}
	return c, nil
}

// ResolveServiceResult returns the value a call state points to.
func (s *CidState) ResolveServiceResult(c values.CID) (*ValueAggregate, error) {
	aggregate, err := fetch(s.Result.ServiceResultStore, s.input.ServiceResultStore, c, "service result")
	if err != nil {
		return nil, err
	}
	value, err := fetch(s.Result.ValueStore, s.input.ValueStore, aggregate.ValueCID, "value")
	if err != nil {
		return nil, err
	}
	tetraplet, err := fetch(s.Result.TetrapletStore, s.input.TetrapletStore, aggregate.TetrapletCID, "tetraplet")
	if err != nil {
		return nil, err
	}
	return &ValueAggregate{
		Result:     value,
		Tetraplet:  tetraplet,
		Provenance: values.ServiceResultProvenance(c),
		TracePos:   -1,
	}, nil
}

// TrackCanonResult stores a canon stream built by this peer.
func (s *CidState) TrackCanonResult(tetraplet *values.SecurityTetraplet, elements []*ValueAggregate) (*CanonStream, error) {
	tetrapletCID, err := s.Result.TetrapletStore.Put(tetraplet)
	if err != nil {
		return nil, uncatchable(ValueSerializationError, err, "canon tetraplet")
	}
	elementCIDs := make([]values.CID, 0, len(elements))
	for _, el := range elements {
		valueCID, err := s.Result.ValueStore.Put(el.Result)
		if err != nil {
			return nil, uncatchable(ValueSerializationError, err, "canon element")
		}
		elTetrapletCID, err := s.Result.TetrapletStore.Put(el.Tetraplet)
		if err != nil {
			return nil, uncatchable(ValueSerializationError, err, "canon element tetraplet")
		}
		c, err := s.Result.CanonElementStore.Put(&interpreterdata.CanonElementAggregate{
			ValueCID:     valueCID,
			TetrapletCID: elTetrapletCID,
			Provenance:   el.Provenance,
		})
		if err != nil {
			return nil, uncatchable(ValueSerializationError, err, "canon element aggregate")
		}
		elementCIDs = append(elementCIDs, c)
	}
	c, err := s.Result.CanonResultStore.Put(&interpreterdata.CanonResultAggregate{
		TetrapletCID: tetrapletCID,
		Values:       elementCIDs,
	})
	if err != nil {
		return nil, uncatchable(ValueSerializationError, err, "canon result")
	}
	return canonStreamFrom(c, tetraplet, elements), nil
}

func canonStreamFrom(c values.CID, tetraplet *values.SecurityTetraplet, elements []*ValueAggregate) *CanonStream {
	vals := make([]*ValueAggregate, len(elements))
	for i, el := range elements {
		vals[i] = &ValueAggregate{
			Result:     el.Result,
			Tetraplet:  el.Tetraplet,
			Provenance: values.CanonProvenance(c),
			TracePos:   -1,
		}
	}
	return &CanonStream{CID: c, Tetraplet: tetraplet, Values: vals}
}

// ResolveCanonResult returns the canon stream a canon state points to.
func (s *CidState) ResolveCanonResult(c values.CID) (*CanonStream, error) {
	result, err := fetch(s.Result.CanonResultStore, s.input.CanonResultStore, c, "canon result")
	if err != nil {
		return nil, err
	}
	tetraplet, err := fetch(s.Result.TetrapletStore, s.input.TetrapletStore, result.TetrapletCID, "tetraplet")
	if err != nil {
		return nil, err
	}
	elements := make([]*ValueAggregate, 0, len(result.Values))
	for _, elCID := range result.Values {
		el, err := fetch(s.Result.CanonElementStore, s.input.CanonElementStore, elCID, "canon element")
		if err != nil {
			return nil, err
		}
		value, err := fetch(s.Result.ValueStore, s.input.ValueStore, el.ValueCID, "value")
		if err != nil {
			return nil, err
		}
		elTetraplet, err := fetch(s.Result.TetrapletStore, s.input.TetrapletStore, el.TetrapletCID, "tetraplet")
		if err != nil {
			return nil, err
		}
		if el.Provenance.Kind == values.ProvenanceServiceResult {
			if _, err := fetch(s.Result.ServiceResultStore, s.input.ServiceResultStore, el.Provenance.CID, "service result"); err != nil {
				return nil, err
			}
		}
		elements = append(elements, &ValueAggregate{Result: value, Tetraplet: elTetraplet})
	}
	return canonStreamFrom(c, tetraplet, elements), nil
}

// Validate checks that every CID referenced by the result stores resolves.
func (s *CidState) Validate() error {
	for c, sr := range s.Result.ServiceResultStore {
		if _, ok := s.Result.ValueStore[sr.ValueCID]; !ok {
			return fmt.Errorf("service result %s references missing value %s", c, sr.ValueCID)
		}
		if _, ok := s.Result.TetrapletStore[sr.TetrapletCID]; !ok {
			return fmt.Errorf("service result %s references missing tetraplet %s", c, sr.TetrapletCID)
		}
	}
	for c, cr := range s.Result.CanonResultStore {
		if _, ok := s.Result.TetrapletStore[cr.TetrapletCID]; !ok {
			return fmt.Errorf("canon result %s references missing tetraplet %s", c, cr.TetrapletCID)
		}
		for _, el := range cr.Values {
			if _, ok := s.Result.CanonElementStore[el]; !ok {
				return fmt.Errorf("canon result %s references missing element %s", c, el)
			}
		}
	}
	return nil
}
