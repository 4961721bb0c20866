// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package interpreterdata

import (
	"fmt"

	"github.com/fluencelabs/aquavm-sub004/values"
)

// CidStore maps content identifiers to the values they identify.
type CidStore[T any] map[values.CID]T

// Put stores [v] under its CID and returns the CID.
func (s CidStore[T]) Put(v T) (values.CID, error) {
	c, err := values.ComputeCID(v)
	if err != nil {
		return "", err
	}
	s[c] = v
	return c, nil
}

// Insert stores [v] under an already known [c].
func (s CidStore[T]) Insert(c values.CID, v T) { s[c] = v }

func (s CidStore[T]) Get(c values.CID) (T, bool) {
	v, ok := s[c]
	return v, ok
}

// Verify recomputes the CID of every entry.
func (s CidStore[T]) Verify() error {
	for c, v := range s {
		if err := c.Verify(v); err != nil {
			return err
		}
	}
	return nil
}

// ServiceResultAggregate is what a scalar or stream call result points to.
type ServiceResultAggregate struct {
	ValueCID     values.CID `json:"value_cid"`
	ArgumentHash values.CID `json:"argument_hash"`
	TetrapletCID values.CID `json:"tetraplet_cid"`
}

// CanonElementAggregate is one element of a canon stream.
type CanonElementAggregate struct {
	ValueCID     values.CID        `json:"value"`
	TetrapletCID values.CID        `json:"tetraplet"`
	Provenance   values.Provenance `json:"provenance"`
}

// CanonResultAggregate is what a canon state points to.
type CanonResultAggregate struct {
	TetrapletCID values.CID   `json:"tetraplet"`
	Values       []values.CID `json:"values"`
}

// CidInfo holds the five content-addressed stores of an envelope.
type CidInfo struct {
	ValueStore         CidStore[interface{}]               `json:"value_store"`
	TetrapletStore     CidStore[*values.SecurityTetraplet] `json:"tetraplet_store"`
	CanonElementStore  CidStore[*CanonElementAggregate]    `json:"canon_element_store"`
	CanonResultStore   CidStore[*CanonResultAggregate]     `json:"canon_result_store"`
	ServiceResultStore CidStore[*ServiceResultAggregate]   `json:"service_result_store"`
}

// NewCidInfo returns empty stores.
func NewCidInfo() CidInfo {
	return CidInfo{
		ValueStore:         CidStore[interface{}]{},
		TetrapletStore:     CidStore[*values.SecurityTetraplet]{},
		CanonElementStore:  CidStore[*CanonElementAggregate]{},
		CanonResultStore:   CidStore[*CanonResultAggregate]{},
		ServiceResultStore: CidStore[*ServiceResultAggregate]{},
	}
}

// fillNil replaces stores missing from decoded JSON with empty ones.
func (c *CidInfo) fillNil() {
	if c.ValueStore == nil {
		c.ValueStore = CidStore[interface{}]{}
	}
	if c.TetrapletStore == nil {
		c.TetrapletStore = CidStore[*values.SecurityTetraplet]{}
	}
	if c.CanonElementStore == nil {
		c.CanonElementStore = CidStore[*CanonElementAggregate]{}
	}
	if c.CanonResultStore == nil {
		c.CanonResultStore = CidStore[*CanonResultAggregate]{}
	}
	if c.ServiceResultStore == nil {
		c.ServiceResultStore = CidStore[*ServiceResultAggregate]{}
	}
}

// Verify checks that every store entry is keyed by its own CID.
func (c *CidInfo) Verify() error {
	checks := []struct {
		name   string
		verify func() error
	}{
		{"value", c.ValueStore.Verify},
		{"tetraplet", c.TetrapletStore.Verify},
		{"canon element", c.CanonElementStore.Verify},
		{"canon result", c.CanonResultStore.Verify},
		{"service result", c.ServiceResultStore.Verify},
	}
	for _, check := range checks {
		if err := check.verify(); err != nil {
			return fmt.Errorf("%s store: %w", check.name, err)
		}
	}
	return nil
}
