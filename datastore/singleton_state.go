// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package datastore

import (
	"errors"

	"github.com/ava-labs/avalanchego/database"
	"golang.org/x/mod/semver"
)

const (
	IsInitializedKey byte = iota
	DataVersionKey
)

var (
	isInitializedKey = []byte{IsInitializedKey}
	dataVersionKey   = []byte{DataVersionKey}

	errStaleStore = errors.New("store holds data older than the oldest supported version")

	_ StoreInfoState = (*storeInfoState)(nil)
)

// StoreInfoState records whether the store was initialized and the envelope
// version of the data it holds.
type StoreInfoState interface {
	IsInitialized() (bool, error)
	// Initialize marks the store as holding envelopes of [dataVersion]. An
	// initialized store is accepted only if its version is at least
	// [minSupported].
	Initialize(dataVersion, minSupported string) error
	DataVersion() (string, error)
}

type storeInfoState struct {
	singletonDB database.Database
}

func NewStoreInfoState(db database.Database) StoreInfoState {
	return &storeInfoState{
		singletonDB: db,
	}
}

func (s *storeInfoState) IsInitialized() (bool, error) {
	return s.singletonDB.Has(isInitializedKey)
}

func (s *storeInfoState) DataVersion() (string, error) {
	v, err := s.singletonDB.Get(dataVersionKey)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (s *storeInfoState) Initialize(dataVersion, minSupported string) error {
	initialized, err := s.IsInitialized()
	if err != nil {
		return err
	}
	if initialized {
		stored, err := s.DataVersion()
		if err != nil {
			return err
		}
		if semver.Compare(canonical(stored), canonical(minSupported)) < 0 {
			return errStaleStore
		}
	}
	if err := s.singletonDB.Put(dataVersionKey, []byte(dataVersion)); err != nil {
		return err
	}
	return s.singletonDB.Put(isInitializedKey, nil)
}

func canonical(v string) string {
	if len(v) > 0 && v[0] != 'v' {
		return "v" + v
	}
	return v
}
