// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package datastore keeps what a peer remembers between invocations: the
// data it produced for every particle and the anomalies it ran into.
package datastore

import (
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/database/versiondb"
	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	logger = log.New("module", "datastore")

	// Every sub state lives under its own prefix.
	singletonStatePrefix = []byte("singleton")
	particleStatePrefix  = []byte("particle")
	anomalyStatePrefix   = []byte("anomaly")

	_ State = &state{}
)

// State groups the sub states of the store. Writes become visible to the
// underlying database on Commit.
type State interface {
	StoreInfoState
	ParticleState
	AnomalyState

	Commit() error
	Abort()
	Close() error
}

type state struct {
	StoreInfoState
	ParticleState
	AnomalyState

	baseDB *versiondb.Database
}

// NewState builds the store on top of [db]. Cache metrics are registered
// with [registerer].
func NewState(db database.Database, registerer prometheus.Registerer) (State, error) {
	baseDB := versiondb.New(db)

	particles, err := NewParticleState(prefixdb.New(particleStatePrefix, baseDB), registerer)
	if err != nil {
		return nil, err
	}
	return &state{
		StoreInfoState: NewStoreInfoState(prefixdb.New(singletonStatePrefix, baseDB)),
		ParticleState:  particles,
		AnomalyState:   NewAnomalyState(prefixdb.New(anomalyStatePrefix, baseDB)),
		baseDB:         baseDB,
	}, nil
}

// Commit commits pending operations to the underlying database
func (s *state) Commit() error {
	return s.baseDB.Commit()
}

// Abort drops pending operations
func (s *state) Abort() {
	s.baseDB.Abort()
	s.ParticleState.ClearCache()
}

// Close closes the underlying database
func (s *state) Close() error {
	return s.baseDB.Close()
}
