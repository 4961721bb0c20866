// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package datastore

import (
	"errors"
	"time"

	"github.com/ava-labs/avalanchego/cache"
	"github.com/ava-labs/avalanchego/cache/metercacher"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	particleCacheSize = 8192
)

var (
	errRecordWrongVersion = errors.New("wrong version")

	_ ParticleState = &particleState{}
)

// ParticleRecord is the data a peer produced for a particle.
type ParticleRecord struct {
	ParticleID string `serialize:"true" json:"particleID"`
	PeerID     string `serialize:"true" json:"peerID"`
	Data       []byte `serialize:"true" json:"data"`
	// Timestamp is the particle creation time in milliseconds and TTL its
	// lifetime in milliseconds.
	Timestamp uint64 `serialize:"true" json:"timestamp"`
	TTL       uint32 `serialize:"true" json:"ttl"`
	UpdatedAt int64  `serialize:"true" json:"updatedAt"`
}

// Key is the id [r] is stored under.
func (r *ParticleRecord) Key() ids.ID { return ParticleKey(r.ParticleID, r.PeerID) }

// Expired reports whether the particle is dead at [now].
func (r *ParticleRecord) Expired(now time.Time) bool {
	if r.TTL == 0 {
		return false
	}
	deadline := r.Timestamp + uint64(r.TTL)
	return uint64(now.UnixMilli()) > deadline
}

// ParticleKey derives the storage id of the data of [particleID] on
// [peerID].
func ParticleKey(particleID, peerID string) ids.ID {
	key := make([]byte, 0, len(particleID)+len(peerID)+1)
	key = append(key, particleID...)
	key = append(key, 0)
	key = append(key, peerID...)
	return hashing.ComputeHash256Array(key)
}

type ParticleState interface {
	GetParticle(particleID, peerID string) (*ParticleRecord, error)
	PutParticle(rec *ParticleRecord) error
	DeleteParticle(particleID, peerID string) error

	ClearCache()
}

type particleState struct {
	cache      cache.Cacher
	particleDB database.Database
}

func NewParticleState(db database.Database, registerer prometheus.Registerer) (ParticleState, error) {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	c, err := metercacher.New(
		"particle_cache",
		registerer,
		&cache.LRU{Size: particleCacheSize},
	)
	if err != nil {
		return nil, err
	}
	return &particleState{
		cache:      c,
		particleDB: db,
	}, nil
}

// GetParticle returns database.ErrNotFound when nothing is stored for the
// pair.
func (s *particleState) GetParticle(particleID, peerID string) (*ParticleRecord, error) {
	key := ParticleKey(particleID, peerID)
	if cached, ok := s.cache.Get(key); ok {
		if cached == nil {
			return nil, database.ErrNotFound
		}
		return cached.(*ParticleRecord), nil
	}

	recBytes, err := s.particleDB.Get(key[:])
	if err == database.ErrNotFound {
		s.cache.Put(key, nil)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	rec := &ParticleRecord{}
	parsedVersion, err := Codec.Unmarshal(recBytes, rec)
	if err != nil {
		return nil, err
	}
	if parsedVersion != CodecVersion {
		return nil, errRecordWrongVersion
	}

	s.cache.Put(key, rec)
	return rec, nil
}

func (s *particleState) PutParticle(rec *ParticleRecord) error {
	bytes, err := Codec.Marshal(CodecVersion, rec)
	if err != nil {
		return err
	}

	key := rec.Key()
	s.cache.Put(key, rec)
	return s.particleDB.Put(key[:], bytes)
}

func (s *particleState) DeleteParticle(particleID, peerID string) error {
	key := ParticleKey(particleID, peerID)
	s.cache.Put(key, nil)
	return s.particleDB.Delete(key[:])
}

func (s *particleState) ClearCache() {
	s.cache.Flush()
}
