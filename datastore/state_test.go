// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package datastore

import (
	"testing"
	"time"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) (State, database.Database) {
	db := memdb.New()
	s, err := NewState(db, nil)
	require.NoError(t, err)
	return s, db
}

func TestParticleRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s, _ := newTestState(t)
	rec := &ParticleRecord{
		ParticleID: "p1",
		PeerID:     "peer",
		Data:       []byte(`{"trace":[]}`),
		Timestamp:  1000,
		TTL:        500,
	}
	require.NoError(s.PutParticle(rec))

	got, err := s.GetParticle("p1", "peer")
	require.NoError(err)
	assert.Equal(rec.Data, got.Data)

	_, err = s.GetParticle("p1", "other")
	assert.ErrorIs(err, database.ErrNotFound)

	require.NoError(s.DeleteParticle("p1", "peer"))
	_, err = s.GetParticle("p1", "peer")
	assert.ErrorIs(err, database.ErrNotFound)
}

func TestCommitAndAbort(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s, db := newTestState(t)
	require.NoError(s.PutParticle(&ParticleRecord{ParticleID: "a", PeerID: "p", Data: []byte("1")}))
	require.NoError(s.Commit())

	require.NoError(s.PutParticle(&ParticleRecord{ParticleID: "b", PeerID: "p", Data: []byte("2")}))
	s.Abort()

	reopened, err := NewState(db, nil)
	require.NoError(err)
	got, err := reopened.GetParticle("a", "p")
	require.NoError(err)
	assert.Equal([]byte("1"), got.Data)

	_, err = reopened.GetParticle("b", "p")
	assert.ErrorIs(err, database.ErrNotFound)
	_, err = s.GetParticle("b", "p")
	assert.ErrorIs(err, database.ErrNotFound)
}

func TestParticleExpiry(t *testing.T) {
	assert := assert.New(t)

	rec := &ParticleRecord{Timestamp: 1000, TTL: 500}
	assert.False(rec.Expired(time.UnixMilli(1500)))
	assert.True(rec.Expired(time.UnixMilli(1501)))

	rec.TTL = 0
	assert.False(rec.Expired(time.UnixMilli(1 << 40)))
}

func TestParticleKeyDistinguishesPairs(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(ParticleKey("a", "b"), ParticleKey("a", "b"))
	assert.NotEqual(ParticleKey("ab", "c"), ParticleKey("a", "bc"))
}

func TestAnomalies(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s, _ := newTestState(t)
	first, err := s.PutAnomaly(&AnomalyRecord{ParticleID: "p1", RetCode: 20003, ErrorMessage: "boom"})
	require.NoError(err)
	second, err := s.PutAnomaly(&AnomalyRecord{ParticleID: "p2", ExecutionTime: 9000})
	require.NoError(err)
	assert.NotEqual(first, second)

	listed, err := s.Anomalies()
	require.NoError(err)
	assert.ElementsMatch([]ids.ID{first, second}, listed)

	rec, err := s.GetAnomaly(first)
	require.NoError(err)
	assert.Equal("p1", rec.ParticleID)
	assert.Equal(int64(20003), rec.RetCode)
	assert.Equal("boom", rec.ErrorMessage)
}

func TestInitialize(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s, _ := newTestState(t)
	initialized, err := s.IsInitialized()
	require.NoError(err)
	assert.False(initialized)

	require.NoError(s.Initialize("0.2.0", "0.1.0"))
	initialized, err = s.IsInitialized()
	require.NoError(err)
	assert.True(initialized)

	version, err := s.DataVersion()
	require.NoError(err)
	assert.Equal("0.2.0", version)

	require.NoError(s.Initialize("0.3.0", "0.2.0"))
	assert.ErrorIs(s.Initialize("0.4.0", "0.4.0"), errStaleStore)
}

func TestBadgerPersists(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	db, err := OpenBadger(dir)
	require.NoError(err)
	s, err := NewState(db, nil)
	require.NoError(err)
	require.NoError(s.PutParticle(&ParticleRecord{ParticleID: "a", PeerID: "p", Data: []byte("stored")}))
	require.NoError(s.Commit())
	require.NoError(db.Close())

	db, err = OpenBadger(dir)
	require.NoError(err)
	defer db.Close()
	s, err = NewState(db, nil)
	require.NoError(err)
	got, err := s.GetParticle("a", "p")
	require.NoError(err)
	assert.Equal([]byte("stored"), got.Data)
}
