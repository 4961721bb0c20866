// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package datastore

import (
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

var _ AnomalyState = &anomalyState{}

// AnomalyRecord keeps everything needed to replay an invocation that failed
// or took too long.
type AnomalyRecord struct {
	ParticleID    string `serialize:"true" json:"particleID"`
	PeerID        string `serialize:"true" json:"peerID"`
	Script        string `serialize:"true" json:"script"`
	PrevData      []byte `serialize:"true" json:"prevData"`
	CurrentData   []byte `serialize:"true" json:"currentData"`
	CallResults   []byte `serialize:"true" json:"callResults"`
	ResultData    []byte `serialize:"true" json:"resultData"`
	RetCode       int64  `serialize:"true" json:"retCode"`
	ErrorMessage  string `serialize:"true" json:"errorMessage"`
	ExecutionTime int64  `serialize:"true" json:"executionTime"`
	RecordedAt    int64  `serialize:"true" json:"recordedAt"`
}

type AnomalyState interface {
	GetAnomaly(id ids.ID) (*AnomalyRecord, error)
	// PutAnomaly stores [rec] under the hash of its serialized form.
	PutAnomaly(rec *AnomalyRecord) (ids.ID, error)
	// Anomalies returns the ids of every stored record in key order.
	Anomalies() ([]ids.ID, error)
}

type anomalyState struct {
	anomalyDB database.Database
}

func NewAnomalyState(db database.Database) AnomalyState {
	return &anomalyState{anomalyDB: db}
}

func (s *anomalyState) GetAnomaly(id ids.ID) (*AnomalyRecord, error) {
	bytes, err := s.anomalyDB.Get(id[:])
	if err != nil {
		return nil, err
	}
	rec := &AnomalyRecord{}
	parsedVersion, err := Codec.Unmarshal(bytes, rec)
	if err != nil {
		return nil, err
	}
	if parsedVersion != CodecVersion {
		return nil, errRecordWrongVersion
	}
	return rec, nil
}

func (s *anomalyState) PutAnomaly(rec *AnomalyRecord) (ids.ID, error) {
	bytes, err := Codec.Marshal(CodecVersion, rec)
	if err != nil {
		return ids.Empty, err
	}
	id := ids.ID(hashing.ComputeHash256Array(bytes))
	if err := s.anomalyDB.Put(id[:], bytes); err != nil {
		return ids.Empty, err
	}
	logger.Info("anomaly recorded",
		"id", id,
		"particleID", rec.ParticleID,
		"retCode", rec.RetCode,
	)
	return id, nil
}

func (s *anomalyState) Anomalies() ([]ids.ID, error) {
	it := s.anomalyDB.NewIterator()
	defer it.Release()

	var out []ids.ID
	for it.Next() {
		id, err := ids.ToID(it.Key())
		if err != nil {
			return nil, fmt.Errorf("malformed anomaly key: %w", err)
		}
		out = append(out, id)
	}
	return out, it.Error()
}
