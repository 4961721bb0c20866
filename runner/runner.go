// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package runner hosts the interpreter on a peer: it remembers the data the
// peer produced for every particle and feeds it back on the next invocation.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ava-labs/avalanchego/database"
	"github.com/google/uuid"
	log "github.com/inconshreveable/log15"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluencelabs/aquavm-sub004/datastore"
	"github.com/fluencelabs/aquavm-sub004/execution"
	"github.com/fluencelabs/aquavm-sub004/interpreter"
	"github.com/fluencelabs/aquavm-sub004/interpreterdata"
	"github.com/fluencelabs/aquavm-sub004/signatures"
)

const defaultSlowThreshold = 2 * time.Second

var (
	logger = log.New("module", "runner")

	errNoPeerID = errors.New("runner needs a peer id")
	errNoScript = errors.New("particle has no script")
)

// Config describes the peer a runner works for.
type Config struct {
	// Interpreter is the interpreter configuration. The zero value selects
	// the defaults.
	Interpreter interpreter.Config
	PeerID      string
	KeyFormat   signatures.KeyFormat
	SecretKey   []byte
	// SlowThreshold is the execution time above which an invocation is
	// recorded as an anomaly. Zero selects the default.
	SlowThreshold time.Duration
}

// Particle is what arrives from the network.
type Particle struct {
	ID         string `json:"id" yaml:"id"`
	InitPeerID string `json:"init_peer_id" yaml:"init_peer_id"`
	Script     string `json:"script" yaml:"script"`
	Data       []byte `json:"data" yaml:"data"`
	Timestamp  uint64 `json:"timestamp" yaml:"timestamp"`
	TTL        uint32 `json:"ttl" yaml:"ttl"`
}

// Result is the outcome of executing a particle on this peer.
type Result struct {
	*interpreter.Outcome

	ParticleID    string
	ExecutionTime time.Duration
	// Anomaly is set when the invocation was recorded as an anomaly.
	Anomaly bool
}

// Runner executes particles one at a time against its store.
type Runner struct {
	lock sync.Mutex

	vm     *interpreter.VM
	state  datastore.State
	config Config

	clock func() time.Time
}

func New(config Config, state datastore.State) (*Runner, error) {
	if config.PeerID == "" {
		return nil, errNoPeerID
	}
	if config.Interpreter == (interpreter.Config{}) {
		config.Interpreter = interpreter.DefaultConfig()
	}
	if config.SlowThreshold == 0 {
		config.SlowThreshold = defaultSlowThreshold
	}
	initialized, err := state.IsInitialized()
	if err != nil {
		return nil, err
	}
	if err := state.Initialize(interpreterdata.DataVersion, config.Interpreter.MinSupportedDataVersion); err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}
	if err := state.Commit(); err != nil {
		return nil, err
	}
	logger.Info("runner started", "peerID", config.PeerID, "storeExisted", initialized)
	return &Runner{
		vm:     interpreter.New(config.Interpreter),
		state:  state,
		config: config,
		clock:  time.Now,
	}, nil
}

// PeerID is the peer this runner executes particles for.
func (r *Runner) PeerID() string { return r.config.PeerID }

// Execute runs [p] with [callResults] on top of the data this peer stored
// for it. A particle without an id gets a fresh one.
func (r *Runner) Execute(ctx context.Context, p Particle, callResults execution.CallResults) (*Result, error) {
	if p.Script == "" {
		return nil, errNoScript
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.InitPeerID == "" {
		p.InitPeerID = r.config.PeerID
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("particle_id", p.ID))

	prevData, err := r.prevData(p)
	if err != nil {
		r.state.Abort()
		return nil, err
	}

	start := r.clock()
	outcome := r.vm.Invoke(ctx, p.Script, prevData, p.Data, callResults, interpreter.RunParameters{
		InitPeerID:    p.InitPeerID,
		CurrentPeerID: r.config.PeerID,
		Timestamp:     p.Timestamp,
		TTL:           p.TTL,
		KeyFormat:     r.config.KeyFormat,
		SecretKey:     r.config.SecretKey,
		ParticleID:    p.ID,
	})
	elapsed := r.clock().Sub(start)
	span.AddEvent("invoked", trace.WithAttributes(
		attribute.Int64("ret_code", outcome.RetCode),
		attribute.Int64("execution_time_ms", elapsed.Milliseconds()),
	))

	result := &Result{
		Outcome:       outcome,
		ParticleID:    p.ID,
		ExecutionTime: elapsed,
	}

	if producedData(outcome.RetCode) {
		err := r.state.PutParticle(&datastore.ParticleRecord{
			ParticleID: p.ID,
			PeerID:     r.config.PeerID,
			Data:       outcome.Data,
			Timestamp:  p.Timestamp,
			TTL:        p.TTL,
			UpdatedAt:  r.clock().Unix(),
		})
		if err != nil {
			r.state.Abort()
			return nil, fmt.Errorf("store particle data: %w", err)
		}
	}

	if isAnomaly(outcome.RetCode) || elapsed > r.config.SlowThreshold {
		if err := r.recordAnomaly(p, prevData, callResults, outcome, elapsed); err != nil {
			r.state.Abort()
			return nil, err
		}
		result.Anomaly = true
	}

	if err := r.state.Commit(); err != nil {
		r.state.Abort()
		return nil, err
	}
	return result, nil
}

// Forget drops the data stored for [particleID].
func (r *Runner) Forget(particleID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.state.DeleteParticle(particleID, r.config.PeerID); err != nil {
		r.state.Abort()
		return err
	}
	return r.state.Commit()
}

// Anomalies returns every anomaly recorded so far.
func (r *Runner) Anomalies() ([]*datastore.AnomalyRecord, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	ids, err := r.state.Anomalies()
	if err != nil {
		return nil, err
	}
	out := make([]*datastore.AnomalyRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := r.state.GetAnomaly(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// prevData returns the data stored for [p], dropping it once the particle
// has expired.
func (r *Runner) prevData(p Particle) ([]byte, error) {
	rec, err := r.state.GetParticle(p.ID, r.config.PeerID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load particle data: %w", err)
	}
	if rec.Expired(r.clock()) {
		logger.Debug("dropping expired particle data", "particleID", p.ID)
		if err := r.state.DeleteParticle(p.ID, r.config.PeerID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec.Data, nil
}

func (r *Runner) recordAnomaly(
	p Particle,
	prevData []byte,
	callResults execution.CallResults,
	outcome *interpreter.Outcome,
	elapsed time.Duration,
) error {
	results, err := json.Marshal(callResults)
	if err != nil {
		return fmt.Errorf("encode call results: %w", err)
	}
	_, err = r.state.PutAnomaly(&datastore.AnomalyRecord{
		ParticleID:    p.ID,
		PeerID:        r.config.PeerID,
		Script:        p.Script,
		PrevData:      prevData,
		CurrentData:   p.Data,
		CallResults:   results,
		ResultData:    outcome.Data,
		RetCode:       outcome.RetCode,
		ErrorMessage:  outcome.ErrorMessage,
		ExecutionTime: elapsed.Milliseconds(),
		RecordedAt:    r.clock().Unix(),
	})
	return err
}

// producedData reports whether an outcome with [code] carries a new
// envelope.
func producedData(code int64) bool {
	return code == 0 || execution.IsCatchableCode(code)
}

func isAnomaly(code int64) bool { return !producedData(code) }
