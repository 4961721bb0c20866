// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"github.com/fluencelabs/aquavm-sub004/air"
	"github.com/fluencelabs/aquavm-sub004/interpreterdata"
	"github.com/fluencelabs/aquavm-sub004/signatures"
	"github.com/fluencelabs/aquavm-sub004/values"
)

// RunParameters describe the particle and the peer running it.
type RunParameters struct {
	InitPeerID    string `json:"init_peer_id" yaml:"init_peer_id"`
	CurrentPeerID string `json:"current_peer_id" yaml:"current_peer_id"`
	Timestamp     uint64 `json:"timestamp" yaml:"timestamp"`
	TTL           uint32 `json:"ttl" yaml:"ttl"`
	ParticleID    string `json:"particle_id" yaml:"particle_id"`
}

// CallRequestParams is a service call the host has to perform.
type CallRequestParams struct {
	ServiceID    string                        `json:"service_id"`
	FunctionName string                        `json:"function_name"`
	Arguments    []interface{}                 `json:"arguments"`
	Tetraplets   [][]*values.SecurityTetraplet `json:"tetraplets"`
}

// CallServiceResult answers a call request. Result is JSON text.
type CallServiceResult struct {
	RetCode int32  `json:"ret_code" yaml:"ret_code"`
	Result  string `json:"result" yaml:"result"`
}

// CallResults maps call request ids to their results.
type CallResults map[uint32]CallServiceResult

// ExecutionCtx is the state of one execution.
type ExecutionCtx struct {
	RunParams RunParameters

	scalars   *scopedStore[*ValueAggregate]
	canons    *scopedStore[*CanonStream]
	iterables map[string]*foldIterable
	Streams   *Streams

	LastError *ErrorDescriptor
	Error     *ErrorDescriptor

	// SubgraphComplete is cleared when the executed subgraph needs data from
	// other peers to finish.
	SubgraphComplete bool
	nextPeerPKs      []string
	seenPeers        map[string]struct{}

	CallResults       CallResults
	CallRequests      map[uint32]CallRequestParams
	LastCallRequestID uint32

	Cids    *CidState
	Tracker *signatures.PeerCidTracker

	Instructions InstructionTracker
}

// NewExecutionCtx seeds a context from the previous and current data.
func NewExecutionCtx(
	prev, current *interpreterdata.InterpreterData,
	callResults CallResults,
	params RunParameters,
) *ExecutionCtx {
	if callResults == nil {
		callResults = CallResults{}
	}
	return &ExecutionCtx{
		RunParams:         params,
		scalars:           newScopedStore[*ValueAggregate](),
		canons:            newScopedStore[*CanonStream](),
		iterables:         map[string]*foldIterable{},
		Streams:           NewStreams(len(prev.Trace), len(current.Trace)),
		LastError:         newErrorDescriptor(),
		Error:             newErrorDescriptor(),
		SubgraphComplete:  true,
		seenPeers:         map[string]struct{}{},
		CallResults:       callResults,
		CallRequests:      map[uint32]CallRequestParams{},
		LastCallRequestID: prev.LastCallRequestID,
		Cids:              NewCidState(prev.CidInfo, current.CidInfo),
		Tracker:           signatures.NewPeerCidTracker(),
		Instructions:      InstructionTracker{Counts: map[string]int{}},
	}
}

// NextPeerPKs returns the peers to send the particle to, deduplicated in
// the order they were met.
func (c *ExecutionCtx) NextPeerPKs() []string { return c.nextPeerPKs }

func (c *ExecutionCtx) addNextPeer(peerID string) {
	if _, ok := c.seenPeers[peerID]; ok {
		return
	}
	c.seenPeers[peerID] = struct{}{}
	c.nextPeerPKs = append(c.nextPeerPKs, peerID)
}

func (c *ExecutionCtx) makeSubgraphIncomplete() { c.SubgraphComplete = false }

func (c *ExecutionCtx) isLocal(peerID string) bool { return peerID == c.RunParams.CurrentPeerID }

// SetScalar binds [v] to [name].
func (c *ExecutionCtx) SetScalar(name string, v *ValueAggregate) error {
	if _, ok := c.iterables[name]; ok {
		return uncatchable(ShadowingIsNotAllowed, nil, "%s is a fold iterator", name)
	}
	if err := c.scalars.set(name, v); err != nil {
		return uncatchable(ShadowingIsNotAllowed, err, "scalar")
	}
	return nil
}

// Scalar returns the value bound to [name], preferring fold iterators.
func (c *ExecutionCtx) Scalar(name string) (*ValueAggregate, error) {
	if it, ok := c.iterables[name]; ok {
		return it.peek(), nil
	}
	if v, ok := c.scalars.get(name); ok {
		return v, nil
	}
	return nil, catchable(VariableNotFound, "variable %s is not found", name)
}

func (c *ExecutionCtx) SetCanon(name string, cs *CanonStream) error {
	if err := c.canons.set(name, cs); err != nil {
		return uncatchable(ShadowingIsNotAllowed, err, "canon stream")
	}
	return nil
}

func (c *ExecutionCtx) Canon(name string) (*CanonStream, error) {
	if cs, ok := c.canons.get(name); ok {
		return cs, nil
	}
	return nil, catchable(CanonStreamNotFound, "canon stream %s is not found", name)
}

func (c *ExecutionCtx) enterIteration() {
	c.scalars.enterDepth()
	c.canons.enterDepth()
}

func (c *ExecutionCtx) leaveIteration() {
	c.scalars.leaveDepth()
	c.canons.leaveDepth()
}

// setErrors records [err] as the last error and :error: where allowed.
func (c *ExecutionCtx) setErrors(err *CatchableError, instr air.Instruction) {
	obj := errorObject(err, instr, c.RunParams.CurrentPeerID)
	if err.AffectsLastError() {
		c.LastError.trySet(obj, err.Tetraplet)
	}
	if err.AffectsError() {
		c.Error.trySet(obj, err.Tetraplet)
	}
}

// InstructionTracker counts executed instructions and hands out fold ids.
type InstructionTracker struct {
	Counts map[string]int
	foldID uint32
}

func (t *InstructionTracker) meet(name string) { t.Counts[name]++ }

func (t *InstructionTracker) nextFoldID() uint32 {
	t.foldID++
	return t.foldID
}
