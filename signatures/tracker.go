// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package signatures

import (
	"fmt"
	"sort"

	"github.com/fluencelabs/aquavm-sub004/interpreterdata"
	"github.com/fluencelabs/aquavm-sub004/trace"
	"github.com/fluencelabs/aquavm-sub004/values"
)

// PeerCidTracker collects, per peer, the CIDs of the service results and
// canon results that peer produced.
type PeerCidTracker struct {
	cids map[string]map[values.CID]struct{}
}

func NewPeerCidTracker() *PeerCidTracker {
	return &PeerCidTracker{cids: map[string]map[values.CID]struct{}{}}
}

func (t *PeerCidTracker) Register(peerID string, c values.CID) {
	set, ok := t.cids[peerID]
	if !ok {
		set = map[values.CID]struct{}{}
		t.cids[peerID] = set
	}
	set[c] = struct{}{}
}

// Cids returns the sorted CIDs registered for [peerID].
func (t *PeerCidTracker) Cids(peerID string) []values.CID {
	set := t.cids[peerID]
	out := make([]values.CID, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Peers returns the sorted ids of peers with registered CIDs.
func (t *PeerCidTracker) Peers() []string {
	return values.SortedKeys(t.cids)
}

// SignedMessage is the byte string a peer signs: the canonical encoding of
// its sorted CIDs and the particle id.
func SignedMessage(cids []values.CID, particleID string) ([]byte, error) {
	if cids == nil {
		cids = []values.CID{}
	}
	return values.Canonical(struct {
		Cids       []values.CID `json:"cids"`
		ParticleID string       `json:"particle_id"`
	}{Cids: cids, ParticleID: particleID})
}

// Sign signs the CIDs of [k]'s peer.
func (t *PeerCidTracker) Sign(k *KeyPair, particleID string) (string, error) {
	msg, err := SignedMessage(t.Cids(k.PublicKey()), particleID)
	if err != nil {
		return "", err
	}
	return k.Sign(msg)
}

// VerifySignature checks [signature] of [peerID] against the CIDs tracked
// for it.
func (t *PeerCidTracker) VerifySignature(peerID, signature, particleID string) error {
	msg, err := SignedMessage(t.Cids(peerID), particleID)
	if err != nil {
		return err
	}
	return Verify(peerID, msg, signature)
}

// CollectPeerCids walks the trace of [d] and attributes every executed call
// and canon to the peer in its tetraplet.
func CollectPeerCids(d *interpreterdata.InterpreterData) (*PeerCidTracker, error) {
	t := NewPeerCidTracker()
	for pos, st := range d.Trace {
		switch s := st.(type) {
		case trace.CallState:
			if s.Result.Kind != trace.CallExecuted || s.Result.Value.Kind == trace.UnusedValue {
				continue
			}
			c := s.Result.Value.CID
			result, ok := d.CidInfo.ServiceResultStore.Get(c)
			if !ok {
				return nil, fmt.Errorf("call at %d references unknown service result %s", pos, c)
			}
			tetraplet, ok := d.CidInfo.TetrapletStore.Get(result.TetrapletCID)
			if !ok {
				return nil, fmt.Errorf("service result %s references unknown tetraplet %s", c, result.TetrapletCID)
			}
			t.Register(tetraplet.PeerPK, c)
		case trace.CanonState:
			if s.Result.Kind != trace.CanonExecuted {
				continue
			}
			c := s.Result.CID
			result, ok := d.CidInfo.CanonResultStore.Get(c)
			if !ok {
				return nil, fmt.Errorf("canon at %d references unknown canon result %s", pos, c)
			}
			tetraplet, ok := d.CidInfo.TetrapletStore.Get(result.TetrapletCID)
			if !ok {
				return nil, fmt.Errorf("canon result %s references unknown tetraplet %s", c, result.TetrapletCID)
			}
			t.Register(tetraplet.PeerPK, c)
		}
	}
	return t, nil
}

// VerificationError reports a signature that doesn't match the envelope.
type VerificationError struct {
	PeerID string
	Err    error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("signature of peer %s: %s", e.PeerID, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// VerifyData checks every signature present in [d]. Peers without a
// signature are accepted.
func VerifyData(d *interpreterdata.InterpreterData, particleID string) error {
	if len(d.Signatures) == 0 {
		return nil
	}
	t, err := CollectPeerCids(d)
	if err != nil {
		return err
	}
	for _, peerID := range values.SortedKeys(d.Signatures) {
		if err := t.VerifySignature(peerID, d.Signatures[peerID], particleID); err != nil {
			return &VerificationError{PeerID: peerID, Err: err}
		}
	}
	return nil
}

// MergeSignatures builds the signature map of a produced envelope: signatures
// from the inputs that still match the tracked CIDs are kept and the current
// peer signs its own CIDs when [k] is set.
func MergeSignatures(
	t *PeerCidTracker,
	k *KeyPair,
	particleID string,
	inputs ...map[string]string,
) (map[string]string, error) {
	out := map[string]string{}
	for _, sigs := range inputs {
		for _, peerID := range values.SortedKeys(sigs) {
			if k != nil && peerID == k.PublicKey() {
				continue
			}
			if _, done := out[peerID]; done {
				continue
			}
			if t.VerifySignature(peerID, sigs[peerID], particleID) == nil {
				out[peerID] = sigs[peerID]
			}
		}
	}
	if k != nil {
		sig, err := t.Sign(k, particleID)
		if err != nil {
			return nil, err
		}
		out[k.PublicKey()] = sig
	}
	return out, nil
}
