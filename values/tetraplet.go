// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package values

import "fmt"

// SecurityTetraplet records where a value came from: the peer that produced
// it, the service and function that returned it and the lambda applied to
// the original result.
type SecurityTetraplet struct {
	PeerPK       string `json:"peer_pk"`
	ServiceID    string `json:"service_id"`
	FunctionName string `json:"function_name"`
	LambdaPath   string `json:"lambda"`
}

// NewTetraplet returns a tetraplet for a service result.
func NewTetraplet(peerPK, serviceID, functionName, lambda string) *SecurityTetraplet {
	return &SecurityTetraplet{
		PeerPK:       peerPK,
		ServiceID:    serviceID,
		FunctionName: functionName,
		LambdaPath:   lambda,
	}
}

// LiteralTetraplet is the tetraplet of a literal embedded in a script run
// by [initPeerID].
func LiteralTetraplet(initPeerID string) *SecurityTetraplet {
	return &SecurityTetraplet{PeerPK: initPeerID}
}

// WithLambda returns a copy of [t] with [lambda] appended to its path.
func (t *SecurityTetraplet) WithLambda(lambda string) *SecurityTetraplet {
	cp := *t
	cp.LambdaPath += lambda
	return &cp
}

// SameOrigin reports whether [t] was produced by the given call triplet.
func (t *SecurityTetraplet) SameOrigin(peerPK, serviceID, functionName string) bool {
	return t.PeerPK == peerPK && t.ServiceID == serviceID && t.FunctionName == functionName
}

func (t *SecurityTetraplet) String() string {
	return fmt.Sprintf("%s (%s %s)%s", t.PeerPK, t.ServiceID, t.FunctionName, t.LambdaPath)
}

// ProvenanceKind tells which store a value was resolved from.
type ProvenanceKind string

const (
	ProvenanceLiteral       ProvenanceKind = "literal"
	ProvenanceServiceResult ProvenanceKind = "service_result"
	ProvenanceCanon         ProvenanceKind = "canon"
	ProvenanceError         ProvenanceKind = "error"
)

// Provenance is the origin of a value that was put into a canon stream.
type Provenance struct {
	Kind ProvenanceKind `json:"kind"`
	CID  CID            `json:"cid,omitempty"`
}

func LiteralProvenance() Provenance { return Provenance{Kind: ProvenanceLiteral} }

func ServiceResultProvenance(c CID) Provenance {
	return Provenance{Kind: ProvenanceServiceResult, CID: c}
}

func CanonProvenance(c CID) Provenance { return Provenance{Kind: ProvenanceCanon, CID: c} }

func ErrorProvenance() Provenance { return Provenance{Kind: ProvenanceError} }
