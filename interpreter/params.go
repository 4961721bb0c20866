// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package interpreter

import (
	"github.com/fluencelabs/aquavm-sub004/execution"
	"github.com/fluencelabs/aquavm-sub004/interpreterdata"
	"github.com/fluencelabs/aquavm-sub004/signatures"
)

const (
	defaultMaxASTDepth = 256
	defaultMaxDataSize = 64 << 20
)

// Config bounds what an invocation accepts.
type Config struct {
	// MaxASTDepth caps the nesting of the script.
	MaxASTDepth int `json:"max_ast_depth" yaml:"max_ast_depth"`
	// MaxDataSize caps the script and each data envelope, in bytes. Zero
	// disables the check.
	MaxDataSize int `json:"max_data_size" yaml:"max_data_size"`
	// MinSupportedDataVersion is the oldest envelope format accepted.
	MinSupportedDataVersion string `json:"min_supported_data_version" yaml:"min_supported_data_version"`
	// DataFormat is the encoding of produced envelopes.
	DataFormat interpreterdata.Format `json:"data_format" yaml:"data_format"`
}

func DefaultConfig() Config {
	return Config{
		MaxASTDepth:             defaultMaxASTDepth,
		MaxDataSize:             defaultMaxDataSize,
		MinSupportedDataVersion: interpreterdata.MinSupportedDataVersion,
		DataFormat:              interpreterdata.FormatJSON,
	}
}

// RunParameters describe the particle and the peer running it.
type RunParameters struct {
	InitPeerID    string               `json:"init_peer_id" yaml:"init_peer_id"`
	CurrentPeerID string               `json:"current_peer_id" yaml:"current_peer_id"`
	Timestamp     uint64               `json:"timestamp" yaml:"timestamp"`
	TTL           uint32               `json:"ttl" yaml:"ttl"`
	KeyFormat     signatures.KeyFormat `json:"key_format" yaml:"key_format"`
	SecretKey     []byte               `json:"secret_key_bytes" yaml:"secret_key_bytes"`
	ParticleID    string               `json:"particle_id" yaml:"particle_id"`
}

func (p RunParameters) execution() execution.RunParameters {
	return execution.RunParameters{
		InitPeerID:    p.InitPeerID,
		CurrentPeerID: p.CurrentPeerID,
		Timestamp:     p.Timestamp,
		TTL:           p.TTL,
		ParticleID:    p.ParticleID,
	}
}

// Outcome is the result of an invocation.
type Outcome struct {
	RetCode      int64    `json:"ret_code"`
	ErrorMessage string   `json:"error_message"`
	Data         []byte   `json:"data"`
	NextPeerPKs  []string `json:"next_peer_pks"`
	// CallRequests is the JSON map of call request ids to the calls the
	// host has to perform.
	CallRequests []byte `json:"call_requests"`
}

// IsSuccess reports whether the invocation finished without an error.
func (o *Outcome) IsSuccess() bool { return o.RetCode == 0 }

// DecodeCallRequests decodes the call requests of [o].
func (o *Outcome) DecodeCallRequests() (map[uint32]execution.CallRequestParams, error) {
	return decodeCallRequests(o.CallRequests)
}
