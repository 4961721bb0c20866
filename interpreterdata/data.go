// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package interpreterdata defines the envelope exchanged between peers: the
// execution trace together with its CID stores, stream generation counts,
// signatures and version information.
package interpreterdata

import (
	"errors"
	"fmt"

	"golang.org/x/mod/semver"

	"github.com/fluencelabs/aquavm-sub004/trace"
)

const (
	// DataVersion is the version of the envelope format written by this
	// interpreter.
	DataVersion = "0.1.0"
	// InterpreterVersion is the version of this interpreter.
	InterpreterVersion = "0.1.0"
	// MinSupportedDataVersion is the oldest envelope format accepted.
	MinSupportedDataVersion = "0.1.0"
)

var errInvalidVersion = errors.New("invalid semantic version")

// Versions records who produced an envelope.
type Versions struct {
	DataVersion        string `json:"data_version"`
	InterpreterVersion string `json:"interpreter_version"`
}

// CurrentVersions are the versions written into produced envelopes.
func CurrentVersions() Versions {
	return Versions{DataVersion: DataVersion, InterpreterVersion: InterpreterVersion}
}

// RestrictedStreams maps a stream name to the instruction positions of the
// `new` scopes that declared it, and those to the generation counts of each
// executed scope.
type RestrictedStreams map[string]map[int][]int

// InterpreterData is the envelope passed between peers.
type InterpreterData struct {
	Trace             trace.Trace       `json:"trace"`
	GlobalStreams     map[string]int    `json:"global_streams"`
	RestrictedStreams RestrictedStreams `json:"restricted_streams"`
	CidInfo           CidInfo           `json:"cid_info"`
	Signatures        map[string]string `json:"signatures"`
	LastCallRequestID uint32            `json:"last_call_request_id"`
	Versions          Versions          `json:"versions"`
}

// New returns an empty envelope with the current versions.
func New() *InterpreterData {
	return &InterpreterData{
		Trace:             trace.Trace{},
		GlobalStreams:     map[string]int{},
		RestrictedStreams: RestrictedStreams{},
		CidInfo:           NewCidInfo(),
		Signatures:        map[string]string{},
		Versions:          CurrentVersions(),
	}
}

func (d *InterpreterData) fillNil() {
	if d.Trace == nil {
		d.Trace = trace.Trace{}
	}
	if d.GlobalStreams == nil {
		d.GlobalStreams = map[string]int{}
	}
	if d.RestrictedStreams == nil {
		d.RestrictedStreams = RestrictedStreams{}
	}
	if d.Signatures == nil {
		d.Signatures = map[string]string{}
	}
	d.CidInfo.fillNil()
}

// CheckVersion fails if [d] was written in a format older than
// [minSupported].
func (d *InterpreterData) CheckVersion(minSupported string) error {
	have := canonicalVersion(d.Versions.DataVersion)
	want := canonicalVersion(minSupported)
	if !semver.IsValid(want) {
		return fmt.Errorf("%w: %q", errInvalidVersion, minSupported)
	}
	if !semver.IsValid(have) {
		return &UnsupportedVersionError{Actual: d.Versions.DataVersion, Minimum: minSupported}
	}
	if semver.Compare(have, want) < 0 {
		return &UnsupportedVersionError{Actual: d.Versions.DataVersion, Minimum: minSupported}
	}
	return nil
}

// UnsupportedVersionError is returned for envelopes in an unsupported format.
type UnsupportedVersionError struct {
	Actual  string
	Minimum string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("data version %q is older than the minimal supported version %q", e.Actual, e.Minimum)
}

func canonicalVersion(v string) string {
	if v == "" || v[0] == 'v' {
		return v
	}
	return "v" + v
}
