// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package values

import (
	"fmt"

	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// JSONCodec is the multicodec code of the json content type.
const JSONCodec uint64 = 0x0200

// CID is a textual content identifier of a JSON value: a CIDv1 over the
// SHA2-256 digest of the value's canonical encoding.
type CID string

func (c CID) String() string { return string(c) }

// ComputeCID returns the content identifier of [v].
func ComputeCID(v interface{}) (CID, error) {
	raw, err := Canonical(v)
	if err != nil {
		return "", fmt.Errorf("couldn't serialize value for CID: %w", err)
	}
	return ComputeCIDFromBytes(raw)
}

// ComputeCIDFromBytes returns the content identifier of already canonical
// bytes.
func ComputeCIDFromBytes(raw []byte) (CID, error) {
	digest := hashing.ComputeHash256(raw)
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return "", err
	}
	return CID(cid.NewCidV1(JSONCodec, multihash.Multihash(mh)).String()), nil
}

// Verify checks that [c] is the content identifier of [v].
func (c CID) Verify(v interface{}) error {
	parsed, err := cid.Decode(string(c))
	if err != nil {
		return fmt.Errorf("malformed CID %q: %w", c, err)
	}
	if codec := parsed.Prefix().Codec; codec != JSONCodec {
		return fmt.Errorf("CID %q has codec %#x, expected %#x", c, codec, JSONCodec)
	}
	expected, err := ComputeCID(v)
	if err != nil {
		return err
	}
	if expected != c {
		return fmt.Errorf("CID %q doesn't match value, computed %q", c, expected)
	}
	return nil
}
