// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package signatures signs and verifies the CIDs each peer contributed to
// an envelope.
package signatures

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/ava-labs/avalanchego/utils/crypto"
	"github.com/ava-labs/avalanchego/utils/formatting"
)

// KeyFormat names a signature scheme.
type KeyFormat string

const (
	Ed25519   KeyFormat = "ed25519"
	Secp256k1 KeyFormat = "secp256k1"
)

var (
	errUnknownKeyFormat = errors.New("unknown key format")
	errMalformedKey     = errors.New("malformed public key")
	errBadSignature     = errors.New("signature verification failed")
)

func factory(format KeyFormat) (crypto.Factory, error) {
	switch format {
	case Ed25519:
		return &crypto.FactoryED25519{}, nil
	case Secp256k1:
		return &crypto.FactorySECP256K1R{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownKeyFormat, format)
	}
}

// KeyPair is a peer's signing key.
type KeyPair struct {
	format KeyFormat
	secret crypto.PrivateKey
}

// NewKeyPair generates a fresh key.
func NewKeyPair(format KeyFormat) (*KeyPair, error) {
	f, err := factory(format)
	if err != nil {
		return nil, err
	}
	sk, err := f.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &KeyPair{format: format, secret: sk}, nil
}

// KeyPairFromSecret restores a key from its secret bytes. Ed25519 secrets
// are 32-byte seeds, secp256k1 secrets are 32-byte scalars.
func KeyPairFromSecret(format KeyFormat, secret []byte) (*KeyPair, error) {
	f, err := factory(format)
	if err != nil {
		return nil, err
	}
	keyBytes := secret
	if format == Ed25519 {
		if len(secret) != ed25519.SeedSize {
			return nil, fmt.Errorf("ed25519 secret must be %d bytes, got %d", ed25519.SeedSize, len(secret))
		}
		keyBytes = ed25519.NewKeyFromSeed(secret)
	}
	sk, err := f.ToPrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("malformed %s secret: %w", format, err)
	}
	return &KeyPair{format: format, secret: sk}, nil
}

func (k *KeyPair) Format() KeyFormat { return k.format }

// Secret returns the bytes accepted by KeyPairFromSecret.
func (k *KeyPair) Secret() []byte {
	b := k.secret.Bytes()
	if k.format == Ed25519 {
		return b[:ed25519.SeedSize]
	}
	return b
}

// PublicKey returns the textual public key, which doubles as the peer id.
func (k *KeyPair) PublicKey() string {
	encoded, err := formatting.EncodeWithChecksum(formatting.CB58, k.secret.PublicKey().Bytes())
	if err != nil {
		// public keys are always short enough for CB58
		panic(err)
	}
	return string(k.format) + ":" + encoded
}

// Sign signs [msg] and returns the CB58 encoded signature.
func (k *KeyPair) Sign(msg []byte) (string, error) {
	sig, err := k.secret.Sign(msg)
	if err != nil {
		return "", err
	}
	return formatting.EncodeWithChecksum(formatting.CB58, sig)
}

// Verify checks that [signature] is a signature of [msg] by [publicKey].
func Verify(publicKey string, msg []byte, signature string) error {
	format, encoded, ok := strings.Cut(publicKey, ":")
	if !ok {
		return fmt.Errorf("%w: %q", errMalformedKey, publicKey)
	}
	f, err := factory(KeyFormat(format))
	if err != nil {
		return err
	}
	pkBytes, err := formatting.Decode(formatting.CB58, encoded)
	if err != nil {
		return fmt.Errorf("%w: %s", errMalformedKey, err)
	}
	pk, err := f.ToPublicKey(pkBytes)
	if err != nil {
		return fmt.Errorf("%w: %s", errMalformedKey, err)
	}
	sig, err := formatting.Decode(formatting.CB58, signature)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}
	if !pk.Verify(msg, sig) {
		return errBadSignature
	}
	return nil
}
