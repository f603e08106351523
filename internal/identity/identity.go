// Package identity defines the signing collaborator the transaction engine
// consumes, plus a minimal in-process implementation backed by a mnemonic
// or a raw private key. Key storage and encryption live outside this
// module.
package identity

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/tyler-smith/go-bip39"
)

// Identity signs transaction digests on behalf of the engine. The engine
// never sees private key material.
type Identity interface {
	// SignHash produces a DER-encoded ECDSA signature over a 32-byte
	// digest. The caller appends the sighash flag byte.
	SignHash(hash []byte) ([]byte, error)

	// PubKey returns the 33-byte compressed public key.
	PubKey() []byte
}

var errBadDigest = errors.New("digest must be 32 bytes")

// Local is an in-process Identity holding its key in memory.
type Local struct {
	priv *btcec.PrivateKey
}

// NewLocal wraps a raw 32-byte private key.
func NewLocal(privKey []byte) (*Local, error) {
	if len(privKey) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(privKey))
	}
	priv, _ := btcec.PrivKeyFromBytes(privKey)
	return &Local{priv: priv}, nil
}

// FromMnemonic derives an identity from a BIP-39 mnemonic and passphrase.
func FromMnemonic(mnemonic, passphrase string) (*Local, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	key := sha256.Sum256(seed)
	return NewLocal(key[:])
}

// Generate creates a fresh identity and returns its mnemonic.
func Generate(passphrase string) (*Local, string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return nil, "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", fmt.Errorf("generate mnemonic: %w", err)
	}
	id, err := FromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, "", err
	}
	return id, mnemonic, nil
}

// SignHash implements Identity.
func (l *Local) SignHash(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, errBadDigest
	}
	return ecdsa.Sign(l.priv, hash).Serialize(), nil
}

// PubKey implements Identity.
func (l *Local) PubKey() []byte {
	return l.priv.PubKey().SerializeCompressed()
}
