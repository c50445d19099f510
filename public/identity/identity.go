// Package identity exposes the Session's crypto/identity façade to callers:
// address and EVM-address derivation, signing and multi-recipient
// encryption. The façade is used, not implemented, by the rest of the SDK —
// this package re-exports the internal implementation behind a narrow
// public contract.
package identity

import (
	"crypto/ecdsa"

	internal "github.com/Ratio1/ratio1-sdk/internal/identity"
)

// Identity owns a key pair and exposes address derivation, signing and
// encryption. Immutable after construction; safe for concurrent use.
type Identity struct {
	impl *internal.Identity
}

// Generate creates a fresh key pair.
func Generate() (*Identity, error) {
	impl, err := internal.Generate()
	if err != nil {
		return nil, err
	}
	return &Identity{impl: impl}, nil
}

// LoadOrCreate reads the key file at path, generating and persisting a new
// key pair the first time it is called, per the wire contract's on-disk
// identity state.
func LoadOrCreate(path string) (*Identity, error) {
	impl, err := internal.LoadOrCreate(path)
	if err != nil {
		return nil, err
	}
	return &Identity{impl: impl}, nil
}

// FromPrivateKey wraps an existing private key.
func FromPrivateKey(pk *ecdsa.PrivateKey) *Identity {
	return &Identity{impl: internal.New(pk)}
}

// Address returns the mesh address.
func (i *Identity) Address() string { return i.impl.Address() }

// EthAddress returns the EVM-compatible checksummed address.
func (i *Identity) EthAddress() string { return i.impl.EthAddress() }

// Sign signs msg, optionally hashing it first (use_digest).
func (i *Identity) Sign(msg []byte, useDigest bool) ([]byte, error) {
	return i.impl.Sign(msg, useDigest)
}

// Encrypt seals plaintext for one or more recipient addresses.
func (i *Identity) Encrypt(plaintext []byte, recipients []string) ([]byte, error) {
	return i.impl.Encrypt(plaintext, recipients)
}

// Decrypt opens a ciphertext blob addressed to this identity.
func (i *Identity) Decrypt(ciphertext []byte, senderAddress string) ([]byte, error) {
	return i.impl.Decrypt(ciphertext, senderAddress)
}

// ContainsSelf reports whether addresses contains this identity's address.
func (i *Identity) ContainsSelf(addresses []string) bool {
	return i.impl.ContainsSelf(addresses)
}

// PKFromAddress recovers the public key embedded in a mesh address.
func PKFromAddress(address string) (*ecdsa.PublicKey, error) {
	return internal.PKFromAddress(address)
}

// SelfAddress implements envelope.Decryptor.
func (i *Identity) SelfAddress() string { return i.impl.SelfAddress() }
