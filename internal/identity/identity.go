// Package identity implements the key-pair-backed crypto façade the rest of
// the Session runtime consumes: address/eth_address derivation, signing,
// and multi-recipient ECIES-style encryption, all grounded on
// github.com/ethereum/go-ethereum's crypto and crypto/ecies packages.
package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
	"golang.org/x/crypto/hkdf"

	"github.com/Ratio1/ratio1-sdk/internal/errs"
)

// AddressPrefix marks the mesh address encoding: a base64 rendering of the
// compressed secp256k1 public key, in the same vein as the naeural/ratio1
// ecosystem's "0xai1..." node address convention.
const AddressPrefix = "0xai1"

// hkdfInfo is the fixed context string fed to HKDF-Expand when deriving the
// per-message symmetric key, so derivation never collides across uses of
// this package.
const hkdfInfo = "ratio1-sdk-envelope-v1"

// Identity owns a key pair and exposes the contract the Envelope codec and
// command builder depend on. It is immutable after construction, so signing
// and encryption are safe to call concurrently from multiple goroutines.
type Identity struct {
	private *ecdsa.PrivateKey
	public  *ecdsa.PublicKey
	address string
}

// New wraps an existing private key.
func New(private *ecdsa.PrivateKey) *Identity {
	pub := &private.PublicKey
	return &Identity{
		private: private,
		public:  pub,
		address: encodeAddress(pub),
	}
}

// Generate creates a fresh key pair.
func Generate() (*Identity, error) {
	pk, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return New(pk), nil
}

// LoadOrCreate reads the key file at path, or generates and writes a new one
// if it does not exist. The file is never overwritten once present, and is
// created with owner-only permissions, per the wire contract's "single key
// file under the local cache folder ... never overwritten" rule.
func LoadOrCreate(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		pk, err := crypto.HexToECDSA(string(data))
		if err != nil {
			return nil, fmt.Errorf("identity: parse key file %s: %w", path, err)
		}
		return New(pk), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: read key file %s: %w", path, err)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("identity: create key directory: %w", err)
	}
	hexKey := fmt.Sprintf("%x", crypto.FromECDSA(id.private))
	if err := os.WriteFile(path, []byte(hexKey), 0o600); err != nil {
		return nil, fmt.Errorf("identity: write key file %s: %w", path, err)
	}
	return id, nil
}

// SelfAddress implements envelope.Decryptor.
func (id *Identity) SelfAddress() string { return id.address }

// Address returns the mesh address: the compressed public key, base64
// encoded and prefixed with AddressPrefix.
func (id *Identity) Address() string { return id.address }

// EthAddress returns the Ethereum-compatible checksummed 20-byte address
// derived from the same key pair.
func (id *Identity) EthAddress() string {
	return crypto.PubkeyToAddress(*id.public).Hex()
}

// PKFromAddress recovers the public key embedded in a mesh address, the
// inverse of Address/encodeAddress.
func PKFromAddress(address string) (*ecdsa.PublicKey, error) {
	if len(address) <= len(AddressPrefix) || address[:len(AddressPrefix)] != AddressPrefix {
		return nil, fmt.Errorf("identity: address missing %q prefix", AddressPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(address[len(AddressPrefix):])
	if err != nil {
		return nil, fmt.Errorf("identity: decode address: %w", err)
	}
	pub, err := crypto.DecompressPubkey(raw)
	if err != nil {
		return nil, fmt.Errorf("identity: decompress address key: %w", err)
	}
	return pub, nil
}

func encodeAddress(pub *ecdsa.PublicKey) string {
	compressed := crypto.CompressPubkey(pub)
	return AddressPrefix + base64.StdEncoding.EncodeToString(compressed)
}

// ContainsSelf reports whether addresses contains this identity's address.
func (id *Identity) ContainsSelf(addresses []string) bool {
	for _, a := range addresses {
		if a == id.address {
			return true
		}
	}
	return false
}

// Sign signs msg. When useDigest is true, msg is hashed with Keccak-256
// before signing — an implementation detail the wire protocol flags as
// `use_digest`, selected for throughput on large payloads. When useDigest is
// false, msg is signed as-is only if it is exactly 32 bytes long; a message
// of any other length is hashed with Keccak-256 as well.
func (id *Identity) Sign(msg []byte, useDigest bool) ([]byte, error) {
	digest := msg
	if useDigest {
		digest = crypto.Keccak256(msg)
	} else if len(msg) != 32 {
		digest = crypto.Keccak256(msg)
	}
	sig, err := crypto.Sign(digest, id.private)
	if err != nil {
		return nil, fmt.Errorf("identity: sign: %w", err)
	}
	return sig, nil
}

// blob is the on-wire shape of an encrypted envelope body: a random AES-256
// key is generated per message, wrapped once per recipient via ECIES, and
// the plaintext is sealed once under AES-GCM. The decryptor scans Recipients
// for its own entry and unwraps the matching key — the single-recipient
// case is simply a one-entry Recipients/WrappedKeys pair, using the exact
// same routine (no special case).
type blob struct {
	Recipients  []string `json:"recipients"`
	WrappedKeys []string `json:"wrapped_keys"`
	Nonce       string   `json:"nonce"`
	Ciphertext  string   `json:"ciphertext"`
}

// Encrypt seals plaintext for one or more recipients. Single-recipient
// encryption is the degenerate one-entry case of the same multi-recipient
// routine.
func (id *Identity) Encrypt(plaintext []byte, recipients []string) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("identity: encrypt: %w: no recipients", errs.ErrAddressUnresolved)
	}

	seed := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("identity: encrypt: generate seed: %w", err)
	}
	aesKey := make([]byte, 32)
	kdf := hkdf.New(sha256.New, seed, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, aesKey); err != nil {
		return nil, fmt.Errorf("identity: encrypt: derive key: %w", err)
	}

	wrapped := make([]string, len(recipients))
	for i, addr := range recipients {
		pub, err := PKFromAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("identity: encrypt: resolve recipient %s: %w", addr, err)
		}
		eciesPub := ecies.ImportECDSAPublic(pub)
		wrappedKey, err := ecies.Encrypt(rand.Reader, eciesPub, aesKey, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("identity: encrypt: wrap key for %s: %w", addr, err)
		}
		wrapped[i] = base64.StdEncoding.EncodeToString(wrappedKey)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("identity: encrypt: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("identity: encrypt: gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("identity: encrypt: nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	b := blob{
		Recipients:  recipients,
		WrappedKeys: wrapped,
		Nonce:       base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:  base64.StdEncoding.EncodeToString(ciphertext),
	}
	out, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("identity: encrypt: marshal blob: %w", err)
	}
	return out, nil
}

// Decrypt opens a ciphertext blob produced by Encrypt. senderAddress is
// accepted to satisfy the envelope.Decryptor contract and for symmetry with
// the wire protocol's framing ("decrypt using the sender's address"); this
// hybrid scheme does not need it directly because each ECIES-wrapped key
// blob embeds its own ephemeral public key.
func (id *Identity) Decrypt(ciphertext []byte, senderAddress string) ([]byte, error) {
	var b blob
	if err := json.Unmarshal(ciphertext, &b); err != nil {
		return nil, fmt.Errorf("%w: malformed blob: %v", errs.ErrDecrypt, err)
	}
	idx := -1
	for i, addr := range b.Recipients {
		if addr == id.address {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: self not among recipients", errs.ErrDecrypt)
	}
	if idx >= len(b.WrappedKeys) {
		return nil, fmt.Errorf("%w: malformed blob: recipient/key count mismatch", errs.ErrDecrypt)
	}

	wrappedKey, err := base64.StdEncoding.DecodeString(b.WrappedKeys[idx])
	if err != nil {
		return nil, fmt.Errorf("%w: decode wrapped key: %v", errs.ErrDecrypt, err)
	}
	eciesPriv := ecies.ImportECDSA(id.private)
	aesKey, err := eciesPriv.Decrypt(wrappedKey, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap key: %v", errs.ErrDecrypt, err)
	}

	nonce, err := base64.StdEncoding.DecodeString(b.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: decode nonce: %v", errs.ErrDecrypt, err)
	}
	sealed, err := base64.StdEncoding.DecodeString(b.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext: %v", errs.ErrDecrypt, err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("%w: aes cipher: %v", errs.ErrDecrypt, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: gcm: %v", errs.ErrDecrypt, err)
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", errs.ErrDecrypt, err)
	}
	return plaintext, nil
}
