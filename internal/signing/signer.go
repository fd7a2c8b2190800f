package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Signer produces signatures a Verifier accepts.
type Signer interface {
	// Key is the signer key carried in Message.Signer.
	Key() []byte
	Sign(payload []byte) ([]byte, error)
}

// Ed25519Signer signs with a delegated ed25519 key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer wraps an existing private key.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

// Ed25519SignerFromSeed derives a deterministic key from an arbitrary seed.
func Ed25519SignerFromSeed(seed []byte) *Ed25519Signer {
	sum := sha256.Sum256(seed)
	return &Ed25519Signer{priv: ed25519.NewKeyFromSeed(sum[:])}
}

func (s *Ed25519Signer) Key() []byte {
	return []byte(s.priv.Public().(ed25519.PublicKey))
}

func (s *Ed25519Signer) Sign(payload []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, payload), nil
}

// EthSigner signs 32-byte digests with a secp256k1 custody key.
type EthSigner struct {
	priv    *btcec.PrivateKey
	address []byte
}

// EthSignerFromSeed derives a deterministic secp256k1 key from a seed.
func EthSignerFromSeed(seed []byte) *EthSigner {
	sum := sha256.Sum256(seed)
	priv, pub := btcec.PrivKeyFromBytes(sum[:])
	return &EthSigner{
		priv:    priv,
		address: AddressFromUncompressed(pub.SerializeUncompressed()),
	}
}

// Key returns the 20-byte address.
func (s *EthSigner) Key() []byte {
	return append([]byte(nil), s.address...)
}

// Sign returns a 65-byte compact recoverable signature over digest.
func (s *EthSigner) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("eth signer: digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := ecdsa.SignCompact(s.priv, digest, false)
	if err != nil {
		return nil, fmt.Errorf("eth signer: %w", err)
	}
	return sig, nil
}
