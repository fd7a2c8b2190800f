// Package signing verifies message signatures.
//
// Two key kinds exist. Custody keys are Ethereum accounts, identified by a
// 20-byte address; their signatures are 65-byte compact secp256k1 signatures
// from which the public key is recovered and hashed to an address. Delegated
// signer keys are 32-byte ed25519 public keys.
package signing

import (
	"crypto/ed25519"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Verifier checks that signature over payload was made by signerKey.
type Verifier interface {
	Verify(signerKey, payload, signature []byte) bool
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(signerKey, payload, signature []byte) bool

func (f VerifierFunc) Verify(signerKey, payload, signature []byte) bool {
	return f(signerKey, payload, signature)
}

// DefaultVerifier dispatches on the key length: 20-byte addresses use
// secp256k1 recovery, 32-byte keys use ed25519.
type DefaultVerifier struct{}

var _ Verifier = DefaultVerifier{}

func (DefaultVerifier) Verify(signerKey, payload, signature []byte) bool {
	switch len(signerKey) {
	case AddressLength:
		return VerifyEth(signerKey, payload, signature)
	case ed25519.PublicKeySize:
		if len(signature) != ed25519.SignatureSize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(signerKey), payload, signature)
	default:
		return false
	}
}

// AddressLength is the size of an Ethereum address.
const AddressLength = 20

// CompactSignatureLength is the size of a recoverable secp256k1 signature.
const CompactSignatureLength = 65

// VerifyEth recovers the public key from a compact signature over the
// 32-byte digest and compares its address with address.
func VerifyEth(address, digest, signature []byte) bool {
	if len(signature) != CompactSignatureLength || len(digest) != 32 {
		return false
	}
	pub, _, err := ecdsa.RecoverCompact(signature, digest)
	if err != nil {
		return false
	}
	recovered := AddressFromUncompressed(pub.SerializeUncompressed())
	return string(recovered) == string(address)
}

// AddressFromUncompressed derives an Ethereum address from a 65-byte
// uncompressed public key: the last 20 bytes of keccak256(x || y).
func AddressFromUncompressed(pub []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub[1:])
	sum := h.Sum(nil)
	return sum[len(sum)-AddressLength:]
}
