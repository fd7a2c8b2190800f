package message

import (
	"crypto/sha256"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainMessage = "hubd/message/v1"
)

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

// ComputeHash returns the content hash of d.
// The hash is stable across hubs given the same data.
func ComputeHash(d MessageData) ([]byte, error) {
	canonical, err := CanonicalData(d)
	if err != nil {
		return nil, fmt.Errorf("ComputeHash: %w", err)
	}
	return HashWithDomain(DomainMessage, canonical), nil
}

// MustComputeHash is like ComputeHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustComputeHash(d MessageData) []byte {
	h, err := ComputeHash(d)
	if err != nil {
		panic(err)
	}
	return h
}
