package signing

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digest(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

func TestEd25519Signer_RoundTrip(t *testing.T) {
	s := Ed25519SignerFromSeed([]byte("alice"))
	payload := digest("hello")

	sig, err := s.Sign(payload)
	require.NoError(t, err)

	v := DefaultVerifier{}
	assert.True(t, v.Verify(s.Key(), payload, sig))
	assert.False(t, v.Verify(s.Key(), digest("other"), sig))

	other := Ed25519SignerFromSeed([]byte("bob"))
	assert.False(t, v.Verify(other.Key(), payload, sig))
}

func TestEd25519SignerFromSeed_Deterministic(t *testing.T) {
	a := Ed25519SignerFromSeed([]byte("x"))
	b := Ed25519SignerFromSeed([]byte("x"))
	assert.Equal(t, a.Key(), b.Key())
	assert.Len(t, a.Key(), 32)
}

func TestEthSigner_RoundTrip(t *testing.T) {
	s := EthSignerFromSeed([]byte("custody"))
	require.Len(t, s.Key(), AddressLength)
	payload := digest("message")

	sig, err := s.Sign(payload)
	require.NoError(t, err)
	require.Len(t, sig, CompactSignatureLength)

	v := DefaultVerifier{}
	assert.True(t, v.Verify(s.Key(), payload, sig))
	assert.False(t, v.Verify(s.Key(), digest("tampered"), sig))
	assert.False(t, v.Verify(EthSignerFromSeed([]byte("other")).Key(), payload, sig))
}

func TestEthSigner_RejectsShortDigest(t *testing.T) {
	_, err := EthSignerFromSeed([]byte("c")).Sign([]byte("short"))
	assert.Error(t, err)
}

func TestDefaultVerifier_UnknownKeyLength(t *testing.T) {
	assert.False(t, DefaultVerifier{}.Verify(make([]byte, 7), digest("x"), make([]byte, 64)))
}

func TestVerifierFunc(t *testing.T) {
	called := false
	v := VerifierFunc(func(_, _, _ []byte) bool {
		called = true
		return true
	})
	assert.True(t, v.Verify(nil, nil, nil))
	assert.True(t, called)
}
