package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/signing"
)

func TestManualClock_SetAndAdvance(t *testing.T) {
	clock := ClockAtTimestamp(100)
	assert.Equal(t, uint32(100), clock.Timestamp())

	clock.Advance(5 * time.Second)
	assert.Equal(t, uint32(105), clock.Timestamp())

	clock.Set(message.ToTime(7))
	assert.Equal(t, uint32(7), clock.Timestamp())
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("")
	assert.Equal(t, "session-1", ids.Generate())
	assert.Equal(t, "session-2", ids.Generate())

	custom := NewSequentialIDs("sync")
	assert.Equal(t, "sync-1", custom.Generate())
}

func TestAccount_Deterministic(t *testing.T) {
	a := NewAccount(7, message.NetworkDevnet)
	b := NewAccount(7, message.NetworkDevnet)
	assert.Equal(t, a.Custody.Key(), b.Custody.Key())
	assert.Equal(t, Delegate("x").Key(), Delegate("x").Key())
	assert.NotEqual(t, Delegate("x").Key(), Delegate("y").Key())
}

func TestSign_ProducesVerifiableMessages(t *testing.T) {
	a := NewAccount(1, message.NetworkDevnet)
	d := Delegate("d1")

	byCustody := a.SignerAdd(a.Custody, 10, d.Key())
	byDelegate := a.CastAdd(d, 11, "hello")

	v := signing.DefaultVerifier{}
	for _, m := range []*message.Message{byCustody, byDelegate} {
		require.NoError(t, message.Validate(m, message.NetworkDevnet, 100))
		assert.True(t, v.Verify(m.Signer, m.Hash, m.Signature), m.Type().String())
	}
}

func TestAccount_Transfer(t *testing.T) {
	a := NewAccount(1, message.NetworkDevnet)
	before := a.Custody.Key()

	ev := a.Transfer("new-custody", 5, 2)
	assert.Equal(t, before, ev.From)
	assert.Equal(t, a.Custody.Key(), ev.To)
	assert.NotEqual(t, before, ev.To)
	require.NoError(t, message.ValidateIdRegistryEvent(ev))
}
