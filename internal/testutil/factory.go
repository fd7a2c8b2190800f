package testutil

import (
	"fmt"

	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/signing"
)

// Account bundles an fid with a deterministic custody key.
type Account struct {
	Fid     message.Fid
	Network message.Network
	Custody *signing.EthSigner
}

// NewAccount creates an account whose custody key is derived from fid.
func NewAccount(fid message.Fid, network message.Network) *Account {
	return &Account{
		Fid:     fid,
		Network: network,
		Custody: signing.EthSignerFromSeed([]byte(fmt.Sprintf("custody-%d", fid))),
	}
}

// Delegate returns a deterministic ed25519 signer for seed.
func Delegate(seed string) *signing.Ed25519Signer {
	return signing.Ed25519SignerFromSeed([]byte(seed))
}

// Register returns the IdRegistryEvent registering the account's custody key.
func (a *Account) Register(block uint64) *message.IdRegistryEvent {
	return &message.IdRegistryEvent{
		Fid:         a.Fid,
		Type:        message.IdRegistryRegister,
		To:          a.Custody.Key(),
		BlockNumber: block,
	}
}

// Transfer returns an IdRegistryEvent moving custody to the key of seed and
// updates a.Custody to match.
func (a *Account) Transfer(seed string, block uint64, logIndex uint32) *message.IdRegistryEvent {
	from := a.Custody.Key()
	a.Custody = signing.EthSignerFromSeed([]byte(seed))
	return &message.IdRegistryEvent{
		Fid:         a.Fid,
		Type:        message.IdRegistryTransfer,
		From:        from,
		To:          a.Custody.Key(),
		BlockNumber: block,
		LogIndex:    logIndex,
	}
}

// Fname returns a NameRegistryEvent giving fname to the account.
func (a *Account) Fname(fname string, block uint64, logIndex uint32) *message.NameRegistryEvent {
	return &message.NameRegistryEvent{
		Fname:       fname,
		Type:        message.NameRegistryTransfer,
		To:          a.Custody.Key(),
		Fid:         a.Fid,
		BlockNumber: block,
		LogIndex:    logIndex,
	}
}

// Sign builds a message from data, hashing and signing it with signer.
// Panics on error; use only in tests.
func Sign(signer signing.Signer, data message.MessageData) *message.Message {
	hash := message.MustComputeHash(data)
	sig, err := signer.Sign(hash)
	if err != nil {
		panic(fmt.Sprintf("testutil: sign: %v", err))
	}
	return &message.Message{
		Data:      data,
		Hash:      hash,
		Signer:    signer.Key(),
		Signature: sig,
	}
}

func (a *Account) data(t message.MessageType, ts uint32, body message.Body) message.MessageData {
	return message.MessageData{Fid: a.Fid, Type: t, Timestamp: ts, Network: a.Network, Body: body}
}

// SignerAdd grants key, signed by signer.
func (a *Account) SignerAdd(signer signing.Signer, ts uint32, key []byte) *message.Message {
	return Sign(signer, a.data(message.TypeSignerAdd, ts, &message.SignerBody{Signer: key}))
}

// SignerRemove revokes key, signed by signer.
func (a *Account) SignerRemove(signer signing.Signer, ts uint32, key []byte) *message.Message {
	return Sign(signer, a.data(message.TypeSignerRemove, ts, &message.SignerBody{Signer: key}))
}

// CastAdd posts text.
func (a *Account) CastAdd(signer signing.Signer, ts uint32, text string) *message.Message {
	return Sign(signer, a.data(message.TypeCastAdd, ts, &message.CastAddBody{Text: text}))
}

// CastRemove deletes the cast with target hash.
func (a *Account) CastRemove(signer signing.Signer, ts uint32, target []byte) *message.Message {
	return Sign(signer, a.data(message.TypeCastRemove, ts, &message.CastRemoveBody{TargetHash: target}))
}

// ReactionAdd likes target.
func (a *Account) ReactionAdd(signer signing.Signer, ts uint32, target *message.Message) *message.Message {
	return Sign(signer, a.data(message.TypeReactionAdd, ts, &message.ReactionBody{
		Type:   message.ReactionLike,
		Target: message.CastID{Fid: target.Fid(), Hash: target.Hash},
	}))
}

// ReactionRemove unlikes target.
func (a *Account) ReactionRemove(signer signing.Signer, ts uint32, target *message.Message) *message.Message {
	return Sign(signer, a.data(message.TypeReactionRemove, ts, &message.ReactionBody{
		Type:   message.ReactionLike,
		Target: message.CastID{Fid: target.Fid(), Hash: target.Hash},
	}))
}

// AmpAdd amplifies target.
func (a *Account) AmpAdd(signer signing.Signer, ts uint32, target message.Fid) *message.Message {
	return Sign(signer, a.data(message.TypeAmpAdd, ts, &message.AmpBody{Target: target}))
}

// AmpRemove withdraws an amplification of target.
func (a *Account) AmpRemove(signer signing.Signer, ts uint32, target message.Fid) *message.Message {
	return Sign(signer, a.data(message.TypeAmpRemove, ts, &message.AmpBody{Target: target}))
}

// UserData sets a profile field.
func (a *Account) UserData(signer signing.Signer, ts uint32, t message.UserDataType, value string) *message.Message {
	return Sign(signer, a.data(message.TypeUserDataAdd, ts, &message.UserDataBody{Type: t, Value: value}))
}

// VerificationAdd claims address.
func (a *Account) VerificationAdd(signer signing.Signer, ts uint32, address []byte) *message.Message {
	return Sign(signer, a.data(message.TypeVerificationAddEthAddress, ts, &message.VerificationAddEthAddressBody{
		Address:      address,
		EthSignature: []byte{0x01},
		BlockHash:    make([]byte, message.HashLength),
	}))
}

// VerificationRemove drops the claim on address.
func (a *Account) VerificationRemove(signer signing.Signer, ts uint32, address []byte) *message.Message {
	return Sign(signer, a.data(message.TypeVerificationRemove, ts, &message.VerificationRemoveBody{Address: address}))
}
