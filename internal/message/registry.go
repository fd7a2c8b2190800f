package message

import (
	"encoding/json"
	"fmt"
)

// IdRegistryEventType distinguishes registrations from transfers.
type IdRegistryEventType uint8

const (
	IdRegistryRegister IdRegistryEventType = iota + 1
	IdRegistryTransfer
)

// IdRegistryEvent records the on-chain custody address of a fid.
//
// Events are totally ordered by (BlockNumber, LogIndex); see Supersedes.
type IdRegistryEvent struct {
	Fid             Fid                 `json:"fid"`
	Type            IdRegistryEventType `json:"type"`
	From            []byte              `json:"from,omitempty"`
	To              []byte              `json:"to"`
	BlockNumber     uint64              `json:"block_number"`
	LogIndex        uint32              `json:"log_index"`
	TransactionHash []byte              `json:"transaction_hash,omitempty"`
}

// NameRegistryEventType distinguishes ownership transfers from renewals.
type NameRegistryEventType uint8

const (
	NameRegistryTransfer NameRegistryEventType = iota + 1
	NameRegistryRenew
)

// NameRegistryEvent records the owner of an fname.
type NameRegistryEvent struct {
	Fname           string                `json:"fname"`
	Type            NameRegistryEventType `json:"type"`
	From            []byte                `json:"from,omitempty"`
	To              []byte                `json:"to"`
	Fid             Fid                   `json:"fid"`
	BlockNumber     uint64                `json:"block_number"`
	LogIndex        uint32                `json:"log_index"`
	Expiry          uint64                `json:"expiry,omitempty"`
	TransactionHash []byte                `json:"transaction_hash,omitempty"`
}

// ChainPosition is the (block, log index) pair that orders on-chain events.
type ChainPosition struct {
	BlockNumber uint64
	LogIndex    uint32
}

// Compare returns -1, 0 or 1.
func (p ChainPosition) Compare(other ChainPosition) int {
	switch {
	case p.BlockNumber < other.BlockNumber:
		return -1
	case p.BlockNumber > other.BlockNumber:
		return 1
	case p.LogIndex < other.LogIndex:
		return -1
	case p.LogIndex > other.LogIndex:
		return 1
	default:
		return 0
	}
}

func (e *IdRegistryEvent) Position() ChainPosition {
	return ChainPosition{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}

func (e *NameRegistryEvent) Position() ChainPosition {
	return ChainPosition{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}

// EncodeIdRegistryEvent serialises e for storage.
func EncodeIdRegistryEvent(e *IdRegistryEvent) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode id registry event: %w", err)
	}
	return data, nil
}

// DecodeIdRegistryEvent parses bytes produced by EncodeIdRegistryEvent.
func DecodeIdRegistryEvent(data []byte) (*IdRegistryEvent, error) {
	var e IdRegistryEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode id registry event: %w", err)
	}
	return &e, nil
}

// EncodeNameRegistryEvent serialises e for storage.
func EncodeNameRegistryEvent(e *NameRegistryEvent) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode name registry event: %w", err)
	}
	return data, nil
}

// DecodeNameRegistryEvent parses bytes produced by EncodeNameRegistryEvent.
func DecodeNameRegistryEvent(data []byte) (*NameRegistryEvent, error) {
	var e NameRegistryEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode name registry event: %w", err)
	}
	return &e, nil
}
