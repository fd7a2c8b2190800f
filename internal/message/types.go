package message

import (
	"fmt"
	"strings"
	"time"
)

// Fid is an account identifier in the protocol namespace.
type Fid uint64

// EpochUnix is the protocol epoch (2021-01-01T00:00:00Z) in unix seconds.
// Message timestamps count seconds from this instant.
const EpochUnix int64 = 1609459200

// ToTime converts a protocol timestamp to wall-clock time.
func ToTime(ts uint32) time.Time {
	return time.Unix(EpochUnix+int64(ts), 0).UTC()
}

// FromTime converts wall-clock time to a protocol timestamp.
// Times before the epoch map to 0.
func FromTime(t time.Time) uint32 {
	secs := t.Unix() - EpochUnix
	if secs < 0 {
		return 0
	}
	return uint32(secs)
}

// Network identifies which hub network a message belongs to.
type Network uint8

const (
	NetworkMainnet Network = iota + 1
	NetworkTestnet
	NetworkDevnet
)

func (n Network) String() string {
	switch n {
	case NetworkMainnet:
		return "mainnet"
	case NetworkTestnet:
		return "testnet"
	case NetworkDevnet:
		return "devnet"
	default:
		return fmt.Sprintf("network(%d)", uint8(n))
	}
}

// ParseNetwork parses "mainnet", "testnet" or "devnet".
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet":
		return NetworkMainnet, nil
	case "testnet":
		return NetworkTestnet, nil
	case "devnet":
		return NetworkDevnet, nil
	default:
		return 0, fmt.Errorf("unknown network %q", s)
	}
}

// SetType groups message types that share one conflict namespace per fid.
type SetType uint8

const (
	SetSigner SetType = iota + 1
	SetCast
	SetReaction
	SetAmp
	SetVerification
	SetUserData
)

// AllSets lists every message set in key order.
var AllSets = []SetType{SetSigner, SetCast, SetReaction, SetAmp, SetVerification, SetUserData}

func (s SetType) String() string {
	switch s {
	case SetSigner:
		return "signer"
	case SetCast:
		return "cast"
	case SetReaction:
		return "reaction"
	case SetAmp:
		return "amp"
	case SetVerification:
		return "verification"
	case SetUserData:
		return "user_data"
	default:
		return fmt.Sprintf("set(%d)", uint8(s))
	}
}

// ParseSetType parses the lower-case set name used in configuration.
func ParseSetType(s string) (SetType, error) {
	for _, set := range AllSets {
		if set.String() == s {
			return set, nil
		}
	}
	return 0, fmt.Errorf("unknown message set %q", s)
}

// MessageType is the discriminator of the message body union.
type MessageType uint8

const (
	TypeCastAdd MessageType = iota + 1
	TypeCastRemove
	TypeReactionAdd
	TypeReactionRemove
	TypeAmpAdd
	TypeAmpRemove
	TypeVerificationAddEthAddress
	TypeVerificationRemove
	TypeSignerAdd
	TypeSignerRemove
	TypeUserDataAdd
)

var typeNames = map[MessageType]string{
	TypeCastAdd:                   "CAST_ADD",
	TypeCastRemove:                "CAST_REMOVE",
	TypeReactionAdd:               "REACTION_ADD",
	TypeReactionRemove:            "REACTION_REMOVE",
	TypeAmpAdd:                    "AMP_ADD",
	TypeAmpRemove:                 "AMP_REMOVE",
	TypeVerificationAddEthAddress: "VERIFICATION_ADD_ETH_ADDRESS",
	TypeVerificationRemove:        "VERIFICATION_REMOVE",
	TypeSignerAdd:                 "SIGNER_ADD",
	TypeSignerRemove:              "SIGNER_REMOVE",
	TypeUserDataAdd:               "USER_DATA_ADD",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MESSAGE_TYPE(%d)", uint8(t))
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Set returns the message set t belongs to, or 0 for unknown types.
func (t MessageType) Set() SetType {
	switch t {
	case TypeCastAdd, TypeCastRemove:
		return SetCast
	case TypeReactionAdd, TypeReactionRemove:
		return SetReaction
	case TypeAmpAdd, TypeAmpRemove:
		return SetAmp
	case TypeVerificationAddEthAddress, TypeVerificationRemove:
		return SetVerification
	case TypeSignerAdd, TypeSignerRemove:
		return SetSigner
	case TypeUserDataAdd:
		return SetUserData
	default:
		return 0
	}
}

// IsRemove reports whether t is the Remove half of its set's pairing.
func (t MessageType) IsRemove() bool {
	switch t {
	case TypeCastRemove, TypeReactionRemove, TypeAmpRemove, TypeVerificationRemove, TypeSignerRemove:
		return true
	default:
		return false
	}
}

// ReactionType is the kind of reaction a ReactionAdd expresses.
type ReactionType uint8

const (
	ReactionLike ReactionType = iota + 1
	ReactionRecast
)

// UserDataType selects which profile field a UserDataAdd sets.
type UserDataType uint8

const (
	UserDataPfp UserDataType = iota + 1
	UserDataDisplay
	UserDataBio
	UserDataURL
	UserDataFname
)
