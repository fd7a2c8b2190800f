package message

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashLength is the size of a message hash in bytes.
const HashLength = 32

// Key lengths accepted in Message.Signer.
const (
	EthAddressLength = 20
	Ed25519KeyLength = 32
)

// Message is a signed envelope around MessageData.
//
// Hash is the content digest of Data (see ComputeHash). Signature is over
// Hash and made by Signer, which is either the fid's custody address or a
// delegated ed25519 key.
type Message struct {
	Data      MessageData `json:"data"`
	Hash      []byte      `json:"hash"`
	Signer    []byte      `json:"signer"`
	Signature []byte      `json:"signature"`
}

// Fid is shorthand for m.Data.Fid.
func (m *Message) Fid() Fid { return m.Data.Fid }

// Type is shorthand for m.Data.Type.
func (m *Message) Type() MessageType { return m.Data.Type }

// Timestamp is shorthand for m.Data.Timestamp.
func (m *Message) Timestamp() uint32 { return m.Data.Timestamp }

// HashHex returns the hex encoded hash, for logs.
func (m *Message) HashHex() string { return hex.EncodeToString(m.Hash) }

// Equal reports whether two messages have the same hash, signer and signature.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	return bytes.Equal(m.Hash, other.Hash) &&
		bytes.Equal(m.Signer, other.Signer) &&
		bytes.Equal(m.Signature, other.Signature)
}

// MessageData is the signed payload.
type MessageData struct {
	Fid       Fid
	Type      MessageType
	Timestamp uint32
	Network   Network
	Body      Body
}

// Body is the union of message bodies. The concrete type is selected by
// MessageData.Type; see BodyFor.
type Body interface {
	isBody()
}

// CastID references a cast by author and hash.
type CastID struct {
	Fid  Fid    `json:"fid"`
	Hash []byte `json:"hash"`
}

type CastAddBody struct {
	Text     string   `json:"text"`
	Embeds   []string `json:"embeds,omitempty"`
	Mentions []Fid    `json:"mentions,omitempty"`
	Parent   *CastID  `json:"parent,omitempty"`
}

type CastRemoveBody struct {
	TargetHash []byte `json:"target_hash"`
}

// ReactionBody is shared by ReactionAdd and ReactionRemove.
type ReactionBody struct {
	Type   ReactionType `json:"type"`
	Target CastID       `json:"target"`
}

// AmpBody is shared by AmpAdd and AmpRemove.
type AmpBody struct {
	Target Fid `json:"target"`
}

type VerificationAddEthAddressBody struct {
	Address      []byte `json:"address"`
	EthSignature []byte `json:"eth_signature"`
	BlockHash    []byte `json:"block_hash"`
}

type VerificationRemoveBody struct {
	Address []byte `json:"address"`
}

// SignerBody is shared by SignerAdd and SignerRemove. Signer is the
// delegated ed25519 public key being granted or revoked.
type SignerBody struct {
	Signer []byte `json:"signer"`
}

type UserDataBody struct {
	Type  UserDataType `json:"type"`
	Value string       `json:"value"`
}

func (*CastAddBody) isBody()                   {}
func (*CastRemoveBody) isBody()                {}
func (*ReactionBody) isBody()                  {}
func (*AmpBody) isBody()                       {}
func (*VerificationAddEthAddressBody) isBody() {}
func (*VerificationRemoveBody) isBody()        {}
func (*SignerBody) isBody()                    {}
func (*UserDataBody) isBody()                  {}

// BodyFor returns a zero body of the concrete type used by t.
func BodyFor(t MessageType) (Body, error) {
	switch t {
	case TypeCastAdd:
		return &CastAddBody{}, nil
	case TypeCastRemove:
		return &CastRemoveBody{}, nil
	case TypeReactionAdd, TypeReactionRemove:
		return &ReactionBody{}, nil
	case TypeAmpAdd, TypeAmpRemove:
		return &AmpBody{}, nil
	case TypeVerificationAddEthAddress:
		return &VerificationAddEthAddressBody{}, nil
	case TypeVerificationRemove:
		return &VerificationRemoveBody{}, nil
	case TypeSignerAdd, TypeSignerRemove:
		return &SignerBody{}, nil
	case TypeUserDataAdd:
		return &UserDataBody{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %d", uint8(t))
	}
}

type messageDataJSON struct {
	Fid       Fid             `json:"fid"`
	Type      MessageType     `json:"type"`
	Timestamp uint32          `json:"timestamp"`
	Network   Network         `json:"network"`
	Body      json.RawMessage `json:"body"`
}

// MarshalJSON encodes the body alongside its discriminator.
func (d MessageData) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(d.Body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return json.Marshal(messageDataJSON{
		Fid:       d.Fid,
		Type:      d.Type,
		Timestamp: d.Timestamp,
		Network:   d.Network,
		Body:      body,
	})
}

// UnmarshalJSON decodes the body into the concrete type selected by "type".
func (d *MessageData) UnmarshalJSON(data []byte) error {
	var raw messageDataJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	body, err := BodyFor(raw.Type)
	if err != nil {
		return err
	}
	if len(raw.Body) > 0 && string(raw.Body) != "null" {
		if err := json.Unmarshal(raw.Body, body); err != nil {
			return fmt.Errorf("unmarshal %s body: %w", raw.Type, err)
		}
	}
	*d = MessageData{
		Fid:       raw.Fid,
		Type:      raw.Type,
		Timestamp: raw.Timestamp,
		Network:   raw.Network,
		Body:      body,
	}
	return nil
}

// Encode serialises m for storage.
func Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}
