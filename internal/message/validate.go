package message

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Shape limits enforced by Validate.
const (
	MaxClockDriftSeconds = 10 * 60
	MaxCastTextLength    = 320
	MaxCastEmbeds        = 2
	MaxCastMentions      = 5
	MaxUserDataLength    = 256
	MaxFnameLength       = 16
)

// FieldError describes the first structural problem found in a record.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func fieldErr(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the structural preconditions of m: fid, network,
// timestamp bounds relative to now, hash integrity, signer key shape and
// body shape. It does not check the signature or authority.
func Validate(m *Message, network Network, now uint32) error {
	if m == nil {
		return fieldErr("message", "is nil")
	}
	d := m.Data
	if d.Fid == 0 {
		return fieldErr("data.fid", "is missing")
	}
	if !d.Type.Valid() {
		return fieldErr("data.type", "unknown message type %d", uint8(d.Type))
	}
	if d.Network != network {
		return fieldErr("data.network", "is %s, hub runs %s", d.Network, network)
	}
	if d.Timestamp == 0 {
		return fieldErr("data.timestamp", "is missing")
	}
	if uint64(d.Timestamp) > uint64(now)+MaxClockDriftSeconds {
		return fieldErr("data.timestamp", "%d is more than %ds in the future", d.Timestamp, MaxClockDriftSeconds)
	}
	if len(m.Signer) != EthAddressLength && len(m.Signer) != Ed25519KeyLength {
		return fieldErr("signer", "has length %d", len(m.Signer))
	}
	if len(m.Signature) == 0 {
		return fieldErr("signature", "is missing")
	}
	if len(m.Hash) != HashLength {
		return fieldErr("hash", "has length %d", len(m.Hash))
	}
	if err := validateBody(d); err != nil {
		return err
	}
	computed, err := ComputeHash(d)
	if err != nil {
		return fieldErr("data", "%v", err)
	}
	if !bytes.Equal(computed, m.Hash) {
		return fieldErr("hash", "does not match data")
	}
	return nil
}

func validateBody(d MessageData) error {
	switch body := d.Body.(type) {
	case *CastAddBody:
		if d.Type != TypeCastAdd {
			break
		}
		if !utf8.ValidString(body.Text) {
			return fieldErr("body.text", "is not valid UTF-8")
		}
		if utf8.RuneCountInString(body.Text) > MaxCastTextLength {
			return fieldErr("body.text", "exceeds %d characters", MaxCastTextLength)
		}
		if len(body.Embeds) > MaxCastEmbeds {
			return fieldErr("body.embeds", "exceeds %d entries", MaxCastEmbeds)
		}
		if len(body.Mentions) > MaxCastMentions {
			return fieldErr("body.mentions", "exceeds %d entries", MaxCastMentions)
		}
		if body.Parent != nil {
			return validateCastID("body.parent", *body.Parent)
		}
		return nil
	case *CastRemoveBody:
		if d.Type != TypeCastRemove {
			break
		}
		if len(body.TargetHash) != HashLength {
			return fieldErr("body.target_hash", "has length %d", len(body.TargetHash))
		}
		return nil
	case *ReactionBody:
		if d.Type != TypeReactionAdd && d.Type != TypeReactionRemove {
			break
		}
		if body.Type != ReactionLike && body.Type != ReactionRecast {
			return fieldErr("body.type", "unknown reaction type %d", uint8(body.Type))
		}
		return validateCastID("body.target", body.Target)
	case *AmpBody:
		if d.Type != TypeAmpAdd && d.Type != TypeAmpRemove {
			break
		}
		if body.Target == 0 {
			return fieldErr("body.target", "is missing")
		}
		if body.Target == d.Fid {
			return fieldErr("body.target", "cannot amplify own fid")
		}
		return nil
	case *VerificationAddEthAddressBody:
		if d.Type != TypeVerificationAddEthAddress {
			break
		}
		if len(body.Address) != EthAddressLength {
			return fieldErr("body.address", "has length %d", len(body.Address))
		}
		if len(body.EthSignature) == 0 {
			return fieldErr("body.eth_signature", "is missing")
		}
		if len(body.BlockHash) != HashLength {
			return fieldErr("body.block_hash", "has length %d", len(body.BlockHash))
		}
		return nil
	case *VerificationRemoveBody:
		if d.Type != TypeVerificationRemove {
			break
		}
		if len(body.Address) != EthAddressLength {
			return fieldErr("body.address", "has length %d", len(body.Address))
		}
		return nil
	case *SignerBody:
		if d.Type != TypeSignerAdd && d.Type != TypeSignerRemove {
			break
		}
		if len(body.Signer) != Ed25519KeyLength {
			return fieldErr("body.signer", "has length %d", len(body.Signer))
		}
		return nil
	case *UserDataBody:
		if d.Type != TypeUserDataAdd {
			break
		}
		if body.Type < UserDataPfp || body.Type > UserDataFname {
			return fieldErr("body.type", "unknown user data type %d", uint8(body.Type))
		}
		if utf8.RuneCountInString(body.Value) > MaxUserDataLength {
			return fieldErr("body.value", "exceeds %d characters", MaxUserDataLength)
		}
		if body.Type == UserDataFname && body.Value != "" {
			if err := ValidateFname(body.Value); err != nil {
				return fieldErr("body.value", "%v", err)
			}
		}
		return nil
	case nil:
		return fieldErr("body", "is missing")
	}
	return fieldErr("body", "%T does not match type %s", d.Body, d.Type)
}

func validateCastID(field string, id CastID) error {
	if id.Fid == 0 {
		return fieldErr(field+".fid", "is missing")
	}
	if len(id.Hash) != HashLength {
		return fieldErr(field+".hash", "has length %d", len(id.Hash))
	}
	return nil
}

// ValidateFname checks that name is 1-16 characters of [a-z0-9-] in NFC form.
func ValidateFname(name string) error {
	if name == "" {
		return fmt.Errorf("fname is empty")
	}
	if !norm.NFC.IsNormalString(name) {
		return fmt.Errorf("fname %q is not NFC normalized", name)
	}
	if len(name) > MaxFnameLength {
		return fmt.Errorf("fname %q exceeds %d characters", name, MaxFnameLength)
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return fmt.Errorf("fname %q contains %q", name, r)
		}
	}
	return nil
}

// ValidateIdRegistryEvent checks the structural preconditions of e.
func ValidateIdRegistryEvent(e *IdRegistryEvent) error {
	if e == nil {
		return fieldErr("event", "is nil")
	}
	if e.Fid == 0 {
		return fieldErr("fid", "is missing")
	}
	if e.Type != IdRegistryRegister && e.Type != IdRegistryTransfer {
		return fieldErr("type", "unknown id registry event type %d", uint8(e.Type))
	}
	if len(e.To) != EthAddressLength {
		return fieldErr("to", "has length %d", len(e.To))
	}
	return nil
}

// ValidateNameRegistryEvent checks the structural preconditions of e.
func ValidateNameRegistryEvent(e *NameRegistryEvent) error {
	if e == nil {
		return fieldErr("event", "is nil")
	}
	if err := ValidateFname(e.Fname); err != nil {
		return fieldErr("fname", "%v", err)
	}
	if e.Type != NameRegistryTransfer && e.Type != NameRegistryRenew {
		return fieldErr("type", "unknown name registry event type %d", uint8(e.Type))
	}
	if len(e.To) != EthAddressLength {
		return fieldErr("to", "has length %d", len(e.To))
	}
	return nil
}
