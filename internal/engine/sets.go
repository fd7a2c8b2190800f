package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/roach88/hubd/internal/message"
)

// logicalKey returns the key m contends on within its set. At most one
// record per (fid, set, logical key) is live.
func logicalKey(m *message.Message) ([]byte, error) {
	switch body := m.Data.Body.(type) {
	case *message.CastAddBody:
		return append([]byte(nil), m.Hash...), nil
	case *message.CastRemoveBody:
		return append([]byte(nil), body.TargetHash...), nil
	case *message.ReactionBody:
		k := []byte{byte(body.Type)}
		k = binary.BigEndian.AppendUint64(k, uint64(body.Target.Fid))
		return append(k, body.Target.Hash...), nil
	case *message.AmpBody:
		return binary.BigEndian.AppendUint64(nil, uint64(body.Target)), nil
	case *message.VerificationAddEthAddressBody:
		return append([]byte(nil), body.Address...), nil
	case *message.VerificationRemoveBody:
		return append([]byte(nil), body.Address...), nil
	case *message.SignerBody:
		return append([]byte(nil), body.Signer...), nil
	case *message.UserDataBody:
		return []byte{byte(body.Type)}, nil
	default:
		return nil, fmt.Errorf("no logical key for body %T", m.Data.Body)
	}
}

// compareMessages orders two records contending on one logical key by
// timestamp, then kind (Remove above Add), then hash bytewise.
func compareMessages(a, b *message.Message) int {
	switch {
	case a.Timestamp() < b.Timestamp():
		return -1
	case a.Timestamp() > b.Timestamp():
		return 1
	}
	ra, rb := a.Type().IsRemove(), b.Type().IsRemove()
	switch {
	case ra && !rb:
		return 1
	case !ra && rb:
		return -1
	}
	return bytes.Compare(a.Hash, b.Hash)
}

// addTypes lists the Add half of each set, used by the typed accessors.
var addTypes = map[message.SetType]message.MessageType{
	message.SetCast:         message.TypeCastAdd,
	message.SetReaction:     message.TypeReactionAdd,
	message.SetAmp:          message.TypeAmpAdd,
	message.SetVerification: message.TypeVerificationAddEthAddress,
	message.SetSigner:       message.TypeSignerAdd,
	message.SetUserData:     message.TypeUserDataAdd,
}
