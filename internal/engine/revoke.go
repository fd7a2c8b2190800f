package engine

import (
	"bytes"

	"github.com/roach88/hubd/internal/events"
	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/store"
)

// revokeSigner deletes every record of fid signed by key, emitting one
// revokeMessage per deletion. Deleting a SignerAdd revokes the key it
// granted in turn. The record whose hash equals keep (the SignerRemove
// being merged) survives as the tombstone.
func revokeSigner(tx *store.Txn, fid message.Fid, key, keep []byte, emit func(events.Event)) error {
	visited := make(map[string]bool)
	pending := [][]byte{key}

	for len(pending) > 0 {
		k := pending[0]
		pending = pending[1:]
		if visited[string(k)] {
			continue
		}
		visited[string(k)] = true

		prefix := signerPrefix(fid, k)
		var victims [][]byte
		err := tx.Iterate(prefix, func(ik, _ []byte) error {
			rk, err := recordKeyFromSignerIndex(fid, len(prefix), ik)
			if err != nil {
				return err
			}
			victims = append(victims, rk)
			return nil
		})
		if err != nil {
			return err
		}

		for _, rk := range victims {
			m, err := loadRecord(tx, rk)
			if err != nil {
				return err
			}
			if bytes.Equal(m.Hash, keep) {
				continue
			}
			if err := retire(tx, m); err != nil {
				return err
			}
			emit(events.Event{Type: events.TypeRevokeMessage, Message: m})

			if m.Type() == message.TypeSignerAdd {
				pending = append(pending, m.Data.Body.(*message.SignerBody).Signer)
			}
		}
	}
	return nil
}
