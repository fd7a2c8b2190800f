package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/roach88/hubd/internal/events"
	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/store"
	"github.com/roach88/hubd/internal/trie"
)

// MergeMessage validates m, checks its signer against the fid's signer
// chain, resolves it against the record holding the same logical key and
// persists it if it wins.
//
// Returns OutcomeSuperseded when an existing record wins (including an
// identical duplicate). Failures are *HubError values.
//
// Events are committed before MergeMessage returns, but when another merge is
// flushing the bus concurrently, that goroutine runs the On handlers and they
// may not have run yet; see events.Bus.Flush.
func (e *Engine) MergeMessage(ctx context.Context, m *message.Message) (Outcome, error) {
	if err := e.validate(m); err != nil {
		return 0, err
	}

	unlock := e.locks.Lock(fidLockKey(m.Fid()))
	var outcome Outcome
	err := e.update(ctx, m.Fid(), "merge message", func(tx *store.Txn, emit func(events.Event)) error {
		var err error
		outcome, err = e.mergeTx(tx, m, emit)
		return err
	})
	unlock()
	e.bus.Flush()

	if err != nil {
		e.logger.Debug("merge rejected",
			"fid", uint64(m.Fid()),
			"type", m.Type().String(),
			"hash", m.HashHex(),
			"error", err)
		return 0, err
	}
	e.logger.Debug("merge",
		"fid", uint64(m.Fid()),
		"type", m.Type().String(),
		"hash", m.HashHex(),
		"outcome", outcome.String())
	return outcome, nil
}

// MergeMessages merges each message independently. One rejection never
// affects the others.
func (e *Engine) MergeMessages(ctx context.Context, msgs []*message.Message) []MergeResult {
	results := make([]MergeResult, len(msgs))
	for i, m := range msgs {
		outcome, err := e.MergeMessage(ctx, m)
		results[i] = MergeResult{Message: m, Outcome: outcome, Err: err}
	}
	return results
}

func (e *Engine) validate(m *message.Message) error {
	if err := message.Validate(m, e.network, e.now()); err != nil {
		return validationError(m, err)
	}
	if !e.verifier.Verify(m.Signer, m.Hash, m.Signature) {
		return validationError(m, errBadSignature)
	}
	return nil
}

func (e *Engine) mergeTx(tx *store.Txn, m *message.Message, emit func(events.Event)) (Outcome, error) {
	dup, err := tx.Has(hashKey(m.Hash))
	if err != nil {
		return 0, err
	}
	if dup {
		return OutcomeSuperseded, nil
	}
	pruned, err := tx.Has(prunedKey(m.Hash))
	if err != nil {
		return 0, err
	}
	if pruned {
		return OutcomeSuperseded, nil
	}

	if err := checkAuthority(tx, m); err != nil {
		return 0, err
	}

	set := m.Type().Set()
	lk, err := logicalKey(m)
	if err != nil {
		return 0, validationError(m, err)
	}
	existing, err := loadByLogicalKey(tx, m.Fid(), set, lk)
	if err != nil {
		return 0, err
	}

	if existing != nil && compareMessages(m, existing) <= 0 {
		return OutcomeSuperseded, nil
	}
	prunable, err := e.prunable(tx, m, existing != nil)
	if err != nil {
		return 0, err
	}
	if prunable {
		return OutcomeSuperseded, nil
	}

	var deleted []*message.Message
	if existing != nil {
		// The set index entry is overwritten by putRecord below.
		if err := deleteRecord(tx, existing, nil); err != nil {
			return 0, err
		}
		deleted = append(deleted, existing)
	}

	if err := putRecord(tx, m, lk); err != nil {
		return 0, err
	}
	emit(events.Event{Type: events.TypeMergeMessage, Message: m, Deleted: deleted})

	if m.Type() == message.TypeSignerRemove {
		revoked := m.Data.Body.(*message.SignerBody).Signer
		if err := revokeSigner(tx, m.Fid(), revoked, m.Hash, emit); err != nil {
			return 0, err
		}
	}
	return OutcomeMerged, nil
}

// checkAuthority requires a custody event for the fid and a signer that is
// either the custody address or the key of a live SignerAdd.
func checkAuthority(r store.Reader, m *message.Message) error {
	custody, err := loadCustody(r, m.Fid())
	if errors.Is(err, store.ErrNotFound) {
		return authorityError(m, errNoCustody)
	}
	if err != nil {
		return err
	}
	if bytes.Equal(m.Signer, custody.To) {
		return nil
	}
	if len(m.Signer) == message.Ed25519KeyLength {
		live, err := signerIsLive(r, m.Fid(), m.Signer)
		if err != nil {
			return err
		}
		if !live {
			return authorityError(m, errUnauthorized)
		}
		if m.Type() == message.TypeSignerAdd {
			return checkGrantChain(r, m)
		}
		return nil
	}
	return authorityError(m, errUnauthorized)
}

// checkGrantChain follows the live SignerAdd records from the delegate
// signing m up to a custody key. A SignerAdd whose chain passes through the
// key it grants would replace that key's rooted grant with a cycle, so it is
// rejected.
func checkGrantChain(r store.Reader, m *message.Message) error {
	granted := m.Data.Body.(*message.SignerBody).Signer
	visited := make(map[string]bool)
	for cur := m.Signer; len(cur) == message.Ed25519KeyLength; {
		if bytes.Equal(cur, granted) || visited[string(cur)] {
			return authorityError(m, errGrantCycle)
		}
		visited[string(cur)] = true

		rec, err := loadByLogicalKey(r, m.Fid(), message.SetSigner, cur)
		if err != nil {
			return err
		}
		if rec == nil || rec.Type() != message.TypeSignerAdd {
			return authorityError(m, errUnauthorized)
		}
		cur = rec.Signer
	}
	return nil
}

func signerIsLive(r store.Reader, fid message.Fid, key []byte) (bool, error) {
	rec, err := loadByLogicalKey(r, fid, message.SetSigner, key)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.Type() == message.TypeSignerAdd, nil
}

// loadByLogicalKey returns the record holding lk, or nil.
func loadByLogicalKey(r store.Reader, fid message.Fid, set message.SetType, lk []byte) (*message.Message, error) {
	v, err := r.Get(setIndexKey(fid, set, lk))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rk, err := recordKeyFromIndex(fid, set, v)
	if err != nil {
		return nil, err
	}
	return loadRecord(r, rk)
}

func loadRecord(r store.Reader, rk []byte) (*message.Message, error) {
	data, err := r.Get(rk)
	if err != nil {
		return nil, fmt.Errorf("load record %x: %w", rk, err)
	}
	return message.Decode(data)
}

// putRecord writes m with every index and inserts its hash into the trie.
func putRecord(tx *store.Txn, m *message.Message, lk []byte) error {
	data, err := message.Encode(m)
	if err != nil {
		return err
	}
	rk := recordKey(m)
	writes := []struct{ key, value []byte }{
		{rk, data},
		{setIndexKey(m.Fid(), m.Type().Set(), lk), setIndexValue(m)},
		{bySignerKey(m), nil},
		{hashKey(m.Hash), rk},
		{fidKey(m.Fid()), nil},
	}
	for _, w := range writes {
		if err := tx.Put(w.key, w.value); err != nil {
			return err
		}
	}
	if _, err := trie.Insert(tx, m.Hash); err != nil {
		return err
	}
	return nil
}

// deleteRecord removes m, its indices and its trie leaf. When lk is non-nil
// the set index entry is dropped too, provided it still points at m.
func deleteRecord(tx *store.Txn, m *message.Message, lk []byte) error {
	for _, k := range [][]byte{recordKey(m), bySignerKey(m), hashKey(m.Hash)} {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}
	if lk != nil {
		idx := setIndexKey(m.Fid(), m.Type().Set(), lk)
		v, err := tx.Get(idx)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		case bytes.Equal(v, setIndexValue(m)):
			if err := tx.Delete(idx); err != nil {
				return err
			}
		}
	}
	if _, err := trie.Delete(tx, m.Hash); err != nil {
		return err
	}
	return nil
}

// retire deletes a live record and its set index entry.
func retire(tx *store.Txn, m *message.Message) error {
	lk, err := logicalKey(m)
	if err != nil {
		return err
	}
	return deleteRecord(tx, m, lk)
}
