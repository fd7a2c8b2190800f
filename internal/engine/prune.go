package engine

import (
	"bytes"
	"context"

	"github.com/roach88/hubd/internal/events"
	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/store"
)

// PruneMessages enforces the retention policy of every set of fid and
// returns the number of records deleted.
//
// Within a set, records older than MaxAgeSeconds go first; then the oldest
// by (timestamp, hash) go until at most MaxCount remain. Remove tombstones
// count toward the limit. Running it again on a set within bounds deletes
// nothing. Victims are remembered by hash and never merged again.
func (e *Engine) PruneMessages(ctx context.Context, fid message.Fid) (int, error) {
	unlock := e.locks.Lock(fidLockKey(fid))
	var pruned int
	err := e.update(ctx, fid, "prune messages", func(tx *store.Txn, emit func(events.Event)) error {
		pruned = 0
		now := e.now()
		for _, set := range message.AllSets {
			policy, ok := e.policies[set]
			if !ok {
				continue
			}
			msgs, err := scanSet(tx, fid, set)
			if err != nil {
				return err
			}
			for _, m := range pruneVictims(msgs, policy, now) {
				if err := retire(tx, m); err != nil {
					return err
				}
				if err := tx.Put(prunedKey(m.Hash), nil); err != nil {
					return err
				}
				emit(events.Event{Type: events.TypePruneMessage, Message: m})
				pruned++
			}
		}
		return nil
	})
	unlock()
	e.bus.Flush()

	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		e.logger.Info("pruned messages", "fid", uint64(fid), "count", pruned)
	}
	return pruned, nil
}

// pruneVictims selects the oldest records of msgs, which must be sorted by
// (timestamp, hash).
func pruneVictims(msgs []*message.Message, p PrunePolicy, now uint32) []*message.Message {
	n := 0
	if p.MaxAgeSeconds > 0 {
		for n < len(msgs) && uint64(msgs[n].Timestamp())+uint64(p.MaxAgeSeconds) < uint64(now) {
			n++
		}
	}
	if p.MaxCount > 0 && len(msgs)-n > p.MaxCount {
		n = len(msgs) - p.MaxCount
	}
	return msgs[:n]
}

// prunable reports whether m would be the first victim of its set's
// MaxCount as soon as it was merged: the set is full and m sorts before its
// oldest record. When m replaces a record the set does not grow.
func (e *Engine) prunable(r store.Reader, m *message.Message, replaces bool) (bool, error) {
	p, ok := e.policies[m.Type().Set()]
	if !ok || p.MaxCount <= 0 || replaces {
		return false, nil
	}

	// Set index values are (ts, hash), which order like record keys.
	var count int
	var oldest []byte
	err := r.Iterate(setPrefix(prefixSetIndex, m.Fid(), m.Type().Set()), func(_, v []byte) error {
		count++
		if oldest == nil || bytes.Compare(v, oldest) < 0 {
			oldest = append(oldest[:0], v...)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return count >= p.MaxCount && bytes.Compare(setIndexValue(m), oldest) < 0, nil
}
