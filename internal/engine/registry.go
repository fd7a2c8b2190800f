package engine

import (
	"context"
	"errors"

	"github.com/roach88/hubd/internal/events"
	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/store"
)

// MergeIdRegistryEvent stores ev as the fid's custody record if it is newer
// by (block, log index) than the stored one. A transfer changes which
// address may sign from now on; it revokes nothing.
func (e *Engine) MergeIdRegistryEvent(ctx context.Context, ev *message.IdRegistryEvent) (Outcome, error) {
	if err := message.ValidateIdRegistryEvent(ev); err != nil {
		he := &HubError{Code: ErrCodeValidation, Message: "invalid id registry event", Err: err}
		if ev != nil {
			he.Fid = ev.Fid
		}
		return 0, he
	}

	unlock := e.locks.Lock(fidLockKey(ev.Fid))
	outcome := OutcomeSuperseded
	err := e.update(ctx, ev.Fid, "merge id registry event", func(tx *store.Txn, emit func(events.Event)) error {
		outcome = OutcomeSuperseded
		existing, err := loadCustody(tx, ev.Fid)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		case ev.Position().Compare(existing.Position()) <= 0:
			return nil
		}

		data, err := message.EncodeIdRegistryEvent(ev)
		if err != nil {
			return err
		}
		if err := tx.Put(custodyKey(ev.Fid), data); err != nil {
			return err
		}
		if err := tx.Put(fidKey(ev.Fid), nil); err != nil {
			return err
		}
		outcome = OutcomeMerged
		emit(events.Event{Type: events.TypeMergeIdRegistryEvent, IdRegistryEvent: ev})
		return nil
	})
	unlock()
	e.bus.Flush()

	if err != nil {
		return 0, err
	}
	e.logger.Debug("merge id registry event",
		"fid", uint64(ev.Fid),
		"block", ev.BlockNumber,
		"log_index", ev.LogIndex,
		"outcome", outcome.String())
	return outcome, nil
}

// MergeNameRegistryEvent stores ev as the fname's ownership record if it is
// newer by (block, log index) than the stored one.
func (e *Engine) MergeNameRegistryEvent(ctx context.Context, ev *message.NameRegistryEvent) (Outcome, error) {
	if err := message.ValidateNameRegistryEvent(ev); err != nil {
		he := &HubError{Code: ErrCodeValidation, Message: "invalid name registry event", Err: err}
		if ev != nil {
			he.Fid = ev.Fid
		}
		return 0, he
	}

	unlock := e.locks.Lock(fnameLockKey(ev.Fname))
	outcome := OutcomeSuperseded
	err := e.update(ctx, ev.Fid, "merge name registry event", func(tx *store.Txn, emit func(events.Event)) error {
		outcome = OutcomeSuperseded
		existing, err := loadNameEvent(tx, ev.Fname)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		case ev.Position().Compare(existing.Position()) <= 0:
			return nil
		}

		data, err := message.EncodeNameRegistryEvent(ev)
		if err != nil {
			return err
		}
		if err := tx.Put(fnameKey(ev.Fname), data); err != nil {
			return err
		}
		outcome = OutcomeMerged
		emit(events.Event{Type: events.TypeMergeNameRegistryEvent, NameRegistryEvent: ev})
		return nil
	})
	unlock()
	e.bus.Flush()

	if err != nil {
		return 0, err
	}
	e.logger.Debug("merge name registry event",
		"fname", ev.Fname,
		"block", ev.BlockNumber,
		"outcome", outcome.String())
	return outcome, nil
}

func loadCustody(r store.Reader, fid message.Fid) (*message.IdRegistryEvent, error) {
	data, err := r.Get(custodyKey(fid))
	if err != nil {
		return nil, err
	}
	return message.DecodeIdRegistryEvent(data)
}

func loadNameEvent(r store.Reader, fname string) (*message.NameRegistryEvent, error) {
	data, err := r.Get(fnameKey(fname))
	if err != nil {
		return nil, err
	}
	return message.DecodeNameRegistryEvent(data)
}
