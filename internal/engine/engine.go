package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/hubd/internal/events"
	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/signing"
	"github.com/roach88/hubd/internal/store"
)

// Outcome is the result of a merge that did not fail.
type Outcome int

const (
	// OutcomeMerged means the input was persisted.
	OutcomeMerged Outcome = iota + 1

	// OutcomeSuperseded means an existing record already wins; nothing
	// was mutated. Merging an identical record twice yields this.
	OutcomeSuperseded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMerged:
		return "merged"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MergeResult is the per-item result of MergeMessages.
type MergeResult struct {
	Message *message.Message
	Outcome Outcome
	Err     error
}

// Engine is the storage engine of one hub.
//
// Thread-safety: every method is safe for concurrent use. Mutations for the
// same fid (or fname) are serialised; unrelated keys proceed independently
// up to the store's single writer.
type Engine struct {
	store    *store.Store
	bus      *events.Bus
	locks    *keyLocks
	verifier signing.Verifier
	network  message.Network
	clock    Clock
	policies map[message.SetType]PrunePolicy
	logger   *slog.Logger
}

// New creates an Engine over s. The engine does not own s; closing the
// engine closes only its event bus.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		locks:    newKeyLocks(),
		verifier: signing.DefaultVerifier{},
		network:  message.NetworkDevnet,
		clock:    systemClock{},
		logger:   slog.Default(),
	}
	WithPrunePolicies(DefaultPrunePolicies())(e)

	for _, opt := range opts {
		opt(e)
	}

	e.bus = events.NewBus(e.logger)
	return e
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Network returns the network the engine accepts messages for.
func (e *Engine) Network() message.Network { return e.network }

// Close closes the event bus. Subsequent mutations still commit but publish
// nothing.
func (e *Engine) Close() {
	e.bus.Close()
}

func (e *Engine) now() uint32 {
	return message.FromTime(e.clock.Now())
}

// update runs fn in one store transaction. Events passed to emit are staged
// on the bus only if the transaction commits. Errors that are not already a
// HubError become storage errors.
func (e *Engine) update(ctx context.Context, fid message.Fid, op string, fn func(tx *store.Txn, emit func(events.Event)) error) error {
	err := e.store.Update(ctx, func(tx *store.Txn) error {
		var staged []events.Event
		emit := func(ev events.Event) { staged = append(staged, ev) }
		if err := fn(tx, emit); err != nil {
			return err
		}
		tx.AfterCommit(func() { e.bus.Stage(staged...) })
		return nil
	})
	if err == nil {
		return nil
	}
	var he *HubError
	if errors.As(err, &he) {
		return err
	}
	return storageError(fid, op, err)
}

func (e *Engine) view(ctx context.Context, op string, fn func(r store.Reader) error) error {
	err := e.store.View(ctx, fn)
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return err
	}
	var he *HubError
	if errors.As(err, &he) {
		return err
	}
	return storageError(0, op, err)
}
