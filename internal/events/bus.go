package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Subscription.Next once the subscription (or its
// bus) is closed and its queue is drained.
var ErrClosed = errors.New("events: subscription closed")

// Handler receives events synchronously during Flush.
type Handler func(Event)

type handlerEntry struct {
	id int
	fn Handler
}

// Bus fans committed events out to handlers and subscriptions.
//
// Producers call Stage while their commit is still ordered (inside the store
// write section) and Flush once every lock is released. Stage assigns the
// sequence number, so Seq order is commit order. Delivery is synchronous on
// whichever goroutine is flushing, which under concurrent producers need not
// be the one that staged the event.
type Bus struct {
	logger *slog.Logger

	mu       sync.Mutex
	seq      uint64
	pending  []Event
	flushing bool
	closed   bool
	nextID   int
	handlers map[Type][]handlerEntry
	subs     map[*Subscription]struct{}
}

// NewBus creates an empty bus. A nil logger uses slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger,
		handlers: make(map[Type][]handlerEntry),
		subs:     make(map[*Subscription]struct{}),
	}
}

// On registers fn for events of type t and returns a function that removes it.
// On a closed bus it registers nothing.
func (b *Bus) On(t Type, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], handlerEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[t]
		for i, e := range entries {
			if e.id == id {
				b.handlers[t] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Subscribe returns a queue-backed subscription receiving the given event
// types. No types means every type.
func (b *Bus) Subscribe(types ...Type) *Subscription {
	if len(types) == 0 {
		types = AllTypes
	}
	filter := make(map[Type]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	sub := &Subscription{bus: b, filter: filter, queue: newEventQueue()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.queue.Close()
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Stage assigns sequence numbers to evs and queues them for the next Flush.
// Events staged after Close are dropped.
func (b *Bus) Stage(evs ...Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ev := range evs {
		b.seq++
		ev.Seq = b.seq
		b.pending = append(b.pending, ev)
	}
}

// Flush delivers every staged event in sequence order.
//
// If another goroutine (or a handler further up this goroutine's stack) is
// already flushing, Flush returns immediately and that flusher delivers the
// newly staged events before it finishes. A caller of Flush can therefore
// return before handlers have seen its own events; they still see them in
// Seq order. Subscription queues give the same guarantee.
func (b *Bus) Flush() {
	b.mu.Lock()
	if b.flushing {
		b.mu.Unlock()
		return
	}
	b.flushing = true

	for len(b.pending) > 0 {
		batch := b.pending
		b.pending = nil

		for _, ev := range batch {
			handlers := append([]handlerEntry(nil), b.handlers[ev.Type]...)
			var subs []*Subscription
			for sub := range b.subs {
				if sub.filter[ev.Type] {
					subs = append(subs, sub)
				}
			}
			b.mu.Unlock()

			for _, sub := range subs {
				sub.queue.Enqueue(ev)
			}
			for _, h := range handlers {
				b.deliver(h.fn, ev)
			}

			b.mu.Lock()
		}
	}

	b.flushing = false
	b.mu.Unlock()
}

func (b *Bus) deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"type", ev.Type.String(),
				"seq", ev.Seq,
				"panic", r)
		}
	}()
	fn(ev)
}

// Close drops pending events, closes every subscription and rejects
// further staging.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.pending = nil
	for sub := range b.subs {
		sub.queue.Close()
	}
	b.subs = nil
	b.handlers = nil
}

// Subscription is a filtered, unbounded event queue.
type Subscription struct {
	bus    *Bus
	filter map[Type]bool
	queue  *eventQueue
}

// Next blocks until an event is available, ctx is done, or the
// subscription is closed and drained.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok := s.queue.TryDequeue(); ok {
			return ev, nil
		}
		if s.queue.Closed() {
			return Event{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.queue.Wait():
		}
	}
}

// Drain returns every queued event without blocking.
func (s *Subscription) Drain() []Event {
	return s.queue.DrainAll()
}

// Len returns the number of queued events.
func (s *Subscription) Len() int {
	return s.queue.Len()
}

// Close detaches the subscription from its bus. Events already queued can
// still be read with Next.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	if s.bus.subs != nil {
		delete(s.bus.subs, s)
	}
	s.bus.mu.Unlock()
	s.queue.Close()
}
