// Package events implements the bounded multi-producer broadcast bus
// behind the SSE surface and the notification fan-out (spec §4.C).
package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// DefaultCapacity is the per-subscriber buffer size used when
// NewBus's capacity argument is <= 0.
const DefaultCapacity = 256

// Subscription is a handle returned by Subscribe, used to Unsubscribe
// when a consumer disconnects. It also exposes the channel the
// subscriber reads from and how many events it has had to drop.
type Subscription struct {
	id uint64
	C  <-chan *Event

	bus *Bus
}

// Unsubscribe removes this subscription. Safe to call multiple times.
func (s Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Lag returns how many events this subscriber has missed because it
// failed to drain its buffer fast enough.
func (s Subscription) Lag() uint64 {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		return sub.dropped
	}
	return 0
}

type subscriber struct {
	ch      chan *Event
	dropped uint64
}

// Bus provides bounded multi-producer broadcast: every Emit call is
// non-blocking for the writer, and a slow subscriber loses its oldest
// buffered event (rather than stalling the publisher or every other
// subscriber) — grounded in the original Rust implementation's
// tokio::sync::broadcast (original_source/src/sse.rs) and in the
// drop-oldest contract internal/server/events_stream_test.go already
// exercises against enqueueEvent.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64
	capacity    int
	closed      bool
	log         zerolog.Logger
}

// NewBus creates a new event bus with the given per-subscriber buffer
// capacity (DefaultCapacity if capacity <= 0).
func NewBus(log zerolog.Logger, capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subscribers: make(map[uint64]*subscriber),
		capacity:    capacity,
		log:         log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a new listener and returns its Subscription. The
// returned channel is closed when the bus itself is closed (process
// shutdown) or when Unsubscribe is called.
func (b *Bus) Subscribe() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{ch: make(chan *Event, b.capacity)}

	if b.closed {
		close(sub.ch)
		return Subscription{id: id, C: sub.ch, bus: b}
	}
	b.subscribers[id] = sub

	return Subscription{id: id, C: sub.ch, bus: b}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

// Emit publishes an event to every current subscriber. It never blocks:
// a subscriber whose buffer is full has its oldest queued event dropped
// to make room, and its drop counter increments so Lag() can report it.
// Publishing with zero subscribers is a silent no-op, per spec §4.C.
func (b *Bus) Emit(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		b.deliver(sub, ev)
	}

	b.log.Debug().
		Str("event_type", string(ev.Type)).
		Str("monitor_id", ev.MonitorID).
		Int("subscribers", len(b.subscribers)).
		Msg("event emitted")
}

// deliver pushes ev onto sub's channel, dropping the oldest buffered
// event first if the channel is already full.
func (b *Bus) deliver(sub *subscriber, ev *Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	select {
	case <-sub.ch:
		sub.dropped++
	default:
	}

	select {
	case sub.ch <- ev:
	default:
		// Another goroutine drained concurrently and refilled the slot
		// we just freed; the event is dropped rather than retried, since
		// retrying could block the writer indefinitely under sustained
		// contention.
		sub.dropped++
	}
}

// Close shuts the bus down: every subscriber's channel is closed so
// their read loops observe end-of-stream, per spec §4.C's shutdown
// semantics.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount reports the current number of live subscribers, used
// by health/metrics surfaces.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
