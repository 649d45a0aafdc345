// Package bus is an in-process publish/subscribe event bus: a single
// producer publishes events, each subscriber has its own bounded,
// filtered queue, and a slow subscriber only drops its own events
// instead of blocking the publisher or other subscribers.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/user/ht/internal/event"
)

// DefaultQueueSize is the per-subscriber queue capacity used when
// Subscribe is not given an explicit size.
const DefaultQueueSize = 256

// Subscriber is a live subscription: a channel of matching events plus
// a running count of events dropped because the queue was full.
type Subscriber struct {
	events  chan event.Event
	filter  map[event.Type]bool
	dropped atomic.Uint64
}

// Events returns the channel new events are delivered on. The channel
// is closed when the bus shuts down.
func (s *Subscriber) Events() <-chan event.Event { return s.events }

// Dropped returns the number of events dropped for this subscriber
// because its queue was full at publish time.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscriber) wants(t event.Type) bool {
	if len(s.filter) == 0 {
		return true
	}
	return s.filter[t]
}

// Bus fans out published events to every matching subscriber. All
// methods are safe to call from any goroutine; Publish is intended to
// be called only by the session loop, matching the single-producer
// contract.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber filtered to the given event
// types (nil or empty means "all types") with the given queue capacity
// (<=0 selects DefaultQueueSize).
func (b *Bus) Subscribe(types map[event.Type]bool, queueSize int) *Subscriber {
	return b.SubscribeSeeded(types, queueSize, nil)
}

// SubscribeSeeded registers a subscriber exactly like Subscribe, but if
// seed is non-nil it is called and its result queued onto the new
// subscriber while still holding the registration lock, so a Publish
// racing this call can never land an event ahead of the seeded one.
func (b *Bus) SubscribeSeeded(types map[event.Type]bool, queueSize int, seed func() event.Event) *Subscriber {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	s := &Subscriber{
		events: make(chan event.Event, queueSize),
		filter: types,
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	if seed != nil {
		s.events <- seed()
	}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.events)
	}
	b.mu.Unlock()
}

// Publish delivers ev to every subscriber whose filter matches its
// type. A subscriber with a full queue has the event dropped for it
// alone; Publish never blocks.
func (b *Bus) Publish(ev event.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.wants(ev.Type) {
			continue
		}
		select {
		case s.events <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Shutdown closes every remaining subscriber's channel, signaling
// end-of-stream, and removes them from the bus.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		close(s.events)
	}
	b.subs = make(map[*Subscriber]struct{})
}
