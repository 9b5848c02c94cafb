package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace
// filtering. Plain subscribers with a full buffer miss events rather
// than block publishers; lifecycle-critical consumers use a blocking
// subscription instead, which never drops.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	namespace string
	ch        chan Event
	blocking  bool
	// done is closed on unsubscribe so a blocked publisher is released.
	done chan struct{}
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscriber),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix
// of event.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		if sub.blocking {
			select {
			case sub.ch <- evt:
			case <-sub.done:
				// Subscriber is gone; nothing to deliver to.
			}
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop event if subscriber is full (non-blocking).
		}
	}
}

// Subscribe returns a channel that receives events matching the given
// namespace prefix. bufSize controls the channel buffer; events
// arriving while the buffer is full are dropped. Returns the channel
// and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(namespace, bufSize, false)
}

// SubscribeReliable is Subscribe without the drop: once the buffer is
// full, publishers block until the subscriber drains or unsubscribes.
// Only for consumers that must see every event (connection lifecycle)
// and are guaranteed to keep draining.
func (b *Bus) SubscribeReliable(namespace string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(namespace, bufSize, true)
}

func (b *Bus) subscribe(namespace string, bufSize int, blocking bool) (<-chan Event, func()) {
	sub := &subscriber{
		namespace: namespace,
		ch:        make(chan Event, bufSize),
		blocking:  blocking,
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		// Release any publisher blocked on this subscriber before
		// taking the write lock, or the two would deadlock.
		once.Do(func() { close(sub.done) })
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
