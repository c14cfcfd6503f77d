package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus is an in-process publish/subscribe event bus. Delivery is
// non-blocking: a subscriber whose buffer is full misses the event, which
// is acceptable because consumers resynchronize from state, not from the
// event history.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	seq    uint64
}

// Subscription receives events whose kind matches any of its prefixes.
type Subscription struct {
	bus      *Bus
	id       int
	prefixes []string
	ch       chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Publish stamps the event with a sequence number and timestamp and fans it
// out to matching subscribers.
func (b *Bus) Publish(kind string, payload any) {
	b.mu.Lock()
	b.seq++
	evt := Event{Kind: kind, Seq: b.seq, Timestamp: time.Now(), Payload: payload}
	for _, sub := range b.subs {
		if sub.matches(kind) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
	b.mu.Unlock()
}

// Subscribe registers a subscription for the given kind prefixes with the
// given channel buffer size. An empty prefix list matches everything.
func (b *Bus) Subscribe(bufSize int, prefixes ...string) *Subscription {
	sub := &Subscription{
		bus:      b,
		prefixes: prefixes,
		ch:       make(chan Event, bufSize),
	}
	b.mu.Lock()
	sub.id = b.nextID
	b.nextID++
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// C returns the receive channel.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close removes the subscription from the bus. The channel is left open so
// concurrent receivers drain safely.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
}

func (s *Subscription) matches(kind string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}
