// Package eventbus fans progress, log, and discovery events out to
// subscribers such as the (out-of-scope) terminal dashboard. A slow
// subscriber never stalls the protocol engine: each subscriber has a
// bounded queue and the oldest queued event is dropped on overflow, with a
// per-subscriber dropped-count counter.
package eventbus

import "sync"

// Event is any message published to the bus.
type Event interface{ Kind() string }

// Subscriber receives events non-blockingly through a bounded, private
// queue drained by its own goroutine.
type Subscriber struct {
	name    string
	ch      chan Event
	mu      sync.Mutex
	dropped uint64
}

// Dropped reports how many events were discarded because this subscriber
// fell behind.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Events returns the channel to range over for delivered events. The bus
// closes it when Unsubscribe or Stop is called.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Bus is a fan-out publisher. The zero value is not usable; construct with
// New.
type Bus struct {
	mu       sync.Mutex
	subs     map[*Subscriber]struct{}
	queueCap int
}

// New creates a Bus whose subscribers each get a queue of capacity
// queueCap (minimum 1).
func New(queueCap int) *Bus {
	if queueCap < 1 {
		queueCap = 1
	}
	return &Bus{subs: make(map[*Subscriber]struct{}), queueCap: queueCap}
}

// Subscribe registers a new subscriber under name (used only for
// diagnostics) and returns its handle.
func (b *Bus) Subscribe(name string) *Subscriber {
	s := &Subscriber{name: name, ch: make(chan Event, b.queueCap)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel. Idempotent.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
	b.mu.Unlock()
}

// Publish fans ev out to every current subscriber. Delivery never blocks:
// a subscriber whose queue is full has its oldest queued event evicted to
// make room, and its dropped counter incremented.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	targets := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		deliver(s, ev)
	}
}

func deliver(s *Subscriber, ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	// Queue full: drop the oldest, then this one.
	select {
	case <-s.ch:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	default:
	}
	select {
	case s.ch <- ev:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Stop unsubscribes and closes every subscriber's channel. Idempotent per
// subscriber.
func (b *Bus) Stop() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscriber]struct{})
	b.mu.Unlock()
	for s := range subs {
		close(s.ch)
	}
}
