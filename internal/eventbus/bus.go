// Package eventbus fans state-change notifications out to live stream
// subscribers. Delivery is at-most-once and best-effort: there is no replay
// buffer, and a subscriber that connects after an event misses it.
package eventbus

import (
	"log"
	"sync"
)

// Event is a named frame carrying the full updated entity.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

type Subscriber struct {
	ch   chan Event
	bus  *Bus
	once sync.Once
}

// Events is the subscriber's receive side. The channel is closed when the
// subscriber is removed from the bus.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Close unsubscribes and closes the event channel. Safe to call twice;
// the transport layer calls it when the client stream dies.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	buffer int
	logger *log.Logger
}

func New(buffer int, logger *log.Logger) *Bus {
	if buffer < 1 {
		buffer = 64
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		subs:   make(map[*Subscriber]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

func (b *Bus) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan Event, b.buffer), bus: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Bus) remove(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

// Publish pushes an event to every open subscriber. The send never blocks
// the mutating request: a full subscriber buffer drops its oldest pending
// event to make room, so a slow client loses frames instead of stalling
// everyone else.
func (b *Bus) Publish(name string, payload any) {
	ev := Event{Name: name, Payload: payload}
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
			continue
		default:
		}
		select {
		case <-s.ch:
			b.logger.Printf("eventbus: slow subscriber, dropped oldest %s frame", name)
		default:
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// Subscribers reports the number of open streams.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
