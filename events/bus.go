// Package events delivers settled-payment records to subscribers.
package events

import (
	"sync"

	"github.com/vitwit/depay/logger"
	"github.com/vitwit/depay/metrics"
	"github.com/vitwit/depay/types"
)

// DefaultBuffer is the subscription queue size used when none is given.
const DefaultBuffer = 64

// Bus fans PaymentEvents out to subscribers. Publishing never blocks: a
// subscriber whose queue is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	logger  logger.Logger
	metrics metrics.Recorder
}

func NewBus(l logger.Logger, m metrics.Recorder) *Bus {
	if l == nil {
		l = logger.NoopLogger{}
	}
	if m == nil {
		m = metrics.NoopRecorder{}
	}
	return &Bus{
		subs:    make(map[uint64]*Subscription),
		logger:  l,
		metrics: m,
	}
}

// Subscription is a bounded queue of events owned by one consumer.
type Subscription struct {
	id   uint64
	bus  *Bus
	ch   chan types.PaymentEvent
	once sync.Once
}

// Subscribe registers a new subscriber with a queue of buffer events.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:  b.nextID,
		bus: b,
		ch:  make(chan types.PaymentEvent, buffer),
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// C returns the event channel. It is closed on Unsubscribe or bus Close.
func (s *Subscription) C() <-chan types.PaymentEvent {
	return s.ch
}

// Unsubscribe stops delivery and closes the channel. Safe to call twice.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		delete(s.bus.subs, s.id)
		close(s.ch)
	})
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev types.PaymentEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.metrics.IncCounter(metrics.EventsDropped, map[string]string{"reason": "queue_full"})
			b.logger.Warn("subscriber queue full, dropping payment event", map[string]any{
				"subscription": id,
				"hash":         ev.Hash.Hex(),
			})
		}
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone. Later subscriptions receive a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, sub := range b.subs {
		sub.closeLocked()
	}
}
