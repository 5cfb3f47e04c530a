// Package notify is the in-process pub/sub bus carrying image updates from
// the job runner to connected sessions.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cuongbtq/imagepipe/internal/domain"
)

// DefaultBufferSize is the per-subscriber queue length used when none is configured
const DefaultBufferSize = 64

// Subscription is one subscriber's view of the bus
type Subscription struct {
	id     uint64
	ch     chan domain.Event
	closed atomic.Bool
}

// C returns the channel events are delivered on. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan domain.Event {
	return s.ch
}

// ID returns the subscription's identifier, unique within its bus
func (s *Subscription) ID() uint64 {
	return s.id
}

// Bus fans out events to every current subscriber
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscription
	nextID      uint64
	bufferSize  int
	logger      *slog.Logger
}

// NewBus creates a bus whose subscribers buffer up to bufferSize events
func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[uint64]*Subscription),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber. Only events published after this
// call are delivered to it.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id: b.nextID,
		ch: make(chan domain.Event, b.bufferSize),
	}
	b.subscribers[sub.id] = sub

	b.logger.Debug("Subscriber registered",
		slog.Uint64("subscription_id", sub.id),
		slog.Int("subscribers", len(b.subscribers)),
	)
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.remove(sub)
}

// remove must be called with the write lock held
func (b *Bus) remove(sub *Subscription) {
	if !sub.closed.CompareAndSwap(false, true) {
		return
	}
	delete(b.subscribers, sub.id)
	close(sub.ch)

	b.logger.Debug("Subscriber removed",
		slog.Uint64("subscription_id", sub.id),
		slog.Int("subscribers", len(b.subscribers)),
	)
}

// Publish delivers evt to every current subscriber without blocking. A
// subscriber whose buffer is full misses this event; others are unaffected.
// It returns the number of subscribers that received the event.
func (b *Bus) Publish(evt domain.Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id, sub := range b.subscribers {
		select {
		case sub.ch <- evt:
			delivered++
		default:
			b.logger.Warn("Subscriber buffer full, dropping event",
				slog.Uint64("subscription_id", id),
				slog.String("message", evt.Message),
			)
		}
	}
	return delivered
}

// Len returns the number of current subscribers
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers)
}

// Close unsubscribes everyone
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		b.remove(sub)
	}
}
