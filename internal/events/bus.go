package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mr1hm/disaster-response/internal/models"
)

// Publisher accepts domain events after the write that produced them has
// committed. Implementations must not block the caller for long; callers log
// and ignore errors.
type Publisher interface {
	Publish(ctx context.Context, e models.Event) error
}

// Bus fans events out to in-process subscribers. A subscriber whose buffer is
// full misses the event rather than stalling the publisher.
type Bus struct {
	subscribers map[uint64]chan models.Event
	nextID      atomic.Uint64
	bufferSize  int
	dropped     prometheus.Counter
	closed      bool
	mu          sync.RWMutex
}

func NewBus(bufferSize int, dropped prometheus.Counter) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[uint64]chan models.Event),
		bufferSize:  bufferSize,
		dropped:     dropped,
	}
}

func (b *Bus) Subscribe() (uint64, <-chan models.Event) {
	id := b.nextID.Add(1)
	ch := make(chan models.Event, b.bufferSize)

	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subscribers[id] = ch
	}
	b.mu.Unlock()

	return id, ch
}

func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(_ context.Context, e models.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			slog.Warn("event dropped for slow subscriber", "subscriber_id", id, "type", e.Type, "disaster_id", e.DisasterID)
			if b.dropped != nil {
				b.dropped.Inc()
			}
		}
	}
	return nil
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel so consumers drain and exit.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// MultiPublisher publishes to each publisher in order and returns the first error.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, e models.Event) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
