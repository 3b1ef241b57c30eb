package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

var (
	ErrQueueFull   = errors.New("notification queue is full")
	ErrQueueClosed = port.ErrSourceClosed
)

// MemoryQueue is a bounded in-process notification queue. Dispatch never
// blocks the caller.
type MemoryQueue struct {
	mu     sync.RWMutex
	events chan domain.OrderConfirmedEvent
	closed bool
}

var (
	_ port.NotificationDispatcher = (*MemoryQueue)(nil)
	_ port.NotificationSource     = (*MemoryQueue)(nil)
)

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{events: make(chan domain.OrderConfirmedEvent, size)}
}

func (q *MemoryQueue) Dispatch(ctx context.Context, event domain.OrderConfirmedEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Receive(ctx context.Context) (domain.OrderConfirmedEvent, error) {
	select {
	case event, ok := <-q.events:
		if !ok {
			return domain.OrderConfirmedEvent{}, ErrQueueClosed
		}
		return event, nil
	case <-ctx.Done():
		return domain.OrderConfirmedEvent{}, ctx.Err()
	}
}

// Len reports the number of buffered events.
func (q *MemoryQueue) Len() int {
	return len(q.events)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.events)
	}
	return nil
}
