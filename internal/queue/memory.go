package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is the in-process Broker used in standalone mode and tests.
type MemoryBroker struct {
	mu     sync.Mutex
	items  []Envelope
	notify chan struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{notify: make(chan struct{}, 1)}
}

func (b *MemoryBroker) Push(_ context.Context, env Envelope) error {
	b.mu.Lock()
	b.items = append(b.items, env)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

func (b *MemoryBroker) Pop(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if env, ok := b.take(); ok {
			return &env, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-b.notify:
		}
	}
}

// Len reports the number of envelopes waiting.
func (b *MemoryBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *MemoryBroker) take() (Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return Envelope{}, false
	}
	env := b.items[0]
	b.items = b.items[1:]
	if len(b.items) > 0 {
		// Wake another waiter for the remainder.
		select {
		case b.notify <- struct{}{}:
		default:
		}
	}
	return env, true
}

var _ Broker = (*MemoryBroker)(nil)
