// Package broadcast fans pipeline events out to live subscribers. Delivery is
// best-effort: a slow subscriber loses its oldest events, never blocks the
// publisher, and never affects other subscribers.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// Publisher accepts events for delivery. Publish must not block.
type Publisher interface {
	Publish(ev models.Event)
}

// Subscription is one subscriber's bounded event buffer.
type Subscription struct {
	id      uint64
	mu      sync.Mutex
	ch      chan models.Event
	closed  bool
	dropped atomic.Uint64
}

// Events is closed when the subscription is removed.
func (s *Subscription) Events() <-chan models.Event { return s.ch }

// Dropped reports how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// deliver enqueues ev, evicting the oldest buffered event when full.
func (s *Subscription) deliver(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- ev:
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- ev:
	default:
		// Only deliver fills the channel and mu is held, so this is unreachable
		// with a non-zero buffer.
		s.dropped.Add(1)
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Manager holds the live subscriber set.
type Manager struct {
	mu        sync.RWMutex
	subs      map[uint64]*Subscription
	nextID    uint64
	buffer    int
	heartbeat time.Duration
}

// NewManager creates a Manager whose subscriptions buffer up to buffer events.
func NewManager(buffer int, heartbeat time.Duration) *Manager {
	if buffer <= 0 {
		buffer = 1
	}
	return &Manager{
		subs:      make(map[uint64]*Subscription),
		buffer:    buffer,
		heartbeat: heartbeat,
	}
}

// Subscribe registers a new subscriber. It sees only events published after
// this call returns.
func (m *Manager) Subscribe() *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	sub := &Subscription{id: m.nextID, ch: make(chan models.Event, m.buffer)}
	m.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. Unknown or already removed
// subscriptions are ignored.
func (m *Manager) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	m.mu.Lock()
	delete(m.subs, sub.id)
	m.mu.Unlock()
	sub.close()
}

// Publish delivers ev to every current subscriber without blocking.
func (m *Manager) Publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs {
		sub.deliver(ev)
	}
}

// Len reports the number of live subscribers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Run publishes a heartbeat every interval until ctx is cancelled, then
// closes every remaining subscription.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return nil
		case now := <-ticker.C:
			m.Publish(models.HeartbeatEvent(now))
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[uint64]*Subscription)
	m.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

var _ Publisher = (*Manager)(nil)
