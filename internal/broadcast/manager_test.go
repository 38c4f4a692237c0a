package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stageEvent(progress int) models.Event {
	return models.StageEvent(uuid.Nil, uuid.Nil, models.ContentTranscribed, progress, "")
}

func drain(sub *Subscription) []models.Event {
	var out []models.Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublish_DeliversToAllSubscribers(t *testing.T) {
	m := NewManager(8, time.Hour)
	a, b := m.Subscribe(), m.Subscribe()

	m.Publish(stageEvent(10))

	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
}

func TestSubscribe_SeesOnlyLaterEvents(t *testing.T) {
	m := NewManager(8, time.Hour)
	m.Publish(stageEvent(10))
	sub := m.Subscribe()
	m.Publish(stageEvent(20))

	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, 20, got[0].Progress)
}

func TestPublish_DropsOldestWhenFull(t *testing.T) {
	m := NewManager(3, time.Hour)
	sub := m.Subscribe()

	for p := 1; p <= 5; p++ {
		m.Publish(stageEvent(p))
	}

	got := drain(sub)
	require.Len(t, got, 3)
	assert.Equal(t, []int{3, 4, 5}, []int{got[0].Progress, got[1].Progress, got[2].Progress})
	assert.Equal(t, uint64(2), sub.Dropped())
}

func TestPublish_SlowSubscriberDoesNotAffectOthers(t *testing.T) {
	m := NewManager(4, time.Hour)
	slow := m.Subscribe()
	fast := m.Subscribe()

	var (
		wg       sync.WaitGroup
		received []int
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range fast.Events() {
			received = append(received, ev.Progress)
			if ev.Progress == 100 {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		for p := 1; p <= 100; p++ {
			m.Publish(stageEvent(p))
			time.Sleep(100 * time.Microsecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	wg.Wait()

	assert.Equal(t, 100, received[len(received)-1])
	assert.Len(t, drain(slow), 4)
	assert.Equal(t, uint64(96), slow.Dropped())
}

func TestUnsubscribe(t *testing.T) {
	m := NewManager(4, time.Hour)
	sub := m.Subscribe()
	require.Equal(t, 1, m.Len())

	m.Unsubscribe(sub)
	assert.Equal(t, 0, m.Len())

	_, open := <-sub.Events()
	assert.False(t, open)

	// Publishing afterwards and unsubscribing twice are both harmless.
	m.Publish(stageEvent(10))
	m.Unsubscribe(sub)
	m.Unsubscribe(nil)
}

func TestRun_EmitsHeartbeats(t *testing.T) {
	m := NewManager(8, 10*time.Millisecond)
	sub := m.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case ev := <-sub.Events():
		assert.Equal(t, models.EventKindHeartbeat, ev.Kind)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no heartbeat")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, m.Len())
}

func TestPublish_ConcurrentWithSubscribe(t *testing.T) {
	m := NewManager(2, time.Hour)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for p := range 50 {
				m.Publish(stageEvent(p))
			}
		}()
		go func() {
			defer wg.Done()
			sub := m.Subscribe()
			drain(sub)
			m.Unsubscribe(sub)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}
