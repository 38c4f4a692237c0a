package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/kiranshivaraju/sermonscribe/pkg/models"
	"github.com/redis/go-redis/v9"
)

// RedisRelay carries events between processes over a Redis pub/sub channel.
// Workers publish into it; the server forwards what it receives into its
// local Manager.
type RedisRelay struct {
	client  *redis.Client
	channel string
	out     chan models.Event
	dropped atomic.Uint64
}

func NewRedisRelay(client *redis.Client, channel string, buffer int) *RedisRelay {
	if buffer <= 0 {
		buffer = 256
	}
	return &RedisRelay{client: client, channel: channel, out: make(chan models.Event, buffer)}
}

// Publish queues ev for Run. When the queue is full the event is dropped.
func (r *RedisRelay) Publish(ev models.Event) {
	select {
	case r.out <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports events discarded because the outbound queue was full.
func (r *RedisRelay) Dropped() uint64 { return r.dropped.Load() }

// Run drains queued events to Redis until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.out:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("marshal event", "error", err)
				continue
			}
			if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil && ctx.Err() == nil {
				slog.Warn("relay publish failed", "error", err, "content_id", ev.ContentID)
			}
		}
	}
}

// Forward subscribes to the channel and republishes every event into local
// until ctx is cancelled.
func (r *RedisRelay) Forward(ctx context.Context, local Publisher) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("dropping undecodable relay event", "error", err)
				continue
			}
			local.Publish(ev)
		}
	}
}

var _ Publisher = (*RedisRelay)(nil)
