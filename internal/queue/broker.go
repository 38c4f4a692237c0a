// Package queue hands jobs from producers to pipeline runners. Job rows in the
// store are authoritative; the broker only carries envelopes pointing at them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Envelope is what travels through the broker.
type Envelope struct {
	JobID      uuid.UUID      `json:"job_id"`
	Type       models.JobType `json:"type"`
	ContentID  uuid.UUID      `json:"content_id"`
	SourceURL  string         `json:"source_url"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// EnvelopeFor builds the envelope for a persisted job.
func EnvelopeFor(job *models.Job) Envelope {
	return Envelope{
		JobID:      job.ID,
		Type:       job.Type,
		ContentID:  job.ContentID,
		SourceURL:  job.SourceURL,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Broker is a FIFO of envelopes shared by every producer and runner.
// Each pushed envelope is returned by at most one Pop call.
type Broker interface {
	Push(ctx context.Context, env Envelope) error
	// Pop blocks for up to timeout. It returns (nil, nil) when nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) (*Envelope, error)
}

// RedisBroker keeps envelopes in a Redis list: LPUSH on one end, BRPOP on the other.
type RedisBroker struct {
	client *redis.Client
	key    string
}

func NewRedisBroker(client *redis.Client, key string) *RedisBroker {
	return &RedisBroker{client: client, key: key}
}

func (b *RedisBroker) Push(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.LPush(ctx, b.key, data).Err(); err != nil {
		return fmt.Errorf("push envelope: %w", err)
	}
	return nil
}

func (b *RedisBroker) Pop(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	res, err := b.client.BRPop(ctx, timeout, b.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop envelope: %w", err)
	}
	// res is [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("pop envelope: unexpected reply length %d", len(res))
	}
	var env Envelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return &env, nil
}

// Len reports the number of envelopes waiting.
func (b *RedisBroker) Len(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, b.key).Result()
}

var _ Broker = (*RedisBroker)(nil)
