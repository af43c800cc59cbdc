package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/jobforge/pkg/models"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher broadcasts job updates on a Redis channel so every API
// process can feed its own Hub through a Relay.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher on channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, job *models.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish job event: %w", err)
	}
	return nil
}

// Relay forwards job updates received on a Redis channel into a local Publisher.
type Relay struct {
	client  *redis.Client
	channel string
	target  Publisher
	logger  *slog.Logger
}

// NewRelay creates a relay from channel into target.
func NewRelay(client *redis.Client, channel string, target Publisher, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{client: client, channel: channel, target: target, logger: logger}
}

// Run subscribes and forwards messages until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("event relay subscribed", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(ctx, msg.Payload)
		}
	}
}

func (r *Relay) forward(ctx context.Context, payload string) {
	var job models.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		r.logger.Warn("discarding malformed job event", "err", err)
		return
	}
	if err := r.target.Publish(ctx, &job); err != nil {
		r.logger.Warn("relay publish failed", "err", err, "job_id", job.ID)
	}
}

var _ Publisher = (*RedisPublisher)(nil)
