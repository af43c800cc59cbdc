package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/pkg/models"
	"github.com/redis/go-redis/v9"
)

// RedisTrigger publishes a Command on a Redis channel. A publish that reaches
// no subscriber counts as unavailable.
type RedisTrigger struct {
	client  *redis.Client
	channel string
}

func NewRedisTrigger(client *redis.Client, channel string) *RedisTrigger {
	return &RedisTrigger{client: client, channel: channel}
}

func (t *RedisTrigger) Name() string { return "redis:" + t.channel }

func (t *RedisTrigger) Signal(ctx context.Context, job *models.Job) error {
	payload, err := json.Marshal(newCommand(job))
	if err != nil {
		return fmt.Errorf("encoding dispatch command: %w", err)
	}
	receivers, err := t.client.Publish(ctx, t.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchUnavailable, err)
	}
	if receivers == 0 {
		return fmt.Errorf("%w: no processor subscribed to %s", ErrDispatchUnavailable, t.channel)
	}
	return nil
}

// Consumer receives Commands from a Redis channel and forwards them to a
// local Trigger, typically a processor.Runner.
type Consumer struct {
	client  *redis.Client
	channel string
	target  Trigger
	logger  *slog.Logger
}

func NewConsumer(client *redis.Client, channel string, target Trigger, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, channel: channel, target: target, logger: logger}
}

// Run subscribes and forwards commands until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	pubsub := c.client.Subscribe(ctx, c.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.channel, err)
	}
	c.logger.Info("dispatch consumer subscribed", "channel", c.channel, "target", c.target.Name())

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.handle(ctx, msg.Payload)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, payload string) {
	var cmd Command
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		c.logger.Warn("discarding malformed dispatch command", "err", err)
		return
	}
	jobID, err := uuid.Parse(cmd.JobID)
	if err != nil {
		c.logger.Warn("discarding dispatch command with bad job_id", "job_id", cmd.JobID)
		return
	}
	userID, _ := uuid.Parse(cmd.UserID)

	job := &models.Job{ID: jobID, UserID: userID, JobType: cmd.JobType, Priority: cmd.Priority}
	if err := c.target.Signal(ctx, job); err != nil {
		c.logger.Warn("local dispatch failed", "err", err, "job_id", jobID)
	}
}

var _ Trigger = (*RedisTrigger)(nil)
