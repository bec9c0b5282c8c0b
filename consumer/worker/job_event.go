package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/infra/produce"
)

const JobEventKeyPrefix = "dispatch:job:"

// EventCache is where job events are mirrored for dashboards.
type EventCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
}

// JobEventConsumer keeps the latest event per job in Redis. Older
// revisions never overwrite newer ones.
type JobEventConsumer struct {
	channel *amqp.Channel
	cache   EventCache
	ttl     time.Duration
	logger  dispatch.Logger
}

func NewJobEventConsumer(channel *amqp.Channel, cache EventCache, ttl time.Duration, logger dispatch.Logger) *JobEventConsumer {
	return &JobEventConsumer{
		channel: channel,
		cache:   cache,
		ttl:     ttl,
		logger:  logger,
	}
}

func (c *JobEventConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		produce.JobEventQueue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register job event consumer: %w", err)
	}

	c.logger.InfoWithContextf(ctx, "[Job Event Consumer] Started listening for job events on queue: %s", produce.JobEventQueue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.InfoWithContextf(ctx, "[Job Event Consumer] Shutting down...")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.WarningWithContextf(ctx, "[Job Event Consumer] Channel closed")
					return
				}
				c.handleJobEvent(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *JobEventConsumer) handleJobEvent(ctx context.Context, msg amqp.Delivery) {
	var event produce.JobEventMessage
	if err := json.Unmarshal(msg.Body, &event); err != nil || event.JobID == "" {
		c.logger.ErrorWithContextf(ctx, err, "[Job Event Consumer] Failed to unmarshal message")
		_ = msg.Nack(false, false)
		return
	}

	if err := c.Mirror(ctx, event); err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[Job Event Consumer] Failed to mirror job %s", event.JobID)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// Mirror stores event unless a newer revision is already cached.
func (c *JobEventConsumer) Mirror(ctx context.Context, event produce.JobEventMessage) error {
	key := JobEventKeyPrefix + event.JobID

	var current produce.JobEventMessage
	if err := c.cache.Get(ctx, key, &current); err == nil && current.Revision >= event.Revision {
		c.logger.DebugWithContextf(ctx, "[Job Event Consumer] Skipping stale event for job %s (rev %d <= %d)", event.JobID, event.Revision, current.Revision)
		return nil
	}

	return c.cache.Set(ctx, key, event, c.ttl)
}
