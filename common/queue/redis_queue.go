package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/agentflow/common/logger"
	redisWrapper "github.com/lyzr/agentflow/common/redis"
)

// RedisStreamQueue is a Redis Streams implementation of Queue using
// consumer groups. A message the handler fails on is left pending and
// re-read on the consumer's next start.
type RedisStreamQueue struct {
	redis    *redisWrapper.Client
	group    string
	consumer string
	log      *logger.Logger
}

// NewRedisStreamQueue creates a stream-backed queue for one consumer
func NewRedisStreamQueue(redis *redisWrapper.Client, group, consumer string, log *logger.Logger) *RedisStreamQueue {
	return &RedisStreamQueue{
		redis:    redis,
		group:    group,
		consumer: consumer,
		log:      log,
	}
}

// Publish adds a message to the topic's stream
func (q *RedisStreamQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	_, err := q.redis.AddToStream(ctx, topic, map[string]interface{}{
		"key":   key,
		"value": string(message),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins the consumer group for the topic and processes messages
// until the context is cancelled. Messages are acked only after the
// handler succeeds.
func (q *RedisStreamQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if err := q.redis.CreateStreamGroup(ctx, topic, q.group); err != nil {
		return fmt.Errorf("create group for %s: %w", topic, err)
	}

	q.log.Info("subscribing to stream", "topic", topic, "group", q.group, "consumer", q.consumer)

	go func() {
		// First drain anything this consumer left unacked.
		q.drainPending(ctx, topic, handler)

		for {
			select {
			case <-ctx.Done():
				q.log.Info("subscription cancelled", "topic", topic)
				return
			default:
			}

			streams, err := q.redis.ReadFromStreamGroup(ctx, q.group, q.consumer, topic, 10, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				q.log.Error("stream read failed", "topic", topic, "error", err)
				time.Sleep(time.Second)
				continue
			}
			q.dispatch(ctx, topic, streams, handler)
		}
	}()

	return nil
}

func (q *RedisStreamQueue) drainPending(ctx context.Context, topic string, handler MessageHandler) {
	for {
		streams, err := q.redis.ReadPendingFromStreamGroup(ctx, q.group, q.consumer, topic, 10)
		if err != nil {
			return
		}
		total := 0
		for _, s := range streams {
			total += len(s.Messages)
		}
		if total == 0 {
			return
		}
		q.log.Info("recovering pending messages", "topic", topic, "count", total)
		q.dispatch(ctx, topic, streams, handler)
	}
}

func (q *RedisStreamQueue) dispatch(ctx context.Context, topic string, streams []redis.XStream, handler MessageHandler) {
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			key, _ := msg.Values["key"].(string)
			value, _ := msg.Values["value"].(string)

			if err := handler(ctx, key, []byte(value)); err != nil {
				// Leave unacked for the recovery pass.
				q.log.Error("message handler error", "topic", topic, "key", key, "message_id", msg.ID, "error", err)
				continue
			}

			if err := q.redis.AckStreamMessage(ctx, topic, q.group, msg.ID); err != nil {
				q.log.Error("message ack failed", "topic", topic, "message_id", msg.ID, "error", err)
			}
		}
	}
}

// Close closes the queue (the underlying client is owned by bootstrap)
func (q *RedisStreamQueue) Close() error {
	return nil
}
