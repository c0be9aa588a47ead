package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/agentflow/common/engine"
	"github.com/lyzr/agentflow/common/logger"
)

const resubscribeDelay = time.Second

// RedisSubscriber bridges the reporter's pub/sub events into the hub.
// One pattern subscription covers every execution.
type RedisSubscriber struct {
	redis *redis.Client
	hub   *Hub
	log   *logger.Logger
}

// NewRedisSubscriber creates a subscriber feeding the given hub
func NewRedisSubscriber(redisClient *redis.Client, hub *Hub, log *logger.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		redis: redisClient,
		hub:   hub,
		log:   log,
	}
}

// Run consumes events until ctx is done, resubscribing after failures
func (s *RedisSubscriber) Run(ctx context.Context) {
	for {
		if err := s.consume(ctx); err != nil {
			s.log.Warn("event subscription dropped, retrying", "error", err)
		}

		select {
		case <-ctx.Done():
			s.log.Info("redis subscriber stopping")
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (s *RedisSubscriber) consume(ctx context.Context) error {
	pubsub := s.redis.PSubscribe(ctx, engine.EventChannelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}
	s.log.Info("listening for execution events", "pattern", engine.EventChannelPattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("pubsub channel closed")
			}

			executionID := engine.ExecutionIDFromChannel(msg.Channel)
			if executionID == "" {
				s.log.Debug("ignoring message on unexpected channel", "channel", msg.Channel)
				continue
			}

			s.hub.Broadcast(executionID, []byte(msg.Payload))
		}
	}
}
