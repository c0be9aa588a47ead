package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/lyzr/agentflow/common/logger"
)

// Queue moves execution tasks between the dispatcher and the runners.
// Redis Streams back it in production; an in-process implementation
// covers tests and development without Redis.
type Queue interface {
	Publish(ctx context.Context, topic string, key string, message []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler processes one message. A non-nil error leaves the
// message eligible for redelivery where the backend supports it.
type MessageHandler func(ctx context.Context, key string, value []byte) error

const memoryQueueDepth = 1024

// MemoryQueue is the in-process fallback. Messages sit in a buffered
// channel per topic, competing subscribers drain it, and nothing
// survives a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	topics map[string]chan envelope
	closed bool
	log    *logger.Logger
}

type envelope struct {
	key   string
	value []byte
}

// NewMemoryQueue creates an empty in-process queue
func NewMemoryQueue(log *logger.Logger) *MemoryQueue {
	return &MemoryQueue{
		topics: make(map[string]chan envelope),
		log:    log,
	}
}

func (q *MemoryQueue) topic(name string) (chan envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, fmt.Errorf("queue closed")
	}
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan envelope, memoryQueueDepth)
		q.topics[name] = ch
	}
	return ch, nil
}

// Publish enqueues a message. A full buffer is an error rather than
// silent loss; there is no durable stream behind this queue to recover
// from.
func (q *MemoryQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	ch, err := q.topic(topic)
	if err != nil {
		return err
	}

	select {
	case ch <- envelope{key: key, value: message}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("memory queue full for topic %s", topic)
	}
}

// Subscribe starts a goroutine draining the topic until ctx is done.
// Multiple subscribers on one topic compete for messages, mirroring
// how a consumer group shares a stream.
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	ch, err := q.topic(topic)
	if err != nil {
		return err
	}

	q.log.Info("subscribing to topic", "topic", topic)

	go func() {
		for {
			select {
			case <-ctx.Done():
				q.log.Info("subscription cancelled", "topic", topic)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg.key, msg.value); err != nil {
					q.log.Error("message handler error", "topic", topic, "key", msg.key, "error", err)
				}
			}
		}
	}()

	return nil
}

// Close rejects further publishes and releases the topics. Subscribers
// drain what is already buffered and stop.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	for name, ch := range q.topics {
		close(ch)
		q.log.Debug("closed topic", "topic", name)
	}
	return nil
}
