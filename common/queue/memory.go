package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/minutes/common/logger"
)

// MemoryQueue is an in-process queue for local runs and tests. Messages left
// unacknowledged are re-enqueued after the visibility timeout.
type MemoryQueue struct {
	topics map[string]chan *Delivery
	poison map[string][]Delivery
	mu     sync.Mutex
	seq    int64
	opts   Options
	log    *logger.Logger
	closed bool
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(log *logger.Logger, opts Options) *MemoryQueue {
	return &MemoryQueue{
		topics: make(map[string]chan *Delivery),
		poison: make(map[string][]Delivery),
		opts:   opts.withDefaults(),
		log:    log,
	}
}

func (q *MemoryQueue) channel(topic string) chan *Delivery {
	ch, exists := q.topics[topic]
	if !exists {
		ch = make(chan *Delivery, 1000)
		q.topics[topic] = ch
	}
	return ch
}

// Publish publishes a message to a topic
func (q *MemoryQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	q.seq++
	d := &Delivery{ID: fmt.Sprintf("%d-0", q.seq), Topic: topic, Key: key, Value: message, Attempt: 1}

	select {
	case q.channel(topic) <- d:
		return nil
	default:
		return fmt.Errorf("queue full: %s", topic)
	}
}

// Subscribe consumes messages until ctx is cancelled
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	q.mu.Lock()
	ch := q.channel(topic)
	q.mu.Unlock()

	q.log.Info("subscribing to topic", "topic", topic)
	for {
		select {
		case <-ctx.Done():
			q.log.Info("subscription cancelled", "topic", topic)
			return nil
		case d, ok := <-ch:
			if !ok {
				return nil
			}
			q.handle(ctx, d, handler)
		}
	}
}

// ReceiveOne handles one message if one is immediately available
func (q *MemoryQueue) ReceiveOne(ctx context.Context, topic string, handler MessageHandler) (bool, error) {
	q.mu.Lock()
	ch := q.channel(topic)
	q.mu.Unlock()

	select {
	case d, ok := <-ch:
		if !ok {
			return false, nil
		}
		q.handle(ctx, d, handler)
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	default:
		return false, nil
	}
}

func (q *MemoryQueue) handle(ctx context.Context, d *Delivery, handler MessageHandler) {
	err := handler(ctx, *d)
	if q.opts.shouldAck(err) {
		if err != nil {
			q.log.Warn("message dropped after non-retryable error", "topic", d.Topic, "id", d.ID, "error", err)
		}
		return
	}

	if d.Attempt >= q.opts.MaxDeliveries {
		q.log.Warn("message moved to poison topic", "topic", d.Topic, "id", d.ID, "attempts", d.Attempt, "error", err)
		q.mu.Lock()
		q.poison[d.Topic] = append(q.poison[d.Topic], *d)
		q.mu.Unlock()
		return
	}

	q.log.Warn("message left for redelivery", "topic", d.Topic, "id", d.ID, "attempt", d.Attempt, "error", err)
	next := *d
	next.Attempt++
	time.AfterFunc(q.opts.VisibilityTimeout, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		select {
		case q.channel(next.Topic) <- &next:
		default:
			q.log.Warn("queue full, redelivery dropped", "topic", next.Topic, "id", next.ID)
		}
	})
}

// Poisoned returns messages that exceeded the delivery limit on topic.
func (q *MemoryQueue) Poisoned(topic string) []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Delivery(nil), q.poison[topic]...)
}

// Close closes the queue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for topic, ch := range q.topics {
		close(ch)
		q.log.Info("closed topic", "topic", topic)
	}
	return nil
}
