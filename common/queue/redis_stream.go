package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/lyzr/minutes/common/logger"
)

const (
	fieldKey     = "key"
	fieldPayload = "payload"
	readBlock    = 5 * time.Second
	reclaimBatch = 10
)

// streamClient is the subset of the Redis wrapper the stream queue needs.
type streamClient interface {
	AddToStream(ctx context.Context, stream string, values map[string]interface{}, maxLen int64) (string, error)
	CreateStreamGroup(ctx context.Context, stream, group string) error
	ReadFromStreamGroup(ctx context.Context, group, consumer, stream string, count int64, block time.Duration) ([]goredis.XStream, error)
	AckStreamMessage(ctx context.Context, stream, group, messageID string) error
	PendingIdle(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]goredis.XPendingExt, error)
	ClaimStreamMessages(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]goredis.XMessage, error)
}

// RedisStreamQueue delivers messages through a Redis stream consumer group.
// Unacknowledged messages stay pending and are reclaimed by a scheduled sweep
// once they have been idle for the visibility timeout.
type RedisStreamQueue struct {
	client          streamClient
	group           string
	consumer        string
	maxLen          int64
	reclaimSchedule string
	opts            Options
	log             *logger.Logger
}

// NewRedisStreamQueue creates a stream-backed queue.
func NewRedisStreamQueue(client streamClient, group string, maxLen int64, reclaimSchedule string, opts Options, log *logger.Logger) *RedisStreamQueue {
	if reclaimSchedule == "" {
		reclaimSchedule = "@every 1m"
	}
	return &RedisStreamQueue{
		client:          client,
		group:           group,
		consumer:        fmt.Sprintf("%s_%s", group, uuid.New().String()[:8]),
		maxLen:          maxLen,
		reclaimSchedule: reclaimSchedule,
		opts:            opts.withDefaults(),
		log:             log,
	}
}

// Publish appends a message to the topic stream
func (q *RedisStreamQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	_, err := q.client.AddToStream(ctx, topic, map[string]interface{}{
		fieldKey:     key,
		fieldPayload: string(message),
	}, q.maxLen)
	return err
}

// Subscribe consumes the stream until ctx is cancelled
func (q *RedisStreamQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if err := q.client.CreateStreamGroup(ctx, topic, q.group); err != nil {
		return err
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(q.reclaimSchedule, func() {
		if _, err := q.Reclaim(ctx, topic, handler); err != nil {
			q.log.Warn("reclaim sweep failed", "topic", topic, "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid reclaim schedule %q: %w", q.reclaimSchedule, err)
	}
	sweeper.Start()
	defer func() { <-sweeper.Stop().Done() }()

	q.log.Info("consumer started", "topic", topic, "group", q.group, "consumer", q.consumer)

	for {
		select {
		case <-ctx.Done():
			q.log.Info("consumer stopped", "topic", topic)
			return nil
		default:
		}

		if _, err := q.readNew(ctx, topic, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.log.Warn("stream read failed", "topic", topic, "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// ReceiveOne prefers an expired pending message, then waits briefly for a new one.
func (q *RedisStreamQueue) ReceiveOne(ctx context.Context, topic string, handler MessageHandler) (bool, error) {
	if err := q.client.CreateStreamGroup(ctx, topic, q.group); err != nil {
		return false, err
	}

	pending, err := q.client.PendingIdle(ctx, topic, q.group, q.opts.VisibilityTimeout, 1)
	if err != nil {
		return false, err
	}
	if len(pending) > 0 {
		n, err := q.reclaimEntries(ctx, topic, pending, handler)
		return n > 0, err
	}

	n, err := q.readNew(ctx, topic, handler)
	return n > 0, err
}

func (q *RedisStreamQueue) readNew(ctx context.Context, topic string, handler MessageHandler) (int, error) {
	streams, err := q.client.ReadFromStreamGroup(ctx, q.group, q.consumer, topic, 1, readBlock)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			q.process(ctx, topic, msg, 1, handler)
			handled++
		}
	}
	return handled, nil
}

// Reclaim claims messages idle for longer than the visibility timeout and
// either redelivers them or moves them to the poison topic.
func (q *RedisStreamQueue) Reclaim(ctx context.Context, topic string, handler MessageHandler) (int, error) {
	pending, err := q.client.PendingIdle(ctx, topic, q.group, q.opts.VisibilityTimeout, reclaimBatch)
	if err != nil {
		return 0, err
	}
	return q.reclaimEntries(ctx, topic, pending, handler)
}

func (q *RedisStreamQueue) reclaimEntries(ctx context.Context, topic string, pending []goredis.XPendingExt, handler MessageHandler) (int, error) {
	if len(pending) == 0 {
		return 0, nil
	}
	deliveries := make(map[string]int64, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		deliveries[p.ID] = p.RetryCount
		ids = append(ids, p.ID)
	}

	msgs, err := q.client.ClaimStreamMessages(ctx, topic, q.group, q.consumer, q.opts.VisibilityTimeout, ids...)
	if err != nil {
		return 0, err
	}

	for _, msg := range msgs {
		delivered := deliveries[msg.ID]
		if delivered >= q.opts.MaxDeliveries {
			q.poison(ctx, topic, msg, delivered)
			continue
		}
		q.process(ctx, topic, msg, delivered+1, handler)
	}
	return len(msgs), nil
}

func (q *RedisStreamQueue) process(ctx context.Context, topic string, msg goredis.XMessage, attempt int64, handler MessageHandler) {
	d := toDelivery(topic, msg, attempt)
	err := handler(ctx, d)
	if !q.opts.shouldAck(err) {
		q.log.Warn("message left pending for redelivery", "topic", topic, "id", msg.ID, "attempt", attempt, "error", err)
		return
	}
	if err != nil {
		q.log.Warn("message acknowledged after non-retryable error", "topic", topic, "id", msg.ID, "error", err)
	}
	if ackErr := q.client.AckStreamMessage(ctx, topic, q.group, msg.ID); ackErr != nil {
		q.log.Error("failed to ack message", "topic", topic, "id", msg.ID, "error", ackErr)
	}
}

func (q *RedisStreamQueue) poison(ctx context.Context, topic string, msg goredis.XMessage, delivered int64) {
	values := map[string]interface{}{
		"source_id":  msg.ID,
		"deliveries": delivered,
	}
	for k, v := range msg.Values {
		values[k] = v
	}
	if _, err := q.client.AddToStream(ctx, PoisonTopic(topic), values, q.maxLen); err != nil {
		q.log.Error("failed to move message to poison stream", "topic", topic, "id", msg.ID, "error", err)
		return
	}
	q.log.Warn("message moved to poison stream", "topic", topic, "id", msg.ID, "deliveries", delivered)
	if err := q.client.AckStreamMessage(ctx, topic, q.group, msg.ID); err != nil {
		q.log.Error("failed to ack poisoned message", "topic", topic, "id", msg.ID, "error", err)
	}
}

func toDelivery(topic string, msg goredis.XMessage, attempt int64) Delivery {
	d := Delivery{ID: msg.ID, Topic: topic, Attempt: attempt}
	if v, ok := msg.Values[fieldKey].(string); ok {
		d.Key = v
	}
	if v, ok := msg.Values[fieldPayload].(string); ok {
		d.Value = []byte(v)
	}
	return d
}

// Close is a no-op; the Redis client is owned by the caller.
func (q *RedisStreamQueue) Close() error { return nil }
