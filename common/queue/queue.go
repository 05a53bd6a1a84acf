package queue

import (
	"context"
	"time"
)

// Queue interface for message passing
type Queue interface {
	Publish(ctx context.Context, topic string, key string, message []byte) error
	// Subscribe consumes topic until ctx is cancelled.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	// ReceiveOne handles at most one message and reports whether one was handled.
	ReceiveOne(ctx context.Context, topic string, handler MessageHandler) (bool, error)
	Close() error
}

// Delivery is one delivery attempt of a message.
type Delivery struct {
	ID      string
	Topic   string
	Key     string
	Value   []byte
	Attempt int64
}

// MessageHandler processes messages
type MessageHandler func(ctx context.Context, d Delivery) error

// AckPolicy decides whether a message that failed with err is acknowledged
// (removed) or left for redelivery after the visibility timeout.
type AckPolicy func(err error) bool

// AlwaysAck acknowledges every message regardless of outcome.
func AlwaysAck(error) bool { return true }

// Options tune delivery semantics.
type Options struct {
	AckPolicy         AckPolicy
	VisibilityTimeout time.Duration
	MaxDeliveries     int64
}

func (o Options) withDefaults() Options {
	if o.AckPolicy == nil {
		o.AckPolicy = AlwaysAck
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 10 * time.Minute
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = 5
	}
	return o
}

// shouldAck reports whether a handled delivery is done.
func (o Options) shouldAck(err error) bool {
	return err == nil || o.AckPolicy(err)
}

// PoisonTopic is where messages go once they exceed the delivery limit.
func PoisonTopic(topic string) string {
	return topic + ".poison"
}
