// Package mq defines the contract for the durable message channel
// between capture sources and the processing consumers.
//
// Delivery is at least once: a message stays pending until its consumer
// acks it, and an unacked or nacked message is redelivered. Consumers
// must tolerate duplicates.
package mq

import (
	"context"
	"errors"
)

// Sentinel errors shared by channel implementations.
var (
	// ErrChannelClosed is returned by operations on a closed channel.
	ErrChannelClosed = errors.New("message channel closed")

	// ErrPublishFailed is returned when a publish could not be completed
	// after the single reconnect retry.
	ErrPublishFailed = errors.New("publish failed")
)

// Delivery is one in-flight message handed to a consumer. The consumer
// must finish it with exactly one of Ack or Nack.
type Delivery struct {
	// ID identifies the delivery for acknowledgement.
	ID string

	// Body is the encoded message payload.
	Body []byte

	ack  func(ctx context.Context) error
	nack func(ctx context.Context, requeue bool) error
}

// NewDelivery builds a delivery bound to the given settlement callbacks.
// Implementations of Consumer use it; consumers of deliveries do not.
func NewDelivery(id string, body []byte, ack func(context.Context) error, nack func(context.Context, bool) error) Delivery {
	return Delivery{ID: id, Body: body, ack: ack, nack: nack}
}

// Ack marks the delivery as fully processed and removes it from the
// pending set.
func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Nack abandons the delivery. With requeue true it becomes eligible for
// redelivery; with requeue false it is discarded.
func (d Delivery) Nack(ctx context.Context, requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx, requeue)
}

// Publisher appends encoded messages to a named stream.
type Publisher interface {
	// Publish durably appends body to the stream. It survives one broker
	// reconnect; a second consecutive failure returns ErrPublishFailed.
	Publish(ctx context.Context, stream string, body []byte) error

	// Close releases the publisher's connection.
	Close() error
}

// Consumer reads deliveries from a named stream on behalf of a shared
// consumer group.
type Consumer interface {
	// Consume returns a channel of deliveries. At most the configured
	// prefetch count is outstanding unacked at a time. The channel closes
	// when ctx is cancelled or the consumer is closed.
	Consume(ctx context.Context, stream string) (<-chan Delivery, error)

	// Close stops all consume loops and releases the connection.
	Close() error
}
