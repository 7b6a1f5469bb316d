package mq

import "time"

// Option configures the redis-backed channel.
type Option func(*Redis)

// WithGroup sets the consumer group name shared by all workers.
func WithGroup(group string) Option {
	return func(r *Redis) {
		if group != "" {
			r.group = group
		}
	}
}

// WithConsumerName sets this process's name within the group.
func WithConsumerName(name string) Option {
	return func(r *Redis) {
		if name != "" {
			r.consumer = name
		}
	}
}

// WithPrefetch caps the number of unacked deliveries outstanding per
// consume loop.
func WithPrefetch(n int) Option {
	return func(r *Redis) {
		if n > 0 {
			r.prefetch = int64(n)
		}
	}
}

// WithRedeliverAfter sets how long a delivery may stay pending before it
// is claimed back and redelivered to a live consumer.
func WithRedeliverAfter(d time.Duration) Option {
	return func(r *Redis) {
		if d > 0 {
			r.redeliverAfter = d
		}
	}
}
