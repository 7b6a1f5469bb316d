package mq

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/okian/sightline/pkg/logger"
	"github.com/okian/sightline/pkg/metrics"
)

const (
	defaultGroup          = "sightline"
	defaultPrefetch       = 5
	defaultRedeliverAfter = 60 * time.Second

	// bodyField is the stream entry field carrying the encoded payload.
	bodyField = "body"

	// readBlock bounds each XREADGROUP call so shutdown is prompt.
	readBlock = 2 * time.Second

	// claimEvery is how often a consume loop sweeps for stale pending
	// entries from dead consumers.
	claimEvery = 10 * time.Second
)

// Redis implements Publisher and Consumer on redis streams with
// consumer groups. Publishes are durable appends; deliveries stay in
// the group's pending list until acked, and entries idle past the
// redelivery window are claimed back by a live consumer.
type Redis struct {
	client         *goredis.Client
	group          string
	consumer       string
	prefetch       int64
	redeliverAfter time.Duration
	log            logger.Logger

	pubMu  sync.Mutex
	mu     sync.Mutex
	closed bool
	cancel []context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedis wraps an existing redis client as a message channel.
func NewRedis(client *goredis.Client, opts ...Option) *Redis {
	r := &Redis{
		client:         client,
		group:          defaultGroup,
		consumer:       fmt.Sprintf("consumer-%d", time.Now().UnixNano()),
		prefetch:       defaultPrefetch,
		redeliverAfter: defaultRedeliverAfter,
		log:            logger.Named("mq"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish appends body to the stream. A transient broker error is
// absorbed by a single reconnect attempt; if the retry also fails the
// message is reported lost to the caller.
func (r *Redis) Publish(ctx context.Context, stream string, body []byte) error {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	if r.isClosed() {
		return ErrChannelClosed
	}

	add := &goredis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{bodyField: body},
	}
	if err := r.client.XAdd(ctx, add).Err(); err != nil {
		r.log.Warn(ctx, "publish failed, reconnecting",
			logger.String("stream", stream),
			logger.Error(err))
		if pingErr := r.client.Ping(ctx).Err(); pingErr != nil {
			metrics.RecordPublishError(stream)
			return fmt.Errorf("%w: %v", ErrPublishFailed, pingErr)
		}
		if err := r.client.XAdd(ctx, add).Err(); err != nil {
			metrics.RecordPublishError(stream)
			return fmt.Errorf("%w: %v", ErrPublishFailed, err)
		}
	}
	return nil
}

// Consume starts a read loop for the stream and returns its delivery
// channel. The group is created on first use.
func (r *Redis) Consume(ctx context.Context, stream string) (<-chan Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrChannelClosed
	}

	if err := r.ensureGroup(ctx, stream); err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = append(r.cancel, cancel)

	out := make(chan Delivery)
	r.wg.Add(1)
	go r.consumeLoop(loopCtx, stream, out)
	return out, nil
}

func (r *Redis) ensureGroup(ctx context.Context, stream string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, r.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %q on %q: %w", r.group, stream, err)
	}
	return nil
}

func (r *Redis) consumeLoop(ctx context.Context, stream string, out chan<- Delivery) {
	defer r.wg.Done()
	defer close(out)

	lastClaim := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		if time.Since(lastClaim) >= claimEvery {
			r.claimStale(ctx, stream, out)
			lastClaim = time.Now()
		}

		res, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{stream, ">"},
			Count:    r.prefetch,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			r.log.Warn(ctx, "stream read failed",
				logger.String("stream", stream),
				logger.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, sr := range res {
			for _, msg := range sr.Messages {
				if !r.emit(ctx, stream, msg, out) {
					return
				}
			}
		}
	}
}

// claimStale takes over pending entries idle past the redelivery window
// and redelivers them through the same channel.
func (r *Redis) claimStale(ctx context.Context, stream string, out chan<- Delivery) {
	msgs, _, err := r.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  r.redeliverAfter,
		Start:    "0-0",
		Count:    r.prefetch,
	}).Result()
	if err != nil {
		if err != goredis.Nil && ctx.Err() == nil {
			r.log.Warn(ctx, "pending claim failed",
				logger.String("stream", stream),
				logger.Error(err))
		}
		return
	}
	for _, msg := range msgs {
		if !r.emit(ctx, stream, msg, out) {
			return
		}
	}
}

func (r *Redis) emit(ctx context.Context, stream string, msg goredis.XMessage, out chan<- Delivery) bool {
	var body []byte
	if raw, ok := msg.Values[bodyField]; ok {
		switch v := raw.(type) {
		case string:
			body = []byte(v)
		case []byte:
			body = v
		}
	}

	d := NewDelivery(msg.ID, body,
		func(ctx context.Context) error {
			return r.client.XAck(ctx, stream, r.group, msg.ID).Err()
		},
		func(ctx context.Context, requeue bool) error {
			if requeue {
				// Leave the entry pending; it becomes claimable once
				// its idle time passes the redelivery window.
				return nil
			}
			return r.client.XAck(ctx, stream, r.group, msg.ID).Err()
		})

	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Redis) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close stops all consume loops. The underlying client is shared and is
// closed by its owner.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, cancel := range r.cancel {
		cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}
