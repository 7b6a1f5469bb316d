// Package enroll consumes enrollment sample messages, batches them per
// subject, and hands full batches to the trainer through the fast
// buffer and a pending training run row.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/sightline/internal/adapters/buffer"
	"github.com/okian/sightline/internal/adapters/mq"
	"github.com/okian/sightline/internal/adapters/store"
	"github.com/okian/sightline/internal/domain/keys"
	"github.com/okian/sightline/internal/domain/model"
	"github.com/okian/sightline/pkg/logger"
	"github.com/okian/sightline/pkg/metrics"
)

// ErrNoIdentity is returned for enrollment messages without an identity
// hint; a sample that cannot be attributed cannot train anyone.
var ErrNoIdentity = errors.New("enrollment sample without identity")

// Consumer accumulates enrollment samples in an in-memory batch keyed
// by the identity of the batch's first sample. Acks happen when a
// sample enters the batch, so an unflushed batch is an accepted loss
// window on crash; graceful shutdown flushes it.
type Consumer struct {
	ch        mq.Consumer
	buf       buffer.Buffer
	runs      store.TrainingRunRepo
	stream    string
	batchSize int
	log       logger.Logger

	batchIdentity int64
	batchStarted  time.Time
	batch         [][]byte
}

// New creates an enrollment consumer flushing every batchSize samples.
func New(ch mq.Consumer, buf buffer.Buffer, runs store.TrainingRunRepo, stream string, batchSize int) *Consumer {
	return &Consumer{
		ch:        ch,
		buf:       buf,
		runs:      runs,
		stream:    stream,
		batchSize: batchSize,
		log:       logger.Named("enroll"),
	}
}

// Run consumes until ctx is cancelled, then flushes any partial batch.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.Consume(ctx, c.stream)
	if err != nil {
		return err
	}
	c.log.Info(ctx, "enrollment consumer started",
		logger.String("stream", c.stream),
		logger.Int("batch_size", c.batchSize))

	for {
		select {
		case <-ctx.Done():
			return c.flushFinal()
		case d, ok := <-deliveries:
			if !ok {
				return c.flushFinal()
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d mq.Delivery) {
	msg, err := model.DecodeSampleMessage(d.Body)
	if err != nil {
		metrics.RecordPoisonMessage(string(model.ModeEnrollment))
		c.log.Warn(ctx, "dropping malformed enrollment message",
			logger.String("delivery_id", d.ID),
			logger.Error(err))
		c.ack(ctx, d)
		return
	}
	metrics.RecordMessageConsumed(string(model.ModeEnrollment))

	if len(msg.Payload) == 0 {
		c.ack(ctx, d)
		return
	}
	if msg.IdentityHint == nil || *msg.IdentityHint <= 0 {
		c.log.Warn(ctx, "dropping unattributed enrollment sample",
			logger.String("delivery_id", d.ID),
			logger.Error(ErrNoIdentity))
		c.ack(ctx, d)
		return
	}

	c.add(ctx, *msg.IdentityHint, msg.Payload)
	metrics.RecordEnrollmentSample()
	c.ack(ctx, d)

	if len(c.batch) >= c.batchSize {
		if err := c.flush(ctx); err != nil {
			metrics.RecordBatchFlushError()
			// Samples in this batch are already acked; the loss is
			// bounded by one batch and the batch is retained for the
			// next flush attempt.
			c.log.Error(ctx, "batch flush failed",
				logger.Int64("identity_id", c.batchIdentity),
				logger.Int("samples", len(c.batch)),
				logger.Error(err))
		}
	}
}

// add appends a sample to the running batch. The batch belongs to its
// first sample's identity; samples for another identity force a flush
// first so batches never mix subjects.
func (c *Consumer) add(ctx context.Context, identityID int64, payload []byte) {
	if len(c.batch) > 0 && identityID != c.batchIdentity {
		if err := c.flush(ctx); err != nil {
			metrics.RecordBatchFlushError()
			c.log.Error(ctx, "batch flush failed on identity change",
				logger.Int64("identity_id", c.batchIdentity),
				logger.Error(err))
			// Mixed batches train the wrong subject; drop the old batch
			// rather than blend it into the new identity's.
			c.batch = nil
		}
	}
	if len(c.batch) == 0 {
		c.batchIdentity = identityID
		c.batchStarted = time.Now().UTC()
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.batch = append(c.batch, cp)
}

// flush pushes the batch under its batch key, records a pending
// training run sized to the batch, and clears the batch.
func (c *Consumer) flush(ctx context.Context) error {
	if len(c.batch) == 0 {
		return nil
	}

	encoded := make([][]byte, 0, len(c.batch))
	for _, payload := range c.batch {
		body, err := model.EnrollmentSample{
			IdentityID: c.batchIdentity,
			Sample:     payload,
		}.Encode()
		if err != nil {
			return fmt.Errorf("encode enrollment sample: %w", err)
		}
		encoded = append(encoded, body)
	}

	key := keys.NewBatchKey(c.batchStarted, c.batchIdentity)
	if err := c.buf.AppendBatch(ctx, key.String(), encoded); err != nil {
		return fmt.Errorf("stage batch %s: %w", key, err)
	}

	if _, err := c.runs.Create(ctx, &store.TrainingRun{
		IdentityID:  c.batchIdentity,
		SampleCount: len(c.batch),
		Status:      store.StatusPending,
		StartedAt:   c.batchStarted,
	}); err != nil {
		return fmt.Errorf("record training run: %w", err)
	}

	metrics.RecordBatchFlushed()
	c.log.Info(ctx, "enrollment batch flushed",
		logger.Int64("identity_id", c.batchIdentity),
		logger.Int("samples", len(c.batch)),
		logger.String("key", key.String()))

	c.batch = nil
	return nil
}

// flushFinal runs the shutdown flush so a graceful stop loses nothing.
func (c *Consumer) flushFinal() error {
	if len(c.batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.log.Info(ctx, "flushing partial batch on shutdown",
		logger.Int64("identity_id", c.batchIdentity),
		logger.Int("samples", len(c.batch)))
	if err := c.flush(ctx); err != nil {
		metrics.RecordBatchFlushError()
		return err
	}
	return nil
}

func (c *Consumer) ack(ctx context.Context, d mq.Delivery) {
	if err := d.Ack(ctx); err != nil {
		c.log.Warn(ctx, "ack failed",
			logger.String("delivery_id", d.ID),
			logger.Error(err))
	}
}
