// Package classify consumes live sample messages, runs them through the
// classifier, and stages accepted matches in the fast buffer for the
// sync worker.
package classify

import (
	"context"
	"errors"
	"time"

	"github.com/okian/sightline/internal/adapters/buffer"
	"github.com/okian/sightline/internal/adapters/mq"
	"github.com/okian/sightline/internal/domain/keys"
	"github.com/okian/sightline/internal/domain/model"
	"github.com/okian/sightline/pkg/logger"
	"github.com/okian/sightline/pkg/metrics"
)

// Predictor is the classifier surface the consumer needs. The hot-swap
// model handle satisfies it.
type Predictor interface {
	Predict(ctx context.Context, sample []byte) (int64, float64, bool)
}

// Consumer processes one delivery at a time per worker slot. Messages
// are acked only after their side effects are safely staged; a failed
// buffer write nacks with requeue so the channel redelivers.
type Consumer struct {
	ch        mq.Consumer
	buf       buffer.Buffer
	predictor Predictor
	stream    string
	threshold float64
	log       logger.Logger
}

// New creates a classification consumer. threshold is the acceptance
// cutoff: a match is kept when its confidence distance is strictly
// below it (lower is better).
func New(ch mq.Consumer, buf buffer.Buffer, predictor Predictor, stream string, threshold float64) *Consumer {
	return &Consumer{
		ch:        ch,
		buf:       buf,
		predictor: predictor,
		stream:    stream,
		threshold: threshold,
		log:       logger.Named("classify"),
	}
}

// Run consumes until ctx is cancelled or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.Consume(ctx, c.stream)
	if err != nil {
		return err
	}
	c.log.Info(ctx, "classification consumer started",
		logger.String("stream", c.stream),
		logger.Float64("threshold", c.threshold))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, d)
		}
	}
}

// handle settles exactly one delivery.
func (c *Consumer) handle(ctx context.Context, d mq.Delivery) {
	start := time.Now()
	defer func() {
		metrics.RecordClassificationLatency(float64(time.Since(start).Milliseconds()))
	}()

	msg, err := model.DecodeSampleMessage(d.Body)
	if err != nil {
		// A malformed payload can never succeed; requeueing it would
		// poison the stream.
		if errors.Is(err, model.ErrMalformedMessage) {
			metrics.RecordPoisonMessage(string(model.ModeLive))
			c.log.Warn(ctx, "dropping malformed message",
				logger.String("delivery_id", d.ID),
				logger.Error(err))
			c.ack(ctx, d)
			return
		}
		c.nack(ctx, d)
		return
	}
	metrics.RecordMessageConsumed(string(model.ModeLive))

	if len(msg.Payload) == 0 {
		c.ack(ctx, d)
		return
	}

	result := c.classify(ctx, msg.Payload)
	switch result.Kind {
	case model.ResultMatched:
		if err := c.stage(ctx, msg, result); err != nil {
			metrics.RecordBufferAppendError()
			c.log.Error(ctx, "buffer write failed, requeueing",
				logger.String("delivery_id", d.ID),
				logger.Int64("identity_id", result.IdentityID),
				logger.Error(err))
			c.nack(ctx, d)
			return
		}
		metrics.RecordMatchBuffered()
		c.ack(ctx, d)
	case model.ResultNoMatch:
		metrics.RecordNoMatch()
		c.log.Debug(ctx, "no match",
			logger.String("source", msg.SourceID))
		c.ack(ctx, d)
	default:
		c.ack(ctx, d)
	}
}

// classify maps the raw prediction to an explicit outcome. A confidence
// at or past the threshold is the everyday no-match case, not an error.
func (c *Consumer) classify(ctx context.Context, sample []byte) model.Result {
	identityID, confidence, found := c.predictor.Predict(ctx, sample)
	if !found {
		return model.NoMatch()
	}
	if confidence >= c.threshold {
		return model.NoMatch()
	}
	return model.Matched(identityID, confidence)
}

// stage appends the buffered event record under the day-and-source key.
func (c *Consumer) stage(ctx context.Context, msg model.SampleMessage, result model.Result) error {
	record := model.EventRecord{
		IdentityID: result.IdentityID,
		SourceID:   msg.SourceID,
		ObservedAt: msg.CapturedAt,
		Confidence: result.Confidence,
	}
	body, err := record.Encode()
	if err != nil {
		return err
	}
	key := keys.NewEventKey(msg.CapturedAt, msg.SourceID)
	return c.buf.Append(ctx, key.String(), body)
}

func (c *Consumer) ack(ctx context.Context, d mq.Delivery) {
	if err := d.Ack(ctx); err != nil {
		c.log.Warn(ctx, "ack failed",
			logger.String("delivery_id", d.ID),
			logger.Error(err))
	}
}

func (c *Consumer) nack(ctx context.Context, d mq.Delivery) {
	if err := d.Nack(ctx, true); err != nil {
		c.log.Warn(ctx, "nack failed",
			logger.String("delivery_id", d.ID),
			logger.Error(err))
	}
}
