// Package ingest runs the capture side of the pipeline: one loop per
// source pulling frames, extracting samples, and publishing one message
// per sample onto the durable channel.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/sightline/internal/adapters/mq"
	"github.com/okian/sightline/internal/domain/model"
	"github.com/okian/sightline/pkg/logger"
	"github.com/okian/sightline/pkg/metrics"
)

// progressEvery is how many frames pass between progress log lines.
const progressEvery = 100

// Frame is one raw capture from a source.
type Frame struct {
	SourceID   string
	CapturedAt time.Time
	Data       []byte
}

// Source pulls frames from one capture device or feed. Next returns
// io.EOF when the feed ends.
type Source interface {
	ID() string
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Extractor turns a frame into zero or more samples.
type Extractor interface {
	Extract(ctx context.Context, frame Frame) ([][]byte, error)
}

// Preview receives each frame with its extracted samples. It is called
// best effort and must not block; a slow preview stalls nothing because
// it runs after the publishes for the frame complete.
type Preview func(frame Frame, samples [][]byte)

// Stats reports one source loop's counters after it stops.
type Stats struct {
	SourceID  string
	Frames    int64
	Samples   int64
	Published int64
	Dropped   int64
}

// Producer fans out one capture loop per source and publishes extracted
// samples. Each loop is isolated; a stalled channel only slows its own
// source.
type Producer struct {
	pub          mq.Publisher
	extractor    Extractor
	stream       string
	mode         model.Mode
	identityHint *int64
	frameCap     int
	preview      Preview
	log          logger.Logger
}

// New creates a producer publishing live samples. Options switch it to
// enrollment mode, cap frames, or attach a preview hook.
func New(pub mq.Publisher, extractor Extractor, stream string, opts ...Option) *Producer {
	p := &Producer{
		pub:       pub,
		extractor: extractor,
		stream:    stream,
		mode:      model.ModeLive,
		log:       logger.Named("ingest"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts one goroutine per source and blocks until every loop has
// stopped, either from ctx cancellation, a frame cap, or the source's
// own end of feed. It returns per-source stats in source order.
func (p *Producer) Run(ctx context.Context, sources ...Source) ([]Stats, error) {
	if len(sources) == 0 {
		return nil, errors.New("no sources configured")
	}

	stats := make([]Stats, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			stats[i] = p.runSource(ctx, src)
		}(i, src)
	}
	wg.Wait()
	return stats, nil
}

func (p *Producer) runSource(ctx context.Context, src Source) Stats {
	st := Stats{SourceID: src.ID()}
	defer func() {
		if err := src.Close(); err != nil {
			p.log.Warn(ctx, "source close failed",
				logger.String("source", src.ID()),
				logger.Error(err))
		}
		p.log.Info(ctx, "source loop stopped",
			logger.String("source", st.SourceID),
			logger.Int64("frames", st.Frames),
			logger.Int64("published", st.Published),
			logger.Int64("dropped", st.Dropped))
	}()

	for {
		if ctx.Err() != nil {
			return st
		}
		if p.frameCap > 0 && st.Frames >= int64(p.frameCap) {
			return st
		}

		frame, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return st
			}
			p.log.Warn(ctx, "frame pull failed",
				logger.String("source", src.ID()),
				logger.Error(err))
			continue
		}
		st.Frames++
		metrics.RecordFrameProcessed(src.ID())

		samples, err := p.extractor.Extract(ctx, frame)
		if err != nil {
			p.log.Warn(ctx, "extraction failed",
				logger.String("source", src.ID()),
				logger.Error(err))
			continue
		}

		for _, sample := range samples {
			st.Samples++
			if err := p.publish(ctx, frame, sample); err != nil {
				st.Dropped++
				p.log.Error(ctx, "sample dropped after publish retry",
					logger.String("source", src.ID()),
					logger.Error(err))
				continue
			}
			st.Published++
			metrics.RecordSamplePublished(string(p.mode), src.ID())
		}

		if p.preview != nil {
			p.preview(frame, samples)
		}

		if st.Frames%progressEvery == 0 {
			p.log.Debug(ctx, "capture progress",
				logger.String("source", src.ID()),
				logger.Int64("frames", st.Frames),
				logger.Int64("published", st.Published))
		}
	}
}

// publish sends one sample message. Reconnect and retry semantics live
// in the channel implementation; a returned error means the message is
// gone.
func (p *Producer) publish(ctx context.Context, frame Frame, sample []byte) error {
	msg := model.SampleMessage{
		MessageID:    uuid.NewString(),
		SourceID:     frame.SourceID,
		Mode:         p.mode,
		CapturedAt:   frame.CapturedAt,
		IdentityHint: p.identityHint,
		Payload:      sample,
	}
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode sample message: %w", err)
	}
	return p.pub.Publish(ctx, p.stream, body)
}
