package ingest

import (
	"context"
	"io"
	"time"
)

// SyntheticSource emits a bounded run of deterministic frames. It backs
// tests and dry-run enrollment sessions where no real capture device is
// attached.
type SyntheticSource struct {
	id      string
	frames  int
	emitted int
	fill    byte
	delay   time.Duration
}

// NewSyntheticSource creates a source yielding frames whose payload is
// 64 bytes of fill. The fill byte distinguishes sources from each other
// in assertions.
func NewSyntheticSource(id string, frames int, fill byte) *SyntheticSource {
	return &SyntheticSource{id: id, frames: frames, fill: fill}
}

// WithDelay makes the source sleep between frames, approximating a live
// feed's cadence.
func (s *SyntheticSource) WithDelay(d time.Duration) *SyntheticSource {
	s.delay = d
	return s
}

func (s *SyntheticSource) ID() string { return s.id }

func (s *SyntheticSource) Next(ctx context.Context) (Frame, error) {
	if s.emitted >= s.frames {
		return Frame{}, io.EOF
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
	s.emitted++
	data := make([]byte, 64)
	for i := range data {
		data[i] = s.fill
	}
	return Frame{
		SourceID:   s.id,
		CapturedAt: time.Now().UTC(),
		Data:       data,
	}, nil
}

func (s *SyntheticSource) Close() error { return nil }

// PassthroughExtractor treats each whole frame as a single sample.
// Deployments with a real detector front end replace it.
type PassthroughExtractor struct{}

func (PassthroughExtractor) Extract(_ context.Context, frame Frame) ([][]byte, error) {
	if len(frame.Data) == 0 {
		return nil, nil
	}
	return [][]byte{frame.Data}, nil
}
