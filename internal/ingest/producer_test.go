package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/sightline/internal/domain/model"
	"github.com/okian/sightline/pkg/logger"
)

// mockPublisher records published bodies and can fail on demand.
type mockPublisher struct {
	mu        sync.Mutex
	published map[string][][]byte
	failnext  int
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{published: make(map[string][][]byte)}
}

func (m *mockPublisher) Publish(_ context.Context, stream string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failnextLocked() {
		return errors.New("channel unavailable")
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	m.published[stream] = append(m.published[stream], cp)
	return nil
}

func (m *mockPublisher) failnextLocked() bool {
	if m.failnext > 0 {
		m.failnext--
		return true
	}
	return false
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) count(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published[stream])
}

func TestProducerRun(t *testing.T) {
	Convey("Given a producer over two synthetic sources", t, func() {
		if err := logger.Init(); err != nil {
			t.Fatalf("init logger: %v", err)
		}
		ctx := context.Background()
		pub := newMockPublisher()
		p := New(pub, PassthroughExtractor{}, "live-events")

		Convey("When both feeds run to completion", func() {
			stats, err := p.Run(ctx,
				NewSyntheticSource("gate-1", 3, 0x10),
				NewSyntheticSource("gate-2", 5, 0x20),
			)
			So(err, ShouldBeNil)

			Convey("Then every frame yields one published message", func() {
				So(len(stats), ShouldEqual, 2)
				So(stats[0].SourceID, ShouldEqual, "gate-1")
				So(stats[0].Frames, ShouldEqual, 3)
				So(stats[0].Published, ShouldEqual, 3)
				So(stats[0].Dropped, ShouldEqual, 0)
				So(stats[1].Published, ShouldEqual, 5)
				So(pub.count("live-events"), ShouldEqual, 8)
			})

			Convey("Then messages decode with live mode and the source stamped", func() {
				msg, err := model.DecodeSampleMessage(pub.published["live-events"][0])
				So(err, ShouldBeNil)
				So(msg.Mode, ShouldEqual, model.ModeLive)
				So(msg.MessageID, ShouldNotBeEmpty)
				So(msg.SourceID, ShouldBeIn, []string{"gate-1", "gate-2"})
				So(len(msg.Payload), ShouldEqual, 64)
			})
		})

		Convey("When no sources are given", func() {
			_, err := p.Run(ctx)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestProducerFrameCap(t *testing.T) {
	Convey("Given a producer with a frame cap of two", t, func() {
		if err := logger.Init(); err != nil {
			t.Fatalf("init logger: %v", err)
		}
		ctx := context.Background()
		pub := newMockPublisher()
		hint := int64(7)
		p := New(pub, PassthroughExtractor{}, "enrollment-events",
			WithMode(model.ModeEnrollment),
			WithIdentityHint(hint),
			WithFrameCap(2),
		)

		Convey("When the source could yield many more frames", func() {
			stats, err := p.Run(ctx, NewSyntheticSource("booth", 100, 0x33))
			So(err, ShouldBeNil)

			Convey("Then the loop stops at the cap", func() {
				So(stats[0].Frames, ShouldEqual, 2)
				So(pub.count("enrollment-events"), ShouldEqual, 2)
			})

			Convey("Then enrollment mode and the identity hint are stamped", func() {
				msg, err := model.DecodeSampleMessage(pub.published["enrollment-events"][0])
				So(err, ShouldBeNil)
				So(msg.Mode, ShouldEqual, model.ModeEnrollment)
				So(msg.IdentityHint, ShouldNotBeNil)
				So(*msg.IdentityHint, ShouldEqual, 7)
			})
		})
	})
}

func TestProducerPublishFailure(t *testing.T) {
	Convey("Given a channel that rejects the first publish", t, func() {
		if err := logger.Init(); err != nil {
			t.Fatalf("init logger: %v", err)
		}
		ctx := context.Background()
		pub := newMockPublisher()
		pub.failnext = 1
		p := New(pub, PassthroughExtractor{}, "live-events")

		Convey("When three frames flow through", func() {
			stats, err := p.Run(ctx, NewSyntheticSource("gate-1", 3, 0x10))
			So(err, ShouldBeNil)

			Convey("Then the failed sample is dropped and the loop continues", func() {
				So(stats[0].Frames, ShouldEqual, 3)
				So(stats[0].Dropped, ShouldEqual, 1)
				So(stats[0].Published, ShouldEqual, 2)
				So(pub.count("live-events"), ShouldEqual, 2)
			})
		})
	})
}

func TestProducerPreviewAndCancel(t *testing.T) {
	Convey("Given a producer with a preview hook", t, func() {
		if err := logger.Init(); err != nil {
			t.Fatalf("init logger: %v", err)
		}
		pub := newMockPublisher()

		var mu sync.Mutex
		previews := 0
		p := New(pub, PassthroughExtractor{}, "live-events",
			WithPreview(func(Frame, [][]byte) {
				mu.Lock()
				previews++
				mu.Unlock()
			}))

		Convey("When the feed completes", func() {
			_, err := p.Run(context.Background(), NewSyntheticSource("gate-1", 4, 0x10))
			So(err, ShouldBeNil)

			mu.Lock()
			defer mu.Unlock()
			So(previews, ShouldEqual, 4)
		})

		Convey("When the context is cancelled mid-feed", func() {
			ctx, cancel := context.WithCancel(context.Background())
			src := NewSyntheticSource("gate-1", 1000, 0x10).WithDelay(5 * time.Millisecond)

			go func() {
				time.Sleep(30 * time.Millisecond)
				cancel()
			}()

			stats, err := p.Run(ctx, src)
			So(err, ShouldBeNil)
			So(stats[0].Frames, ShouldBeLessThan, 1000)
		})
	})
}
