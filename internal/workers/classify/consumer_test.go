package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/sightline/internal/adapters/buffer"
	"github.com/okian/sightline/internal/adapters/mq"
	"github.com/okian/sightline/internal/domain/keys"
	"github.com/okian/sightline/internal/domain/model"
	"github.com/okian/sightline/pkg/logger"
)

const testStream = "live-events"

// stubPredictor maps the first payload byte to a fixed prediction.
type stubPredictor struct {
	byFirstByte map[byte]prediction
}

type prediction struct {
	identityID int64
	confidence float64
	found      bool
}

func (s *stubPredictor) Predict(_ context.Context, sample []byte) (int64, float64, bool) {
	p, ok := s.byFirstByte[sample[0]]
	if !ok {
		return 0, 0, false
	}
	return p.identityID, p.confidence, p.found
}

// flakyBuffer fails the first n appends, then delegates.
type flakyBuffer struct {
	buffer.Buffer
	failures int
}

func (f *flakyBuffer) Append(ctx context.Context, key string, value []byte) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("buffer unavailable")
	}
	return f.Buffer.Append(ctx, key, value)
}

func publishSample(t *testing.T, ch *mq.Memory, payload []byte, capturedAt time.Time) {
	t.Helper()
	msg := model.SampleMessage{
		MessageID:  uuid.NewString(),
		SourceID:   "gate-1",
		Mode:       model.ModeLive,
		CapturedAt: capturedAt,
		Payload:    payload,
	}
	body, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := ch.Publish(context.Background(), testStream, body); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func drainFor(d time.Duration) {
	time.Sleep(d)
}

func TestConsumerOutcomes(t *testing.T) {
	Convey("Given a consumer with threshold 70", t, func() {
		if err := logger.Init(); err != nil {
			t.Fatalf("init logger: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch := mq.NewMemory(5)
		defer func() { _ = ch.Close() }()
		buf := buffer.NewMemory()
		predictor := &stubPredictor{byFirstByte: map[byte]prediction{
			0x07: {identityID: 7, confidence: 12.0, found: true},
			0x08: {identityID: 7, confidence: 30.0, found: true},
			0x09: {identityID: 9, confidence: 5.0, found: true},
			0x60: {identityID: 3, confidence: 85.0, found: true},
		}}

		c := New(ch, buf, predictor, testStream, 70.0)
		go func() { _ = c.Run(ctx) }()

		observedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
		key := keys.NewEventKey(observedAt, "gate-1").String()

		Convey("When three samples match identities 7, 7 and 9", func() {
			publishSample(t, ch, []byte{0x07, 1, 1}, observedAt)
			publishSample(t, ch, []byte{0x08, 1, 1}, observedAt)
			publishSample(t, ch, []byte{0x09, 1, 1}, observedAt)
			drainFor(300 * time.Millisecond)

			Convey("Then three records land under the day-and-source key", func() {
				records, err := buf.PopAll(ctx, key)
				So(err, ShouldBeNil)
				So(len(records), ShouldEqual, 3)

				first, err := model.DecodeEventRecord(records[0])
				So(err, ShouldBeNil)
				So(first.IdentityID, ShouldEqual, 7)
				So(first.Confidence, ShouldEqual, 12.0)
				So(first.SourceID, ShouldEqual, "gate-1")

				third, err := model.DecodeEventRecord(records[2])
				So(err, ShouldBeNil)
				So(third.IdentityID, ShouldEqual, 9)
				So(third.Confidence, ShouldEqual, 5.0)

				So(ch.Len(testStream), ShouldEqual, 0)
			})
		})

		Convey("When the confidence fails the threshold", func() {
			publishSample(t, ch, []byte{0x60, 1, 1}, observedAt)
			drainFor(200 * time.Millisecond)

			Convey("Then the message is acked without buffering", func() {
				records, err := buf.PopAll(ctx, key)
				So(err, ShouldBeNil)
				So(len(records), ShouldEqual, 0)
				So(ch.Len(testStream), ShouldEqual, 0)
			})
		})

		Convey("When the classifier finds nothing", func() {
			publishSample(t, ch, []byte{0xFF, 1, 1}, observedAt)
			drainFor(200 * time.Millisecond)

			records, err := buf.PopAll(ctx, key)
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 0)
			So(ch.Len(testStream), ShouldEqual, 0)
		})

		Convey("When the payload is empty", func() {
			publishSample(t, ch, nil, observedAt)
			drainFor(200 * time.Millisecond)

			records, err := buf.PopAll(ctx, key)
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 0)
			So(ch.Len(testStream), ShouldEqual, 0)
		})

		Convey("When the payload is not a valid message at all", func() {
			So(ch.Publish(ctx, testStream, []byte("not json")), ShouldBeNil)
			drainFor(200 * time.Millisecond)

			Convey("Then the poison message is dropped, never requeued", func() {
				So(ch.Len(testStream), ShouldEqual, 0)
				records, err := buf.PopAll(ctx, key)
				So(err, ShouldBeNil)
				So(len(records), ShouldEqual, 0)
			})
		})
	})
}

func TestConsumerRetriesBufferFailure(t *testing.T) {
	Convey("Given a buffer that fails the first append", t, func() {
		if err := logger.Init(); err != nil {
			t.Fatalf("init logger: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch := mq.NewMemory(5)
		defer func() { _ = ch.Close() }()
		inner := buffer.NewMemory()
		buf := &flakyBuffer{Buffer: inner, failures: 1}
		predictor := &stubPredictor{byFirstByte: map[byte]prediction{
			0x07: {identityID: 7, confidence: 12.0, found: true},
		}}

		c := New(ch, buf, predictor, testStream, 70.0)
		go func() { _ = c.Run(ctx) }()

		observedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
		key := keys.NewEventKey(observedAt, "gate-1").String()

		Convey("When a matching sample arrives", func() {
			publishSample(t, ch, []byte{0x07, 1, 1}, observedAt)
			drainFor(500 * time.Millisecond)

			Convey("Then redelivery lands the record on the second attempt", func() {
				records, err := inner.PopAll(ctx, key)
				So(err, ShouldBeNil)
				So(len(records), ShouldEqual, 1)

				rec, err := model.DecodeEventRecord(records[0])
				So(err, ShouldBeNil)
				So(rec.IdentityID, ShouldEqual, 7)
				So(ch.Len(testStream), ShouldEqual, 0)
			})
		})
	})
}
