package buffer

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/sightline/internal/domain/classifier"
	"github.com/okian/sightline/internal/domain/keys"
)

func TestMemoryLists(t *testing.T) {
	Convey("Given an in-memory buffer", t, func() {
		ctx := context.Background()
		buf := NewMemory()

		key := keys.NewEventKey(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), "gate-1").String()

		Convey("When records are appended and drained", func() {
			So(buf.Append(ctx, key, []byte("a")), ShouldBeNil)
			So(buf.Append(ctx, key, []byte("b")), ShouldBeNil)
			So(buf.AppendBatch(ctx, key, [][]byte{[]byte("c"), []byte("d")}), ShouldBeNil)

			n, err := buf.Len(ctx, key)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 4)

			got, err := buf.PopAll(ctx, key)
			So(err, ShouldBeNil)

			Convey("Then the drain is ordered oldest first and empties the key", func() {
				So(len(got), ShouldEqual, 4)
				So(string(got[0]), ShouldEqual, "a")
				So(string(got[3]), ShouldEqual, "d")

				again, err := buf.PopAll(ctx, key)
				So(err, ShouldBeNil)
				So(len(again), ShouldEqual, 0)

				n, err := buf.Len(ctx, key)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)
			})
		})

		Convey("When popping a key that was never written", func() {
			got, err := buf.PopAll(ctx, "events:2026-03-14:ghost")
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 0)
		})

		Convey("When enumerating keys", func() {
			So(buf.Append(ctx, "events:2026-03-14:gate-1", []byte("x")), ShouldBeNil)
			So(buf.Append(ctx, "events:2026-03-15:gate-2", []byte("y")), ShouldBeNil)
			So(buf.Append(ctx, "batch:2026-03-14:7", []byte("z")), ShouldBeNil)

			evs, err := buf.Keys(ctx, keys.EventPattern())
			So(err, ShouldBeNil)
			So(len(evs), ShouldEqual, 2)

			batches, err := buf.Keys(ctx, keys.BatchPattern())
			So(err, ShouldBeNil)
			So(len(batches), ShouldEqual, 1)
			So(batches[0], ShouldEqual, "batch:2026-03-14:7")
		})
	})
}

func TestMemoryDeleteIfEmpty(t *testing.T) {
	Convey("Given a buffer with one drained and one live key", t, func() {
		ctx := context.Background()
		buf := NewMemory()

		live := "events:2026-03-14:gate-1"
		drained := "events:2026-03-13:gate-1"

		So(buf.Append(ctx, live, []byte("a")), ShouldBeNil)
		So(buf.Append(ctx, drained, []byte("b")), ShouldBeNil)
		_, err := buf.PopAll(ctx, drained)
		So(err, ShouldBeNil)

		Convey("Then only the empty key is deleted", func() {
			ok, err := buf.DeleteIfEmpty(ctx, drained)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			ok, err = buf.DeleteIfEmpty(ctx, live)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			n, err := buf.Len(ctx, live)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})

		Convey("Then a missing key reports not deleted", func() {
			ok, err := buf.DeleteIfEmpty(ctx, "events:2026-01-01:gone")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("Then an append racing the delete keeps the record", func() {
			// Sequential stand-in for the interleaving: the append lands
			// first, the delete must then refuse.
			So(buf.Append(ctx, drained, []byte("late")), ShouldBeNil)
			ok, err := buf.DeleteIfEmpty(ctx, drained)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			got, err := buf.PopAll(ctx, drained)
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 1)
			So(string(got[0]), ShouldEqual, "late")
		})
	})
}

func TestMemoryModel(t *testing.T) {
	Convey("Given a fresh buffer", t, func() {
		ctx := context.Background()
		buf := NewMemory()

		Convey("Then the model is absent until first stored", func() {
			_, err := buf.GetModel(ctx)
			So(err, ShouldWrap, classifier.ErrNoModel)

			v, err := buf.ModelVersion(ctx)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 0)
		})

		Convey("When artifacts are stored", func() {
			v1, err := buf.SetModel(ctx, []byte(`{"bins":256}`))
			So(err, ShouldBeNil)
			So(v1, ShouldEqual, 1)

			v2, err := buf.SetModel(ctx, []byte(`{"bins":256,"centroids":{}}`))
			So(err, ShouldBeNil)
			So(v2, ShouldEqual, 2)

			Convey("Then the latest artifact and version are visible", func() {
				data, err := buf.GetModel(ctx)
				So(err, ShouldBeNil)
				So(string(data), ShouldEqual, `{"bins":256,"centroids":{}}`)

				v, err := buf.ModelVersion(ctx)
				So(err, ShouldBeNil)
				So(v, ShouldEqual, 2)
			})
		})
	})
}

func TestMemoryClose(t *testing.T) {
	Convey("Given a closed buffer", t, func() {
		ctx := context.Background()
		buf := NewMemory()
		So(buf.Close(), ShouldBeNil)

		Convey("Then every operation reports closed", func() {
			So(buf.Append(ctx, "k", []byte("v")), ShouldWrap, ErrClosed)
			_, err := buf.PopAll(ctx, "k")
			So(err, ShouldWrap, ErrClosed)
			_, err = buf.Keys(ctx, "*")
			So(err, ShouldWrap, ErrClosed)
			_, err = buf.SetModel(ctx, []byte("m"))
			So(err, ShouldWrap, ErrClosed)
		})
	})
}
