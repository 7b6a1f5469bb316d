package syncer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/sightline/internal/adapters/buffer"
	"github.com/okian/sightline/internal/adapters/store"
	"github.com/okian/sightline/internal/domain/keys"
	"github.com/okian/sightline/internal/domain/model"
	"github.com/okian/sightline/pkg/logger"
	"github.com/okian/sightline/pkg/metrics"
)

func stageRecord(t *testing.T, buf buffer.Buffer, identityID int64, sourceID string, observedAt time.Time, confidence float64) {
	t.Helper()
	body, err := model.EventRecord{
		IdentityID: identityID,
		SourceID:   sourceID,
		ObservedAt: observedAt,
		Confidence: confidence,
	}.Encode()
	if err != nil {
		t.Fatalf("encode record: %v", err)
	}
	key := keys.NewEventKey(observedAt, sourceID).String()
	if err := buf.Append(context.Background(), key, body); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func newTestEnv(t *testing.T) (buffer.Buffer, store.IdentityRepo, store.EventRepo, *Syncer) {
	t.Helper()
	if err := logger.Init(); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	db, err := store.Open(store.DriverSQLite, "file:syncer"+time.Now().Format("150405.000000000")+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := store.AutoMigrateAll(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	buf := buffer.NewMemory()
	identities := store.NewIdentityRepo(db)
	events := store.NewEventRepo(db)
	s := New(buf, events, identities, Options{
		Interval:      time.Hour,
		CleanupEvery:  1,
		RetentionDays: 7,
	})
	return buf, identities, events, s
}

func TestSyncerRunOnce(t *testing.T) {
	Convey("Given buffered records for active and inactive identities", t, func() {
		ctx := context.Background()
		buf, identities, events, s := newTestEnv(t)

		alice, err := identities.Create(ctx, &store.Identity{Name: "Alice", Active: true})
		So(err, ShouldBeNil)
		bob, err := identities.Create(ctx, &store.Identity{Name: "Bob", Active: true})
		So(err, ShouldBeNil)
		_, err = identities.Deactivate(ctx, bob.ID)
		So(err, ShouldBeNil)

		day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		stageRecord(t, buf, alice.ID, "gate-1", day, 12.0)
		stageRecord(t, buf, alice.ID, "gate-1", day.Add(time.Hour), 30.0)
		stageRecord(t, buf, bob.ID, "gate-1", day, 5.0)
		stageRecord(t, buf, 9999, "gate-2", day, 8.0)

		Convey("When a drain cycle runs", func() {
			So(s.RunOnce(ctx), ShouldBeNil)

			Convey("Then only active-identity records become durable rows", func() {
				rows, err := events.ListByDate(ctx, day)
				So(err, ShouldBeNil)
				So(len(rows), ShouldEqual, 2)
				So(rows[0].IdentityID, ShouldEqual, alice.ID)
				So(rows[1].IdentityID, ShouldEqual, alice.ID)
			})

			Convey("Then the buffer keys are drained", func() {
				for _, src := range []string{"gate-1", "gate-2"} {
					n, err := buf.Len(ctx, keys.NewEventKey(day, src).String())
					So(err, ShouldBeNil)
					So(n, ShouldEqual, 0)
				}
			})

			Convey("Then the depth gauge holds the staged count from cycle start", func() {
				expected := `
# HELP sightline_pipeline_buffer_queue_depth Records staged in the fast buffer, sampled at the start of each sync cycle
# TYPE sightline_pipeline_buffer_queue_depth gauge
sightline_pipeline_buffer_queue_depth 4
`
				err := testutil.GatherAndCompare(metrics.GetRegistry(),
					strings.NewReader(expected),
					"sightline_pipeline_buffer_queue_depth")
				So(err, ShouldBeNil)
			})

			Convey("And a second cycle inserts nothing new", func() {
				So(s.RunOnce(ctx), ShouldBeNil)
				rows, err := events.ListByDate(ctx, day)
				So(err, ShouldBeNil)
				So(len(rows), ShouldEqual, 2)
			})
		})

		Convey("When the buffer also holds an undecodable record", func() {
			key := keys.NewEventKey(day, "gate-1").String()
			So(buf.Append(ctx, key, []byte("junk")), ShouldBeNil)
			So(s.RunOnce(ctx), ShouldBeNil)

			rows, err := events.ListByDate(ctx, day)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 2)
		})
	})
}

func TestSyncerCleanup(t *testing.T) {
	Convey("Given stale and fresh buffer keys", t, func() {
		ctx := context.Background()
		buf, identities, _, s := newTestEnv(t)

		alice, err := identities.Create(ctx, &store.Identity{Name: "Alice", Active: true})
		So(err, ShouldBeNil)

		now := time.Now().UTC()
		staleDay := now.AddDate(0, 0, -30)

		staleEmpty := keys.NewEventKey(staleDay, "gate-1").String()
		staleFull := keys.NewEventKey(staleDay, "gate-2").String()
		fresh := keys.NewEventKey(now, "gate-1").String()

		stageRecord(t, buf, alice.ID, "gate-1", staleDay, 10.0)
		_, err = buf.PopAll(ctx, staleEmpty)
		So(err, ShouldBeNil)

		stageRecord(t, buf, alice.ID, "gate-2", staleDay, 10.0)
		stageRecord(t, buf, alice.ID, "gate-1", now, 10.0)

		Convey("When cleanup runs", func() {
			s.Cleanup(ctx)

			remaining, err := buf.Keys(ctx, keys.EventPattern())
			So(err, ShouldBeNil)

			Convey("Then only the stale empty key is gone", func() {
				So(remaining, ShouldNotContain, staleEmpty)
				So(remaining, ShouldContain, staleFull)
				So(remaining, ShouldContain, fresh)

				n, err := buf.Len(ctx, staleFull)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})
	})
}
