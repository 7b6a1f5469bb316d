package keys

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestEventKey(t *testing.T) {
	Convey("Given an observation time and source", t, func() {
		observed := time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC)
		key := NewEventKey(observed, "cam1")

		Convey("Then the storage format embeds the ISO date", func() {
			So(key.String(), ShouldEqual, "events:2024-01-01:cam1")
		})

		Convey("Then parsing round-trips", func() {
			parsed, err := ParseEventKey(key.String())
			So(err, ShouldBeNil)
			So(parsed.SourceID, ShouldEqual, "cam1")
			So(parsed.Date.Format(DateLayout), ShouldEqual, "2024-01-01")
		})
	})

	Convey("Given malformed event keys", t, func() {
		for _, s := range []string{"", "events", "events:2024-01-01:", "batch:2024-01-01:cam1", "events:January:cam1"} {
			_, err := ParseEventKey(s)
			So(err, ShouldWrap, ErrInvalidKey)
		}
	})
}

func TestBatchKey(t *testing.T) {
	Convey("Given a date and identity", t, func() {
		date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		key := NewBatchKey(date, 4)

		Convey("Then the storage format embeds date and identity", func() {
			So(key.String(), ShouldEqual, "batch:2024-01-01:4")
		})

		Convey("Then parsing round-trips", func() {
			parsed, err := ParseBatchKey(key.String())
			So(err, ShouldBeNil)
			So(parsed.IdentityID, ShouldEqual, 4)
			So(parsed.Date.Format(DateLayout), ShouldEqual, "2024-01-01")
		})

		Convey("Then per-date patterns select the identity when given", func() {
			So(BatchPatternFor(date, 4), ShouldEqual, "batch:2024-01-01:4")
			So(BatchPatternFor(date, 0), ShouldEqual, "batch:2024-01-01:*")
		})
	})

	Convey("Given malformed batch keys", t, func() {
		for _, s := range []string{"batch:2024-01-01:zero", "batch:2024-01-01:-3", "events:2024-01-01:4", "batch:01-01-2024:4"} {
			_, err := ParseBatchKey(s)
			So(err, ShouldWrap, ErrInvalidKey)
		}
	})
}
