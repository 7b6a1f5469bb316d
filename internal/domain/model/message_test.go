package model

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSampleMessageDecode(t *testing.T) {
	Convey("Given a published sample message", t, func() {
		hint := int64(4)
		msg := SampleMessage{
			MessageID:    "m-1",
			SourceID:     "cam1",
			Mode:         ModeEnrollment,
			CapturedAt:   time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
			IdentityHint: &hint,
			Payload:      []byte{0x01, 0x02},
		}

		Convey("When encoded and decoded", func() {
			raw, err := msg.Encode()
			So(err, ShouldBeNil)

			got, err := DecodeSampleMessage(raw)
			So(err, ShouldBeNil)
			So(got.SourceID, ShouldEqual, "cam1")
			So(got.Mode, ShouldEqual, ModeEnrollment)
			So(*got.IdentityHint, ShouldEqual, 4)
			So(got.Payload, ShouldResemble, []byte{0x01, 0x02})
		})

		Convey("When the payload is not JSON", func() {
			_, err := DecodeSampleMessage([]byte("\x89PNG not json"))
			So(err, ShouldWrap, ErrMalformedMessage)
		})

		Convey("When the mode is unknown", func() {
			_, err := DecodeSampleMessage([]byte(`{"source_id":"cam1","mode":"replay"}`))
			So(err, ShouldWrap, ErrMalformedMessage)
		})

		Convey("When the source id is missing", func() {
			_, err := DecodeSampleMessage([]byte(`{"mode":"live"}`))
			So(err, ShouldWrap, ErrMalformedMessage)
		})
	})
}

func TestResultVariants(t *testing.T) {
	Convey("Given classification outcomes", t, func() {
		Convey("A match carries identity and confidence", func() {
			r := Matched(7, 12.0)
			So(r.Kind, ShouldEqual, ResultMatched)
			So(r.IdentityID, ShouldEqual, 7)
			So(r.Confidence, ShouldEqual, 12.0)
		})

		Convey("No-match and invalid carry no identity", func() {
			So(NoMatch().Kind, ShouldEqual, ResultNoMatch)
			So(Invalid().Kind, ShouldEqual, ResultInvalid)
			So(NoMatch().IdentityID, ShouldEqual, 0)
		})
	})
}
