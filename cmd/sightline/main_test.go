package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/cobra"

	"github.com/okian/sightline/internal/adapters/store"
)

func TestRootCommandLayout(t *testing.T) {
	Convey("Given the root command", t, func() {
		root := newRootCommand()

		Convey("Then every pipeline command is registered", func() {
			names := make(map[string]bool)
			for _, c := range root.Commands() {
				names[c.Name()] = true
			}
			for _, want := range []string{"run", "identity", "enroll", "train", "sync-once", "events", "migrate"} {
				So(names[want], ShouldBeTrue)
			}
		})

		Convey("Then the config flag is available everywhere", func() {
			So(root.PersistentFlags().Lookup("config"), ShouldNotBeNil)
		})

		Convey("Then the events group carries its query and retention commands", func() {
			var events *cobra.Command
			for _, c := range root.Commands() {
				if c.Name() == "events" {
					events = c
				}
			}
			So(events, ShouldNotBeNil)

			names := make(map[string]bool)
			for _, c := range events.Commands() {
				names[c.Name()] = true
			}
			for _, want := range []string{"by-date", "by-identity", "summary", "purge"} {
				So(names[want], ShouldBeTrue)
			}
		})

		Convey("Then the train command exposes its filters", func() {
			for _, c := range root.Commands() {
				if c.Name() != "train" {
					continue
				}
				So(c.Flags().Lookup("identity"), ShouldNotBeNil)
				So(c.Flags().Lookup("date"), ShouldNotBeNil)
			}
		})
	})
}

func TestParseDay(t *testing.T) {
	Convey("Given the date flag parser", t, func() {
		Convey("A valid date round-trips", func() {
			day, err := parseDay("2026-03-14")
			So(err, ShouldBeNil)
			So(day.Year(), ShouldEqual, 2026)
			So(int(day.Month()), ShouldEqual, 3)
			So(day.Day(), ShouldEqual, 14)
		})

		Convey("An empty value means today", func() {
			day, err := parseDay("")
			So(err, ShouldBeNil)
			So(time.Since(day), ShouldBeLessThan, time.Minute)
		})

		Convey("Garbage is rejected", func() {
			_, err := parseDay("14/03/2026")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestExportEventsCSV(t *testing.T) {
	Convey("Given a slice of events", t, func() {
		events := []*store.Event{
			{ID: 1, IdentityID: 7, SourceID: "gate-1",
				ObservedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), Confidence: 12.5},
			{ID: 2, IdentityID: 9, SourceID: "gate-2",
				ObservedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), Confidence: 5.0},
		}
		path := filepath.Join(t.TempDir(), "events.csv")

		Convey("When exported to CSV", func() {
			So(exportEventsCSV(events, path), ShouldBeNil)

			f, err := os.Open(path)
			So(err, ShouldBeNil)
			defer func() { _ = f.Close() }()

			rows, err := csv.NewReader(f).ReadAll()
			So(err, ShouldBeNil)

			Convey("Then the file has a header and one row per event", func() {
				So(len(rows), ShouldEqual, 3)
				So(rows[0][0], ShouldEqual, "id")
				So(rows[1], ShouldResemble, []string{"1", "7", "gate-1", "2026-03-14T09:00:00Z", "12.50"})
				So(rows[2][4], ShouldEqual, "5.00")
			})
		})
	})
}
