package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/sightline/pkg/logger"
)

type stubStats struct{}

func (stubStats) GetStats() map[string]interface{} {
	return map[string]interface{}{"uptime_seconds": 42}
}

func TestOpsHandlers(t *testing.T) {
	Convey("Given an ops server", t, func() {
		if err := logger.Init(); err != nil {
			t.Fatalf("init logger: %v", err)
		}
		s := NewServer(":0", stubStats{})

		Convey("When /healthz is queried", func() {
			rec := httptest.NewRecorder()
			s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			So(rec.Code, ShouldEqual, http.StatusOK)
			var body map[string]string
			So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
			So(body["status"], ShouldEqual, "ok")
		})

		Convey("When /stats is queried", func() {
			rec := httptest.NewRecorder()
			s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

			So(rec.Code, ShouldEqual, http.StatusOK)
			var body map[string]interface{}
			So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
			So(body["uptime_seconds"], ShouldEqual, 42)
		})

		Convey("When a non-GET method is used", func() {
			rec := httptest.NewRecorder()
			s.handleHealth(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When the server lifecycle runs", func() {
			ctx := context.Background()
			s.Start(ctx)
			So(s.Stop(ctx), ShouldBeNil)
		})
	})
}
