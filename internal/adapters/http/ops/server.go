// Package ops serves the operational HTTP surface: health, runtime
// stats, and prometheus metrics. It carries no business API; all
// pipeline traffic flows through the message channel.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/sightline/pkg/logger"
	"github.com/okian/sightline/pkg/metrics"
)

// StatsProvider exposes a snapshot of service counters for /stats.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Server is the operational HTTP listener.
type Server struct {
	addr  string
	stats StatsProvider
	srv   *http.Server
	log   logger.Logger
}

// NewServer creates an ops server bound to addr.
func NewServer(addr string, stats StatsProvider) *Server {
	return &Server{
		addr:  addr,
		stats: stats,
		log:   logger.Named("ops"),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.log.Info(ctx, "ops server listening", logger.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(ctx, "ops server stopped", logger.Error(err))
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if s.stats == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.stats.GetStats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
