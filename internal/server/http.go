package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rickgao/eventrouter/internal/api"
	"github.com/rickgao/eventrouter/internal/connection"
	"github.com/rickgao/eventrouter/internal/health"
	"github.com/rickgao/eventrouter/internal/version"
)

// Handler serves agent connections on /ws.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Get("/ws", s.conns.ServeHTTP)
	return r
}

// StatusHandler serves the status API.
func (s *Server) StatusHandler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger.With("component", "status")))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/version", handleVersion)
	r.Get("/metrics", s.handleMetrics)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.monitor.Snapshot()

	status := http.StatusOK
	if snap.Status == health.StatusOverloaded {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	conns := s.conns.Connections()
	if conns == nil {
		conns = []connection.ConnStats{}
	}
	writeJSON(w, http.StatusOK, api.Stats{
		Snapshot:    s.monitor.Snapshot(),
		Registry:    s.registry.Stats(),
		Connections: conns,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	points, err := s.exporter.Collect(r.Context())
	if err != nil {
		s.logger.Warn("metrics collection failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// requestLogger logs each status request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Debug("status request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
