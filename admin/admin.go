// Package admin is the node's side-channel HTTP surface: a health check
// and a Prometheus scrape endpoint, separate from the MMTP relay port.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether the node considers itself healthy, and a
// short reason when it doesn't (e.g. "server list expired").
type HealthChecker interface {
	Healthy() (ok bool, reason string)
}

// Server is the admin HTTP server: /health and /metrics only, grounded on
// montana2ab-GhostTalketnodes' cmd/ghostnodes mux+promhttp route wiring.
// Unlike that teacher, it carries no API routes of its own — spec.md's
// Non-goals exclude a stats-rotation or control API at the core level.
type Server struct {
	Addr     string
	Registry *prometheus.Registry
	Health   HealthChecker
	Version  string
	Logger   *slog.Logger

	httpServer *http.Server
}

// ListenAndServe starts the admin HTTP server and blocks until it is
// closed, matching net/http.Server's own ListenAndServe contract so a
// caller can treat http.ErrServerClosed as a clean shutdown.
func (s *Server) ListenAndServe() error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	gatherer := prometheus.Gatherer(prometheus.DefaultGatherer)
	if s.Registry != nil {
		gatherer = s.Registry
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         s.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.Logger.Info("admin server listening", "addr", s.Addr)
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln instead of opening its own listener,
// for tests that need to know the bound port before serving begins.
func (s *Server) Serve(ln net.Listener) error {
	s.Addr = ln.Addr().String()
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	gatherer := prometheus.Gatherer(prometheus.DefaultGatherer)
	if s.Registry != nil {
		gatherer = s.Registry
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.httpServer = &http.Server{Handler: r}
	s.Logger.Info("admin server listening", "addr", s.Addr)
	return s.httpServer.Serve(ln)
}

// Close shuts the admin server down.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok, reason := true, ""
	if s.Health != nil {
		ok, reason = s.Health.Healthy()
	}
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  healthStatus(ok),
		"reason":  reason,
		"version": s.Version,
	})
}

func healthStatus(ok bool) string {
	if ok {
		return "healthy"
	}
	return "unhealthy"
}
