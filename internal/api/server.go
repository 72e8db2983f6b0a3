// Package api serves the status of a supervised backend over a Unix socket.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/benaskins/sidecar/internal/logbuf"
	"github.com/benaskins/sidecar/internal/supervisor"
)

const defaultLogLines = 50

// Backend is the session the API reports on. *supervisor.Handle
// implements it.
type Backend interface {
	Status() supervisor.Status
	Logs(n int) []logbuf.Entry
}

// Server serves the sidecar REST API.
type Server struct {
	backend Backend
	server  *http.Server
	logger  *slog.Logger
}

// NewServer creates an API server for b. A nil gatherer disables /metrics.
func NewServer(b Backend, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		backend: b,
		logger:  slog.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", s.status)
	mux.HandleFunc("GET /v1/logs", s.logs)
	mux.HandleFunc("GET /v1/ready", s.ready)
	mux.HandleFunc("GET /v1/health", s.health)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{Handler: mux}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address, used for /metrics scraping.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status())
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be a non-negative integer"})
			return
		}
		n = parsed
	}

	entries := s.backend.Logs(n)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ready answers 200 once the backend is considered ready and 503 before,
// so scripts can poll it.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	st := s.backend.Status()
	code := http.StatusServiceUnavailable
	if st.Ready {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{"ready": st.Ready, "source": st.Source})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
