package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/shutter/pkg/events"
	"github.com/cuemby/shutter/pkg/handlers"
	"github.com/cuemby/shutter/pkg/log"
	"github.com/cuemby/shutter/pkg/metrics"
	"github.com/cuemby/shutter/pkg/storage"
	"github.com/cuemby/shutter/pkg/supervisor"
	"github.com/rs/zerolog"
)

// Supervisor is the part of the worker supervisor exposed over HTTP
type Supervisor interface {
	Ready() <-chan struct{}
	Workers() []supervisor.WorkerInfo
	Rejected() []supervisor.Rejection
	RetryRejected(ctx context.Context) int
}

// Pinger reports whether the store answers
type Pinger interface {
	Ping() error
}

// Options wires the server to the rest of the process. Nil collaborators
// disable the endpoints that need them.
type Options struct {
	Supervisor Supervisor
	Store      Pinger
	Status     storage.StatusStore
	Cache      handlers.SnapshotCache
	Broker     *events.Broker
}

// Server is the operational HTTP server
type Server struct {
	opts   Options
	mux    *http.ServeMux
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates the server and registers every endpoint
func NewServer(opts Options) *Server {
	s := &Server{
		opts:   opts,
		mux:    http.NewServeMux(),
		logger: log.WithComponent("api"),
	}

	s.handle("GET /health", "/health", metrics.HealthHandler())
	s.handle("GET /live", "/live", metrics.LivenessHandler())
	s.handle("GET /ready", "/ready", s.readiness().Handler())
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.handle("GET /workers", "/workers", http.HandlerFunc(s.workersHandler))
	s.handle("POST /workers/retry", "/workers/retry", http.HandlerFunc(s.retryHandler))
	s.handle("GET /cameras/{exid}/snapshot", "/cameras/{exid}/snapshot", http.HandlerFunc(s.snapshotHandler))
	s.handle("GET /cameras/{exid}/status", "/cameras/{exid}/status", http.HandlerFunc(s.statusHandler))
	s.handle("GET /ws", "/ws", http.HandlerFunc(s.streamHandler))

	return s
}

// Start listens on addr and serves in the background
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
			metrics.UpdateComponent("api", false, err.Error())
		}
	}()

	metrics.RegisterComponent("api", true, "listening on "+lis.Addr().String())
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP server listening")
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	metrics.UpdateComponent("api", false, "shutting down")
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// handle registers h under pattern, counting requests under the path label
func (s *Server) handle(pattern, path string, h http.Handler) {
	s.mux.Handle(pattern, s.instrument(path, h))
}

func (s *Server) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(path, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, path)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", timer.Duration()).
			Msg("HTTP request")
	})
}

// statusRecorder captures the response status. It keeps Hijack working so
// websocket upgrades pass through the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// WorkersResponse is the /workers payload
type WorkersResponse struct {
	Workers  []supervisor.WorkerInfo `json:"workers"`
	Rejected []supervisor.Rejection  `json:"rejected"`
}

func (s *Server) workersHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "supervisor not initialized")
		return
	}
	writeJSON(w, http.StatusOK, WorkersResponse{
		Workers:  s.opts.Supervisor.Workers(),
		Rejected: s.opts.Supervisor.Rejected(),
	})
}

func (s *Server) retryHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "supervisor not initialized")
		return
	}
	started := s.opts.Supervisor.RetryRejected(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"started": started})
}

func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Cache == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot cache disabled")
		return
	}

	exid := r.PathValue("exid")
	snap, err := s.opts.Cache.Get(r.Context(), exid)
	if errors.Is(err, handlers.ErrCacheMiss) {
		writeError(w, http.StatusNotFound, "no snapshot for camera "+exid)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("camera", exid).Msg("Failed to read snapshot cache")
		writeError(w, http.StatusInternalServerError, "failed to read snapshot cache")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(snap.Image)))
	w.Header().Set("X-Captured-At", snap.CapturedAt.UTC().Format(time.RFC3339Nano))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snap.Image)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "status store not initialized")
		return
	}

	exid := r.PathValue("exid")
	status, err := s.opts.Status.GetCameraStatus(exid)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no status for camera "+exid)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
