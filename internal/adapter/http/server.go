package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/seismic-locator/internal/domain"
)

// maxJobBytes bounds a synchronous locate request; three inline stations of
// twelve minutes at 100 Hz fit comfortably.
const maxJobBytes = 64 << 20

// Locater runs a single job synchronously.
type Locater interface {
	Locate(ctx context.Context, job domain.LocateJob) domain.LocateResult
}

// Server exposes health, readiness, metrics and synchronous locate endpoints.
type Server struct {
	httpServer *http.Server
	locater    Locater
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and,
// when locater is non-nil, POST /v1/locate.
func NewServer(addr string, ready sharedobs.ReadinessChecker, locater Locater, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		locater: locater,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if locater != nil {
		mux.HandleFunc("POST /v1/locate", s.handleLocate)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleLocate accepts a LocateJob body. A located event answers 200, a
// job that fails to locate answers 422 with the failed result, and a body
// that is not a valid job answers 400.
func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJobBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	job, err := domain.ParseLocateJob(domain.RawEvent{Value: body})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res := s.locater.Locate(r.Context(), job)
	s.logger.Info("locate request", "event_id", res.EventID, "status", res.Status)
	if res.Status != domain.StatusLocated {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
