// Package server exposes the manual batch trigger, a health check and
// Prometheus metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brensch/jusosync/internal/scheduler"
	"github.com/brensch/jusosync/internal/util"
)

// Runner runs one full recovery pass.
type Runner interface {
	Run(ctx context.Context) (scheduler.Summary, error)
}

// Marker reports the last successful date without side effects.
type Marker interface {
	Peek(today time.Time) time.Time
}

// Options configure a Server. Progress, Gatherer and Clock are optional.
type Options struct {
	Addr     string
	Runner   Runner
	Progress Marker
	Gatherer prometheus.Gatherer
	Location *time.Location
	Clock    func() time.Time
}

type Server struct {
	opts   Options
	server *http.Server
	logger *slog.Logger
}

// RunResponse acknowledges a manual trigger. It carries the run outcome but
// never per-dataset detail; that lives in logs, metrics and the event log.
type RunResponse struct {
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	LastSuccess string `json:"last_success,omitempty"`
}

func New(opts Options, logger *slog.Logger) *Server {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = util.KSTLocation()
	}
	s := &Server{opts: opts, logger: logger}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/api/batch/run-update", s.handleRunUpdate)
	r.Get("/api/health", s.handleHealth)
	if s.opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening.", slog.String("addr", s.opts.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("Stopping HTTP server.")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleRunUpdate(w http.ResponseWriter, r *http.Request) {
	l := s.logger.With(slog.String("request_id", middleware.GetReqID(r.Context())))
	l.Info("Manual batch run requested.")

	// The run outlives a dropped client connection.
	sum, err := s.opts.Runner.Run(context.WithoutCancel(r.Context()))
	if errors.Is(err, scheduler.ErrRunInProgress) {
		s.writeJSON(w, http.StatusConflict, RunResponse{Message: "a batch run is already in progress"})
		return
	}
	if err != nil {
		l.Warn("Manual batch run finished with errors.", "error", err, slog.String("run_id", sum.RunID))
	}
	s.writeJSON(w, http.StatusOK, RunResponse{Message: "batch run completed", RunID: sum.RunID, Outcome: sum.Outcome})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	if s.opts.Progress != nil {
		today := util.DateOf(s.opts.Clock(), s.opts.Location)
		resp.LastSuccess = util.FormatDay(s.opts.Progress.Peek(today))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response.", "error", err)
	}
}
