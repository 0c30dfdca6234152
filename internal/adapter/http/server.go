package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunStatus is what the ops endpoints read from the batch runner.
type RunStatus interface {
	// CheckReadiness returns nil once a batch run has completed.
	CheckReadiness(ctx context.Context) error
	LastRun() (domain.RunSummary, bool)
}

// Config configures the ops server.
type Config struct {
	Addr string
	// Gatherer backs /metrics. Nil serves prometheus.DefaultGatherer.
	Gatherer        prometheus.Gatherer
	ShutdownTimeout time.Duration
}

// Server exposes the batch runner's health, readiness, last run and
// metrics while serve mode is running.
type Server struct {
	httpServer      *http.Server
	status          RunStatus
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewServer creates the ops server. Routes:
//
//	GET /healthz    process is up
//	GET /readyz     503 until the first batch run completes
//	GET /runs/last  summary of the latest run, 404 before any run
//	GET /metrics    Prometheus exposition of cfg.Gatherer
func NewServer(cfg Config, status RunStatus, logger *slog.Logger) *Server {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		status:          status,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /runs/last", s.handleLastRun)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Run listens until ctx is cancelled, then drains connections within the
// configured shutdown timeout. A listen failure is returned at once.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("ops server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP routes a single request, for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type readiness struct {
	Status  string     `json:"status"`
	Error   string     `json:"error,omitempty"`
	RunID   string     `json:"last_run_id,omitempty"`
	RunAt   *time.Time `json:"last_run_started_at,omitempty"`
	Updated int        `json:"last_run_updated"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := readiness{Status: "ready"}
	if last, ok := s.status.LastRun(); ok {
		body.RunID = last.RunID
		body.RunAt = &last.StartedAt
		body.Updated = last.Updated
	}
	if err := s.status.CheckReadiness(ctx); err != nil {
		body.Status = "not ready"
		body.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLastRun(w http.ResponseWriter, _ *http.Request) {
	summary, ok := s.status.LastRun()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no batch run yet"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}
