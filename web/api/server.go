// Package api serves the netquery HTTP API: job submission, progress
// streams, cancellation and artifact downloads.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Diegomcha/netquery/internal/artifact"
	"github.com/Diegomcha/netquery/internal/observability"
	"github.com/Diegomcha/netquery/internal/orchestrator"
	"github.com/Diegomcha/netquery/internal/stream"
)

// maxRequestBodySize limits request body to 8MB; inventories travel inline.
const maxRequestBodySize = 8 << 20

// Config holds the server's dependencies
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	// Store serves artifacts after their job left the registry. Optional.
	Store artifact.Store
	// DeviceTypes is what /api/device-types reports and requests may name.
	DeviceTypes       []string
	DefaultDeviceType string
	DefaultUsername   string
	JobTTL            time.Duration
	MaxJobs           int
	Metrics           *observability.Metrics
	// MetricsHandler is mounted on /metrics when set.
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	orch              *orchestrator.Orchestrator
	store             artifact.Store
	deviceTypes       []string
	defaultDeviceType string
	defaultUsername   string
	metrics           *observability.Metrics
	metricsHandler    http.Handler
	logger            *slog.Logger

	jobs   *registry
	ws     *stream.WebSocket
	router chi.Router
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:              cfg.Orchestrator,
		store:             cfg.Store,
		deviceTypes:       cfg.DeviceTypes,
		defaultDeviceType: cfg.DefaultDeviceType,
		defaultUsername:   cfg.DefaultUsername,
		metrics:           cfg.Metrics,
		metricsHandler:    cfg.MetricsHandler,
		logger:            logger,
		jobs:              newRegistry(cfg.Orchestrator, cfg.MaxJobs, cfg.JobTTL, logger),
		ws:                stream.NewWebSocket(stream.WebSocketConfig{}, logger),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RecoveryMiddleware(s.logger))
	r.Use(LoggingMiddleware(s.logger))
	if s.metrics != nil {
		r.Use(MetricsMiddleware(s.metrics))
	}

	r.Get("/healthz", s.healthz)
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/device-types", s.listDeviceTypes)
		r.Post("/jobs", s.createJob)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Get("/stream", s.streamSSE)
			r.Get("/ws", s.streamWebSocket)
			r.Post("/stop", s.stopJob)
			r.Get("/artifact", s.jobArtifact)
		})
		r.Get("/artifacts/{name}", s.namedArtifact)
	})

	s.router = r
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
