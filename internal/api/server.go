// Package api serves the local status API: job history, live migration
// progress and target health, for dashboards and scripts.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"github.com/graphport/graphport/internal/api/handlers"
	apimiddleware "github.com/graphport/graphport/internal/api/middleware"
	"github.com/graphport/graphport/internal/domain/job"
	"github.com/graphport/graphport/internal/pkg/logger"
)

// Config holds the server listen settings.
type Config struct {
	Host    string
	Port    int
	Verbose bool
	Version string
}

// Server is the status API server.
type Server struct {
	config     Config
	router     *chi.Mux
	httpServer *http.Server

	registry       *handlers.Registry
	jobsHandler    *handlers.JobsHandler
	targetHandler  *handlers.TargetHandler
	progressStream *handlers.ProgressStream
}

// NewServer assembles the server. querier may be nil when no deployment
// target is configured; the target routes then report 503.
func NewServer(cfg Config, store *job.Store, registry *handlers.Registry, querier handlers.HealthQuerier) *Server {
	if registry == nil {
		registry = handlers.NewRegistry()
	}

	s := &Server{
		config:         cfg,
		registry:       registry,
		jobsHandler:    handlers.NewJobsHandler(store, registry),
		targetHandler:  handlers.NewTargetHandler(querier),
		progressStream: handlers.NewProgressStream(registry, store),
	}
	s.setupRoutes()
	return s
}

// Registry returns the live job registry so an in-process orchestrator can
// publish running jobs.
func (s *Server) Registry() *handlers.Registry {
	return s.registry
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(apimiddleware.RequestLogger(s.config.Verbose))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			render.JSON(w, r, map[string]string{
				"status":  "ok",
				"version": "v1",
			})
		})

		s.jobsHandler.RegisterRoutes(r)
		s.targetHandler.RegisterRoutes(r)

		r.Get("/ws/jobs/{jobID}", s.progressStream.Handle)
	})

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":  "healthy",
		"version": s.config.Version,
	})
}

// Start blocks serving HTTP until Shutdown or a listen error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	logger.Info("starting status API", "host", s.config.Host, "port", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	logger.Info("shutting down status API")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
