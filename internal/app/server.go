package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markdave123-py/knosi/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/knosi/internal/api/middlewares"
	"github.com/markdave123-py/knosi/internal/config"
	"github.com/markdave123-py/knosi/internal/core/progress"
	"github.com/markdave123-py/knosi/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// Deps are the collaborators the routes are served from.
type Deps struct {
	Auth      *appMiddleware.Authenticator
	Ingestor  handlers.Ingestor
	Documents *services.DocumentService
	Retrieval *services.RetrievalService
	Hub       *progress.Hub
	Gatherer  prometheus.Gatherer
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	docHandler := handlers.NewDocumentHandler(deps.Ingestor, deps.Documents, cfg.MaxFileSizeBytes(), log)
	chatHandler := handlers.NewChatHandler(deps.Retrieval, log)
	progressHandler := handlers.NewProgressHandler(deps.Hub, cfg.ProgressKeepalive, log)
	statusHandler := handlers.NewStatusHandler(deps.Documents, log)
	tokenHandler := handlers.NewTokenHandler(deps.Auth, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(log.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: !slices.Contains(cfg.CorsOrigins, "*"),
	}))

	r.Get("/", statusHandler.Root)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Get("/status", statusHandler.Status)
		api.Post("/token", tokenHandler.Issue)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(deps.Auth.Middleware)

			// long-running: uploads wait for ingestion, progress and downloads stream
			protected.Post("/upload", docHandler.Upload)
			protected.Get("/upload/{id}/progress", progressHandler.Stream)
			protected.Get("/documents/*", docHandler.Download)

			protected.Group(func(quick chi.Router) {
				quick.Use(middleware.Timeout(60 * time.Second))
				quick.Get("/documents", docHandler.List)
				quick.Delete("/documents/*", docHandler.Delete)
				quick.Post("/chat", chatHandler.Chat)
				quick.Get("/search", chatHandler.Search)
			})
		})
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv, log: log}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
