package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/clock/system"
	"github.com/ltphuoc/media-scraper/internal/media"
	"github.com/ltphuoc/media-scraper/internal/metrics"
	"github.com/ltphuoc/media-scraper/internal/monitor"
)

// Pinger is a dependency the health endpoint checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config controls HTTP behavior.
type Config struct {
	CORSOrigins    []string
	BasicUser      string
	BasicPass      string
	RequestTimeout time.Duration
	// JobOptions is the retry and retention policy attached to new jobs.
	JobOptions media.JobOptions
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Queue   media.JobQueue
	Media   media.Lister
	Monitor *monitor.Monitor
	// Database and Redis are checked by /health; nil entries are skipped.
	Database Pinger
	Redis    Pinger
	Clock    media.Clock
}

// Server wires HTTP handlers to the queue and stores.
type Server struct {
	router chi.Router
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Monitor == nil {
		deps.Monitor = monitor.New(deps.Queue)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Use(deps.Monitor.Middleware)
	r.Use(metrics.Middleware)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(basicAuthMiddleware(cfg.BasicUser, cfg.BasicPass))
		r.Post("/scrape", s.submitScrape)
		r.Get("/scrape/{id}", s.getJob)
		r.Get("/media", s.listMedia)
		r.Get("/monitor", s.monitorSnapshot)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not found")
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}
