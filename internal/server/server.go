// Package server exposes the search and population pipeline over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/dupe-finder/internal/dupes"
	"github.com/sells-group/dupe-finder/internal/jobs"
	"github.com/sells-group/dupe-finder/internal/model"
	"github.com/sells-group/dupe-finder/internal/resilience"
)

// Searcher resolves searches and re-runs detailed analysis.
type Searcher interface {
	Search(ctx context.Context, text string) (*dupes.SearchResult, error)
	SearchImage(ctx context.Context, data []byte, mimeType string) (*dupes.SearchResult, error)
	AnalyzeExisting(ctx context.Context, req model.JobRequest) error
}

// JobRunner runs one population job synchronously.
type JobRunner interface {
	Run(ctx context.Context, kind jobs.Kind, req model.JobRequest) error
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerStates reports collaborator circuit breaker states.
type BreakerStates interface {
	States() map[string]resilience.CircuitState
}

// Config tunes the HTTP surface.
type Config struct {
	AllowedOrigins []string
	MaxBodyBytes   int64
	MaxImageBytes  int64
	SearchTimeout  time.Duration
	Breakers       BreakerStates
}

type handler struct {
	search Searcher
	jobs   JobRunner
	health Pinger
	cfg    Config
}

// New builds the router.
func New(search Searcher, runner JobRunner, health Pinger, cfg Config) http.Handler {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 10 << 20
	}
	h := &handler{search: search, jobs: runner, health: health, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"authorization", "x-client-info", "apikey", "content-type"},
		MaxAge:         300,
	}))

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, failure{Error: "method not allowed"})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, failure{Error: "not found"})
	})

	r.Get("/health", h.healthCheck)
	r.Post("/search-dupes", h.searchDupes)
	r.Post("/search-dupes-image", h.searchDupesImage)
	r.Post("/process-detailed-analysis", h.processDetailedAnalysis)
	for _, kind := range jobs.Kinds {
		r.Post("/populate-"+string(kind), h.populate(kind))
	}
	return r
}

// requestLogger logs one line per request, leveled by status.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		switch status := ww.Status(); {
		case status >= 500:
			zap.L().Error("http request", fields...)
		case status >= 400:
			zap.L().Warn("http request", fields...)
		default:
			zap.L().Info("http request", fields...)
		}
	})
}
