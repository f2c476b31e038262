// Package api exposes the query facade over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/middleware"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/service/query"
)

// Handler serves the HTTP API on top of the query facade.
type Handler struct {
	svc    *query.Service
	logger *slog.Logger
}

// NewHandler constructs the HTTP handler.
func NewHandler(svc *query.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RouterConfig carries the middleware knobs main() controls.
type RouterConfig struct {
	AllowedOrigins    []string
	RequestsPerSecond float64
	Burst             int
}

// Router builds the chi router with the standard middleware stack.
func (h *Handler) Router(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		}))
	}
	if cfg.RequestsPerSecond > 0 {
		r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}))
	}

	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", h.executeQuery)
		r.Post("/register", h.registerFile)
		r.Post("/query/stream", h.streamQuery)
		r.Post("/query/{queryID}/cancel", h.cancelQuery)
		r.Get("/statistics", h.statistics)
		r.Get("/queries/slow", h.slowQueries)
		r.Get("/queries/recent", h.recentQueries)
		r.Get("/history", h.listHistory)
		r.Delete("/cache", h.clearCache)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
