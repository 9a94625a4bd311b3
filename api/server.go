/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Connects URLs to handlers and installs the middleware stack.

MIDDLEWARE STACK:
  1. RealIP, RequestID: client address and a per-request id
  2. requestLogger:     one slog record per request
  3. Recoverer:         panic becomes a 500
  4. CORS:              admin UI on another origin
  5. httprate:          per-IP limit on mutating routes only

ROUTE GROUPS:
  /healthz        Store ping
  /metrics        Prometheus scrape endpoint
  /api/*          Admin API (see handlers.go)

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// RouterOptions configure NewRouter.
type RouterOptions struct {
	AllowedOrigins []string

	// RateLimit is the number of mutating requests per minute per IP.
	// Zero disables limiting.
	RateLimit int

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	limited := func(next http.Handler) http.Handler { return next }
	if opts.RateLimit > 0 {
		limited = httprate.Limit(opts.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
	}

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/schedule", h.GetSchedule)
		r.With(limited).Post("/reconcile", h.ReconcileAll)

		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/runs", h.ListRuns)
			r.Get("/status", h.SchedulerStatus)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetEmployee)
				r.With(limited).Put("/", h.UpsertEmployee)
				r.Get("/cycles", h.GetCycles)
				r.Get("/balance", h.GetBalance)
				r.Get("/preview", h.Preview)
				r.With(limited).Post("/reconcile", h.ReconcileEmployee)
				r.With(limited).Post("/reset", h.ResetEmployee)
				r.With(limited).Put("/requests/{requestID}", h.UpsertRequest)
				r.With(limited).Delete("/requests/{requestID}", h.DeleteRequest)
			})
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.With(limited).Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs method, path, status and latency with slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
