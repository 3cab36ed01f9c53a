package api

import (
	"context"
	"net/http"
	"time"

	"branchdown/internal/metrics"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector
	// RateLimitRPS > 0 limits mutating requests per client IP.
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string
	// Context bounds background work such as limiter cleanup.
	Context context.Context
}

// NewServer mounts the /api routes over store, plus /health and, when a
// collector is given, /metrics.
func NewServer(store Store, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{store: store, log: log, validate: validator.New()}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(tracing)
	r.Use(accessLog(log, opts.Metrics))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	mutating := func(h http.Handler) http.Handler { return h }
	if opts.RateLimitRPS > 0 {
		pool := newLimiterPool(opts.RateLimitRPS, opts.RateLimitBurst, opts.Metrics)
		ctx := opts.Context
		if ctx == nil {
			ctx = context.Background()
		}
		go pool.cleanupLoop(ctx, time.Minute)
		mutating = pool.middleware
	}

	r.Route("/api", func(r chi.Router) {
		r.With(mutating).Post("/streams", h.createStream)
		r.Get("/streams/{streamId}", h.getStream)
		r.With(mutating).Delete("/streams/{streamId}", h.deleteStream)
		r.Get("/streams/{streamId}/points", h.getStreamPoints)
		r.Get("/streams/{streamId}/branches/{branchNum}/points", h.getBranchPoints)
		r.With(mutating).Post("/points/{pointId}/down", h.addPoint)
		r.Get("/points/{pointId}/ancestors", h.getAncestors)
	})
	return r
}
