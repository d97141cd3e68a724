package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/mediaflow/internal/auth"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// realtime serves GET /ws and may be nil.
func NewRouter(h *Handlers, realtime http.Handler, verifier auth.Verifier, logger *slog.Logger, cfg Config) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		MetricsMiddleware("/metrics", "/health"),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "HEAD", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Range", "X-File-Name"},
			ExposedHeaders:   []string{"Accept-Ranges", "Content-Length", "Content-Range"},
			AllowCredentials: false,
			MaxAge:           86400,
		}),
	)

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if realtime != nil {
		r.Method(http.MethodGet, "/ws", realtime)
	}

	r.Get("/media/stream/{id}", h.StreamMedia)
	r.Head("/media/stream/{id}", h.StreamMedia)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(verifier, logger))

		r.Get("/media", h.ListMedia)
		r.Get("/media/{id}", h.GetMedia)
		r.With(RequireRole(auth.RoleEditor, auth.RoleAdmin)).Post("/media", h.UploadMedia)
		r.With(RequireRole(auth.RoleEditor, auth.RoleAdmin)).Delete("/media/{id}", h.DeleteMedia)
		r.With(RequireRole(auth.RoleAdmin)).Patch("/media/{id}/review", h.ReviewMedia)
	})

	return r
}
