// Package app assembles the HTTP router and server lifecycle.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	httpserver "github.com/kThendral/OptimizeHub-sub000/internal/adapter/httpserver"
	"github.com/kThendral/OptimizeHub-sub000/internal/adapter/observability"
	"github.com/kThendral/OptimizeHub-sub000/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Mutating endpoints: rate limited, bounded request duration. The custom
	// endpoint runs a container synchronously, so its deadline follows the
	// sandbox wall-clock limit instead of the generic 30s.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.With(httpserver.TimeoutMiddleware(30 * time.Second)).
			Post("/async/optimize", srv.SubmitHandler())
		wr.With(httpserver.TimeoutMiddleware(cfg.SandboxTimeout + 30*time.Second)).
			Post("/api/optimize/custom", srv.CustomHandler())
	})

	// Read-only endpoints. The stream stays outside TimeoutMiddleware:
	// http.TimeoutHandler buffers writes, which breaks event streaming.
	r.Get("/async/tasks/{id}", srv.ResultHandler())
	r.Get("/api/async/tasks/{id}/stream", srv.StreamHandler())

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return otelhttp.NewHandler(httpserver.SecurityHeaders(r), "http.server")
}
