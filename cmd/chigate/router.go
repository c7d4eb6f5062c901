package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nhalm/chigate"
)

// newRouter assembles the public handler: response wrapper, gate, CORS,
// then the upstream proxy (or a 404 fallback when there is none).
func newRouter(gate *chigate.Gate, upstream http.Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chigate.Handler(
		chigate.WithCanonlog(),
		chigate.WithCanonlogFields(func(r *http.Request) map[string]any {
			return map[string]any{"request_id": middleware.GetReqID(r.Context())}
		}),
	))

	// Liveness stays reachable for blocked addresses.
	r.Get("/healthz", func(_ http.ResponseWriter, r *http.Request) {
		chigate.SetResponse(r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(gate.Handler)
		if len(allowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   allowedOrigins,
				AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", chigate.DefaultCSRFHeader},
				ExposedHeaders:   []string{chigate.DefaultCSRFHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
		}

		if upstream != nil {
			r.Handle("/*", upstream)
			return
		}
		r.NotFound(func(_ http.ResponseWriter, r *http.Request) {
			chigate.SetError(r, chigate.ErrNotFound)
		})
	})

	return r
}
