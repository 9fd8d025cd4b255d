/**
 * @description
 * HTTP router setup for the loan-accrual-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the accrual routes. User
// routes sit behind Clerk JWT auth and the same routes are mounted under
// /internal for server-to-server calls.
func NewRouter(h *Handler, jwksURL string, internalKey string, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Loan accrual service is healthy"))
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/internal/loans/{loanID}", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Get("/accrual", h.handleGetAccrual)
		r.Put("/watch", h.handleWatch)
		r.Delete("/watch", h.handleUnwatch)
	})

	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(jwksURL))
		r.Get("/loans/{loanID}/accrual", h.handleGetAccrual)
		r.Put("/loans/{loanID}/watch", h.handleWatch)
		r.Delete("/loans/{loanID}/watch", h.handleUnwatch)
	})

	return r
}
