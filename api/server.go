/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for back-office tooling
  5. Metrics:    Request counters and latency histograms

ROUTE GROUPS:
  /api/partner/*   Partner request admission and tracking
  /api/queue/*     Queue inspection and manual drains
  /api/accounts/*  Ledger reads and rebuilds
  /api/tenants/*   Per-hotel queue configuration
  /healthz         Liveness probe
  /metrics         Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.
  Deployments front this with the platform gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(requestMetrics)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Partner request admission
		r.Route("/partner", func(r chi.Router) {
			r.Post("/requests", h.EnqueuePartnerRequest)
			r.Get("/requests/{ref}", h.GetPartnerRequest)
		})

		// Queue inspection and operations
		r.Route("/queue", func(r chi.Router) {
			r.Get("/items", h.ListQueueItems)
			r.Get("/log", h.ListQueueLog)
			r.Post("/run", h.RunQueue)
		})

		// Ledger reads
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{customerId}/balance", h.GetBalance)
			r.Get("/{customerId}/transactions", h.GetTransactions)
			r.Post("/{accountId}/rebuild", h.RebuildAccount)
		})

		// Tenant configuration
		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", h.ListTenants)
			r.Put("/{hotelId}", h.SaveTenant)
		})
	})

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
