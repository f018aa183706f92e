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
  4. CORS:       Cross-origin requests for partner dashboards

ROUTE GROUPS:
  /api/partners/*   Partner registration, referrals, dashboards, payouts
  /api/payments/*   Payment event ingestion
  /api/tax/*        Withholding previews
  /api/levels       Tier configuration
  /api/audit        Commission batch audit
  /api/admin/*      Lifecycle transitions (must be gated in production)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
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

	r.Route("/api", func(r chi.Router) {
		// Partner routes
		r.Route("/partners", func(r chi.Router) {
			r.Get("/", h.ListPartners)
			r.Post("/", h.CreatePartner)
			r.Post("/attach", h.AttachReferral)
			r.Get("/{id}", h.GetPartner)
			r.Get("/{id}/dashboard", h.GetDashboard)
			r.Get("/{id}/tree", h.GetTree)
			r.Get("/{id}/level", h.GetLevel)
			r.Get("/{id}/commissions", h.ListCommissions)
			r.Get("/{id}/balance", h.GetBalance)
			r.Post("/{id}/withdrawals", h.CreateWithdrawal)
			r.Get("/{id}/withdrawals", h.ListWithdrawals)
		})

		// Payment event ingestion
		r.Route("/payments", func(r chi.Router) {
			r.Post("/completed", h.TransactionCompleted)
		})

		// Tax routes
		r.Route("/tax", func(r chi.Router) {
			r.Post("/preview", h.PreviewTax)
		})

		// Tier configuration
		r.Get("/levels", h.ListLevels)

		// Audit routes
		r.Get("/audit", h.QueryAudit)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Put("/commissions/{id}/status", h.UpdateCommissionStatus)
			r.Put("/withdrawals/{id}/status", h.UpdateWithdrawalStatus)
		})
	})

	return r
}
