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
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/jaakads/*        Ledger entries and transitions
  /api/retailers/*      Retailer directory
  /api/stock/*          Stock catalog
  /api/settlements      Billing settlements
  /api/dev/*            Database reset and demo seed (dev only)

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

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Ledger routes
		r.Route("/jaakads", func(r chi.Router) {
			r.Get("/", h.ListJaakads)
			r.Post("/", h.CreateJaakad)
			r.Get("/{id}", h.GetJaakad)
			r.Post("/{id}/returns", h.RecordReturn)
			r.Post("/{id}/convert", h.ConvertToSale)
			r.Post("/{id}/forward", h.CarryForward)
			r.Post("/{id}/close", h.ForceClose)
			r.Post("/{id}/settlements/redrive", h.RedriveSettlements)
		})

		// Retailer routes
		r.Route("/retailers", func(r chi.Router) {
			r.Get("/", h.ListRetailers)
			r.Post("/", h.CreateRetailer)
		})

		// Stock routes
		r.Route("/stock", func(r chi.Router) {
			r.Get("/", h.ListStock)
			r.Post("/", h.SaveStock)
		})

		// Settlement routes
		r.Get("/settlements", h.ListSettlements)

		// Dev routes
		r.Route("/dev", func(r chi.Router) {
			r.Post("/reset", h.ResetDatabase)
			r.Post("/seed", h.LoadDemoData)
		})
	})

	return r
}
