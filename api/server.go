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
  /api/projects/*   Projects and their phase timelines
  /api/entities/*   Uniform versioned access to every entity kind
  /api/reset        Database reset (dev only)

SECURITY NOTE:
  No authentication middleware currently. The X-Actor-ID header is trusted
  as-is and used only for conflict audit events.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Project routes
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Post("/", h.CreateProject)
			r.Get("/{id}", h.GetProject)
			r.Put("/{id}", h.UpdateProject)
			r.Delete("/{id}", h.DeleteProject)

			// Phase routes are scoped to their project: a phase set only
			// means anything relative to its project's date range.
			r.Route("/{id}/phases", func(r chi.Router) {
				r.Get("/", h.ListPhases)
				r.Put("/", h.ReplacePhases)
				r.Post("/validate", h.ValidatePhases)
				r.Get("/at", h.PhaseForDate)
				r.Delete("/{phaseID}", h.DeletePhase)
				r.Get("/{phaseID}/assignments", h.PhaseAssignments)
			})
		})

		// Database reset (dev only)
		r.Post("/reset", h.ResetDatabase)

		// Generic versioned entity routes
		r.Route("/entities/{kind}", func(r chi.Router) {
			r.Get("/", h.ListEntities)
			r.Post("/", h.CreateEntity)
			r.Post("/bulk", h.BulkUpdateEntities)
			r.Get("/{id}", h.GetEntity)
			r.Put("/{id}", h.UpdateEntity)
			r.Delete("/{id}", h.DeleteEntity)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service":  "portfolio-engine",
			"projects": "/api/projects",
			"entities": "/api/entities/{kind}",
		})
	})

	return r
}
