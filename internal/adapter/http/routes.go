package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, wsHandler http.HandlerFunc) {
	r.Get("/healthz", h.Health)
	r.Get("/ws", wsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Content workflows
		r.Post("/workflows", h.CreateWorkflow)
		r.Get("/workflows/{id}", h.GetWorkflowStatus)
		r.Post("/workflows/{id}/cancel", h.CancelWorkflow)

		// Scheduled posts
		r.Post("/posts", h.CreatePost)
		r.Get("/posts", h.ListPosts)
		r.Get("/posts/{id}", h.GetPost)
		r.Post("/posts/{id}/cancel", h.CancelPost)

		// Auto-posting rules
		r.Post("/rules", h.CreateRule)
		r.Get("/rules", h.ListRules)
		r.Get("/rules/{id}", h.GetRule)
		r.Post("/rules/{id}/active", h.SetRuleActive)

		// Per-user agent registries
		r.Get("/users/{id}/agents", h.ListAgents)
		r.Post("/users/{id}/agents/refresh", h.RefreshAgents)
	})
}
