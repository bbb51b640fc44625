package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sentinelguard/sentinel/internal/adapter/ws"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/ws", hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		// Proposal evaluation
		r.Post("/proposals", h.SubmitProposal)

		// Agent registry
		r.Post("/agents", h.RegisterAgent)
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{agentID}", h.GetAgent)
		r.Get("/agents/{agentID}/state", h.GetState)

		// Policies
		r.Get("/agents/{agentID}/policy", h.GetPolicy)
		r.Put("/agents/{agentID}/policy", h.UpdatePolicy)

		// Lifecycle
		r.Post("/agents/{agentID}/freeze", h.FreezeAgent)
		r.Post("/agents/{agentID}/unfreeze", h.UnfreezeAgent)
		r.Post("/agents/{agentID}/revoke", h.RevokeAgent)

		// Incidents and appeals
		r.Get("/agents/{agentID}/incidents", h.ListIncidents)
		r.Post("/agents/{agentID}/incidents/{incidentID}/appeal", h.AppealIncident)
	})
}
