package expense

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the expense endpoints. Callers are expected to
// wrap the router with the authentication middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/expenses", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Patch("/{id}/status", h.UpdateStatus)
		r.Post("/{id}/line-items", h.AddLineItem)
		r.Delete("/line-items/{id}", h.DeleteLineItem)
		r.Get("/{id}/approvals", h.ListApprovals)
	})
}
