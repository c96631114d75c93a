package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/estatedesk/internal/backoffice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *backoffice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	ah := NewAttachmentHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Entities CRUD.
	r.Route("/entities/{kind}", func(r chi.Router) {
		r.Get("/", h.ListEntities)
		r.Post("/", h.CreateEntity)
		r.Get("/{id}", h.GetEntity)
		r.Put("/{id}", h.UpdateEntity)
		r.Delete("/{id}", h.DeleteEntity)
	})

	// Relations.
	r.Get("/relations", h.ListRelations)
	r.Get("/relations/{relation}/{source}", h.FetchRelated)
	r.Put("/relations/{relation}/{source}/{target}", h.AssignLink)
	r.Delete("/relations/{relation}/{source}/{target}", h.RemoveLink)
	r.Get("/referrers/{relation}/{target}", h.FetchReferrers)

	// Attachments upload (auth-protected).
	r.Post("/attachments", ah.Upload)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
