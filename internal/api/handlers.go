package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/backoffice"
	"github.com/starford/estatedesk/internal/checksum"
	"github.com/starford/estatedesk/internal/models"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *backoffice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *backoffice.Service) *Handler {
	return &Handler{svc: svc}
}

func readBody(w http.ResponseWriter, r *http.Request, service string, op apperr.Op) ([]byte, *apperr.ServiceError) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperr.Normalize(service, op, fmt.Errorf("read body: %v: %w", err, apperr.ErrValidation))
	}
	return body, nil
}

func writeEntity(w http.ResponseWriter, status int, res apperr.Result[models.Entity]) {
	if e, ok := res.Get(); ok {
		w.Header().Set("ETag", checksum.ETag(e.Checksum))
	}
	respond(w, status, res)
}

// ListEntities handles GET /api/entities/{kind}.
//
//	@Summary		List entities of a kind, or search them with q
//	@Tags			entities
//	@Produce		json
//	@Param			kind	path		string	true	"Entity kind"
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			sort	query		string	false	"Sort field"	Enums(label, created_at, updated_at)
//	@Param			q		query		string	false	"Search query"
//	@Success		200		{object}	EntityListResponse
//	@Security		BearerAuth
//	@Router			/entities/{kind} [get]
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	if query := q.Get("q"); query != "" {
		res := h.svc.Search(r.Context(), kind, query, limit)
		hits, ok := res.Get()
		if !ok {
			se, _ := res.Failure()
			writeServiceError(w, se)
			return
		}
		writeJSON(w, http.StatusOK, SearchResponse{Results: hits})
		return
	}
	respond(w, http.StatusOK, h.svc.List(r.Context(), kind, limit, offset, q.Get("sort")))
}

// CreateEntity handles POST /api/entities/{kind}.
//
//	@Summary		Create an entity
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			kind	path		string	true	"Entity kind"
//	@Success		201		{object}	Entity
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{kind} [post]
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	body, se := readBody(w, r, backoffice.ServiceName(models.Kind(kind)), apperr.OpCreate)
	if se != nil {
		writeServiceError(w, se)
		return
	}
	writeEntity(w, http.StatusCreated, h.svc.Create(r.Context(), kind, body))
}

// GetEntity handles GET /api/entities/{kind}/{id}.
//
//	@Summary		Get a single entity
//	@Tags			entities
//	@Produce		json
//	@Param			kind	path		string	true	"Entity kind"
//	@Param			id		path		string	true	"Entity id"
//	@Success		200		{object}	Entity
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{kind}/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	writeEntity(w, http.StatusOK, h.svc.Get(r.Context(), chi.URLParam(r, "kind"), chi.URLParam(r, "id")))
}

// UpdateEntity handles PUT /api/entities/{kind}/{id}.
//
//	@Summary		Update an entity with optimistic concurrency
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			kind		path	string	true	"Entity kind"
//	@Param			id			path	string	true	"Entity id"
//	@Param			If-Match	header	string	false	"Checksum for optimistic concurrency"
//	@Success		200		{object}	Entity
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{kind}/{id} [put]
func (h *Handler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	body, se := readBody(w, r, backoffice.ServiceName(models.Kind(kind)), apperr.OpUpdate)
	if se != nil {
		writeServiceError(w, se)
		return
	}
	res := h.svc.Update(r.Context(), kind, chi.URLParam(r, "id"), body, r.Header.Get("If-Match"))
	writeEntity(w, http.StatusOK, res)
}

// DeleteEntity handles DELETE /api/entities/{kind}/{id}.
//
//	@Summary		Delete an entity and its links
//	@Tags			entities
//	@Param			kind	path	string	true	"Entity kind"
//	@Param			id		path	string	true	"Entity id"
//	@Success		204		"Entity deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{kind}/{id} [delete]
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	res := h.svc.Delete(r.Context(), chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if se, failed := res.Failure(); failed {
		writeServiceError(w, se)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRelations handles GET /api/relations.
//
//	@Summary		List linkable relations
//	@Tags			relations
//	@Produce		json
//	@Success		200	{object}	RelationListResponse
//	@Security		BearerAuth
//	@Router			/relations [get]
func (h *Handler) ListRelations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RelationListResponse{Relations: h.svc.Relations()})
}

// FetchRelated handles GET /api/relations/{relation}/{source}.
//
//	@Summary		List the targets linked to a source
//	@Tags			relations
//	@Produce		json
//	@Param			relation	path		string	true	"Relation name"
//	@Param			source		path		string	true	"Source entity id"
//	@Success		200			{object}	RelatedResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/relations/{relation}/{source} [get]
func (h *Handler) FetchRelated(w http.ResponseWriter, r *http.Request) {
	relation, source := chi.URLParam(r, "relation"), chi.URLParam(r, "source")
	res := h.svc.FetchRelated(r.Context(), relation, source)
	items, ok := res.Get()
	if !ok {
		se, _ := res.Failure()
		writeServiceError(w, se)
		return
	}
	writeJSON(w, http.StatusOK, RelatedResponse{Relation: relation, Source: source, Items: items})
}

// FetchReferrers handles GET /api/referrers/{relation}/{target}.
//
//	@Summary		List the sources linking to a target
//	@Tags			relations
//	@Produce		json
//	@Param			relation	path		string	true	"Relation name"
//	@Param			target		path		string	true	"Target entity id"
//	@Success		200			{object}	ReferrersResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/referrers/{relation}/{target} [get]
func (h *Handler) FetchReferrers(w http.ResponseWriter, r *http.Request) {
	relation, target := chi.URLParam(r, "relation"), chi.URLParam(r, "target")
	res := h.svc.Referrers(r.Context(), relation, target)
	items, ok := res.Get()
	if !ok {
		se, _ := res.Failure()
		writeServiceError(w, se)
		return
	}
	writeJSON(w, http.StatusOK, ReferrersResponse{Relation: relation, Target: target, Items: items})
}

// AssignLink handles PUT /api/relations/{relation}/{source}/{target}.
//
//	@Summary		Link a target to a source (idempotent)
//	@Tags			relations
//	@Param			relation	path	string	true	"Relation name"
//	@Param			source		path	string	true	"Source entity id"
//	@Param			target		path	string	true	"Target entity id"
//	@Success		204			"Linked"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/relations/{relation}/{source}/{target} [put]
func (h *Handler) AssignLink(w http.ResponseWriter, r *http.Request) {
	res := h.svc.Assign(r.Context(), chi.URLParam(r, "relation"), chi.URLParam(r, "source"), chi.URLParam(r, "target"))
	if se, failed := res.Failure(); failed {
		writeServiceError(w, se)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveLink handles DELETE /api/relations/{relation}/{source}/{target}.
//
//	@Summary		Unlink a target from a source (idempotent)
//	@Tags			relations
//	@Param			relation	path	string	true	"Relation name"
//	@Param			source		path	string	true	"Source entity id"
//	@Param			target		path	string	true	"Target entity id"
//	@Success		204			"Unlinked"
//	@Security		BearerAuth
//	@Router			/relations/{relation}/{source}/{target} [delete]
func (h *Handler) RemoveLink(w http.ResponseWriter, r *http.Request) {
	res := h.svc.Remove(r.Context(), chi.URLParam(r, "relation"), chi.URLParam(r, "source"), chi.URLParam(r, "target"))
	if se, failed := res.Failure(); failed {
		writeServiceError(w, se)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
