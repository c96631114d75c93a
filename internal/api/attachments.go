package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/backoffice"
)

const attachmentService = "AttachmentService"

// AttachmentHandler serves and accepts attachment files.
type AttachmentHandler struct {
	svc *backoffice.Service
}

// NewAttachmentHandler creates a handler over the back-office service.
func NewAttachmentHandler(svc *backoffice.Service) *AttachmentHandler {
	return &AttachmentHandler{svc: svc}
}

// ServeFile handles GET /attachments/{filename}.
func (h *AttachmentHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	res := h.svc.AttachmentPath(chi.URLParam(r, "filename"))
	abs, ok := res.Get()
	if !ok {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}

// AttachmentUploadResponse is returned after a successful attachment upload.
type AttachmentUploadResponse struct {
	Entity
	URL string `json:"url" example:"/attachments/image.png" validate:"required"`
}

// Upload handles POST /api/attachments (multipart/form-data, field "file",
// optional "relation" and "source" to link the new file).
//
//	@Summary		Upload an attachment
//	@Tags			attachments
//	@Accept			multipart/form-data
//	@Produce		json
//	@Success		201	{object}	AttachmentUploadResponse
//	@Failure		400	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/attachments [post]
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, backoffice.MaxAttachmentBytes+1<<20)

	if err := r.ParseMultipartForm(backoffice.MaxAttachmentBytes); err != nil {
		writeServiceError(w, apperr.CreateFailed(attachmentService, "file too large or invalid multipart", apperr.ErrValidation))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeServiceError(w, apperr.CreateFailed(attachmentService, "missing 'file' field in multipart form", apperr.ErrValidation))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeServiceError(w, apperr.Normalize(attachmentService, apperr.OpCreate, fmt.Errorf("read upload: %w", err)))
		return
	}

	res := h.svc.SaveAttachment(r.Context(), header.Filename, content, r.FormValue("relation"), r.FormValue("source"))
	e, ok := res.Get()
	if !ok {
		se, _ := res.Failure()
		writeServiceError(w, se)
		return
	}
	writeJSON(w, http.StatusCreated, AttachmentUploadResponse{Entity: e, URL: "/attachments/" + e.ID})
}
