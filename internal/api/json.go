package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/estatedesk/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error    string `json:"error" validate:"required"`
	Code     string `json:"code,omitempty"`
	Category string `json:"category,omitempty"`
	Service  string `json:"service,omitempty"`
}

// statusFor maps a ServiceError onto an HTTP status by its cause.
func statusFor(se *apperr.ServiceError) int {
	switch {
	case se.Kind() == apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case errors.Is(se, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(se, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(se, apperr.ErrConflict), errors.Is(se, apperr.ErrAlreadyExists), errors.Is(se, apperr.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, se *apperr.ServiceError) {
	status := statusFor(se)
	msg := se.Message()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errResponse{
		Error:    msg,
		Code:     se.Code(),
		Category: string(se.Category()),
		Service:  se.Service(),
	})
}

// respond writes the success value of res with status, or its failure.
func respond[V any](w http.ResponseWriter, status int, res apperr.Result[V]) {
	if se, failed := res.Failure(); failed {
		writeServiceError(w, se)
		return
	}
	v, _ := res.Get()
	writeJSON(w, status, v)
}
