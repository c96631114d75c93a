// Package apperr defines the error vocabulary shared by every layer: plain
// sentinel errors for storage and validation, and the closed ServiceError
// taxonomy returned across the service boundary.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrValidation    = errors.New("validation failed")
	ErrBusy          = errors.New("operation already in progress")
)
