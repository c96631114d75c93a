package apperr

import (
	"errors"
	"fmt"

	"github.com/starford/estatedesk/internal/result"
)

// Kind identifies one of the six ServiceError variants.
type Kind int

const (
	KindCreateFailed Kind = iota + 1
	KindFetchFailed
	KindUpdateFailed
	KindDeleteFailed
	KindUnauthorized
	KindUnexpected
)

// Category is informational metadata for logs; callers must not branch on it.
type Category string

const (
	CategoryValidation   Category = "VALIDATION"
	CategoryBusinessRule Category = "BUSINESS_RULE"
	CategoryTechnical    Category = "TECHNICAL"
	CategoryNotFound     Category = "NOT_FOUND"
	CategoryUnexpected   Category = "UNEXPECTED"
	CategoryUnauthorized Category = "UNAUTHORIZED"
)

type variant struct {
	name     string
	code     string
	category Category
}

var variants = map[Kind]variant{
	KindCreateFailed: {"CreateFailed", "SERVICE_CREATE_FAILED", CategoryTechnical},
	KindFetchFailed:  {"FetchFailed", "SERVICE_FETCH_FAILED", CategoryNotFound},
	KindUpdateFailed: {"UpdateFailed", "SERVICE_UPDATE_FAILED", CategoryTechnical},
	KindDeleteFailed: {"DeleteFailed", "SERVICE_DELETE_FAILED", CategoryTechnical},
	KindUnauthorized: {"Unauthorized", "SERVICE_UNAUTHORIZED", CategoryUnauthorized},
	KindUnexpected:   {"UnexpectedError", "SERVICE_UNEXPECTED", CategoryUnexpected},
}

// Kinds lists every variant in declaration order.
func Kinds() []Kind {
	return []Kind{KindCreateFailed, KindFetchFailed, KindUpdateFailed, KindDeleteFailed, KindUnauthorized, KindUnexpected}
}

// String returns the variant name, e.g. "FetchFailed".
func (k Kind) String() string {
	if v, ok := variants[k]; ok {
		return v.name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Code returns the stable code of the variant. Unknown kinds report the
// UnexpectedError code.
func (k Kind) Code() string { return k.variant().code }

// Category returns the fixed category of the variant. Unknown kinds report
// CategoryUnexpected.
func (k Kind) Category() Category { return k.variant().category }

func (k Kind) variant() variant {
	if v, ok := variants[k]; ok {
		return v
	}
	return variants[KindUnexpected]
}

// ServiceError is a failure produced by a service-layer operation. Its fields
// are fixed by the factory that built it.
type ServiceError struct {
	kind    Kind
	service string
	message string
	cause   error
}

func newServiceError(kind Kind, service, message string, cause error) *ServiceError {
	return &ServiceError{kind: kind, service: service, message: message, cause: cause}
}

// CreateFailed reports a failure to create a resource.
func CreateFailed(service, message string, cause error) *ServiceError {
	return newServiceError(KindCreateFailed, service, message, cause)
}

// FetchFailed reports a failure to read a resource.
func FetchFailed(service, message string, cause error) *ServiceError {
	return newServiceError(KindFetchFailed, service, message, cause)
}

// UpdateFailed reports a failed mutation, including link assignment and removal.
func UpdateFailed(service, message string, cause error) *ServiceError {
	return newServiceError(KindUpdateFailed, service, message, cause)
}

// DeleteFailed reports a failure to delete a resource.
func DeleteFailed(service, message string, cause error) *ServiceError {
	return newServiceError(KindDeleteFailed, service, message, cause)
}

// Unauthorized reports a missing, invalid or expired credential.
func Unauthorized(service, message string, cause error) *ServiceError {
	return newServiceError(KindUnauthorized, service, message, cause)
}

// UnexpectedError reports anything the other variants do not cover.
func UnexpectedError(service, message string, cause error) *ServiceError {
	return newServiceError(KindUnexpected, service, message, cause)
}

// New builds the variant of kind. Unknown kinds become UnexpectedError.
func New(kind Kind, service, message string, cause error) *ServiceError {
	if _, ok := variants[kind]; !ok {
		kind = KindUnexpected
	}
	return newServiceError(kind, service, message, cause)
}

// FromCode rebuilds a ServiceError from a wire code. Unrecognised codes become
// UnexpectedError.
func FromCode(code, service, message string, cause error) *ServiceError {
	for k, v := range variants {
		if v.code == code {
			return newServiceError(k, service, message, cause)
		}
	}
	return newServiceError(KindUnexpected, service, message, cause)
}

// Kind returns the variant. A zero ServiceError is an UnexpectedError.
func (e *ServiceError) Kind() Kind {
	if _, ok := variants[e.kind]; !ok {
		return KindUnexpected
	}
	return e.kind
}

// Code returns the stable variant code.
func (e *ServiceError) Code() string { return e.Kind().Code() }

// Category returns the variant category.
func (e *ServiceError) Category() Category { return e.Kind().Category() }

// Message returns the human-readable message. Not for programmatic branching.
func (e *ServiceError) Message() string { return e.message }

// Service returns the name of the originating service.
func (e *ServiceError) Service() string { return e.service }

// Cause returns the wrapped lower-level error, if any.
func (e *ServiceError) Cause() error { return e.cause }

func (e *ServiceError) Error() string {
	if e.service == "" {
		return fmt.Sprintf("%s: %s", e.Kind(), e.message)
	}
	return fmt.Sprintf("%s: %s: %s", e.service, e.Kind(), e.message)
}

func (e *ServiceError) Unwrap() error { return e.cause }

// Is matches another *ServiceError of the same kind, so errors.Is can test
// for a variant with any prototype, e.g. errors.Is(err, apperr.FetchFailed("", "", nil)).
func (e *ServiceError) Is(target error) bool {
	var other *ServiceError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind() == e.Kind()
}

// Result is the Result Channel specialised to ServiceError failures.
type Result[V any] = result.Result[*ServiceError, V]

// OK wraps v in a success Result.
func OK[V any](v V) Result[V] { return result.Succeed[*ServiceError](v) }

// Fail wraps e in a failure Result.
func Fail[V any](e *ServiceError) Result[V] { return result.Fail[*ServiceError, V](e) }
