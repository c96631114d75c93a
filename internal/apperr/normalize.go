package apperr

import "errors"

// Op is the kind of operation a failed call was performing.
type Op int

const (
	OpUnknown Op = iota
	OpCreate
	OpFetch
	OpUpdate
	OpDelete
)

func (o Op) kind() Kind {
	switch o {
	case OpCreate:
		return KindCreateFailed
	case OpFetch:
		return KindFetchFailed
	case OpUpdate:
		return KindUpdateFailed
	case OpDelete:
		return KindDeleteFailed
	default:
		return KindUnexpected
	}
}

// Normalize converts err into a ServiceError attributed to service. An error
// that already is (or wraps) a ServiceError is returned as is; ErrUnauthorized
// becomes Unauthorized; anything else becomes the variant matching op, with
// err preserved as the cause. Normalize(…, nil) returns nil.
func Normalize(service string, op Op, err error) *ServiceError {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, ErrUnauthorized) {
		return Unauthorized(service, err.Error(), err)
	}
	return New(op.kind(), service, err.Error(), err)
}
