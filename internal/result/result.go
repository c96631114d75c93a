// Package result provides a two-variant success/failure container returned by
// every service-boundary operation instead of a bare (value, error) pair.
package result

// Result holds exactly one of a failure payload E or a success payload V.
//
// Results are created with Succeed or Fail and are immutable afterwards. The
// zero value is not a valid Result.
type Result[E, V any] struct {
	failure E
	value   V
	ok      bool
}

// Succeed returns a success Result carrying v.
func Succeed[E, V any](v V) Result[E, V] {
	return Result[E, V]{value: v, ok: true}
}

// Fail returns a failure Result carrying e.
func Fail[E, V any](e E) Result[E, V] {
	return Result[E, V]{failure: e}
}

// IsSuccess reports whether r carries a success payload.
func (r Result[E, V]) IsSuccess() bool { return r.ok }

// IsFailure reports whether r carries a failure payload.
func (r Result[E, V]) IsFailure() bool { return !r.ok }

// Get returns the success payload and true, or the zero V and false.
func (r Result[E, V]) Get() (V, bool) {
	if !r.ok {
		var zero V
		return zero, false
	}
	return r.value, true
}

// Failure returns the failure payload and true, or the zero E and false.
func (r Result[E, V]) Failure() (E, bool) {
	if r.ok {
		var zero E
		return zero, false
	}
	return r.failure, true
}

// Match calls exactly one of onFailure or onSuccess and returns its value.
func Match[E, V, U any](r Result[E, V], onFailure func(E) U, onSuccess func(V) U) U {
	if r.ok {
		return onSuccess(r.value)
	}
	return onFailure(r.failure)
}

// Map transforms the success payload, passing failures through unchanged.
func Map[E, V, U any](r Result[E, V], fn func(V) U) Result[E, U] {
	if !r.ok {
		return Fail[E, U](r.failure)
	}
	return Succeed[E](fn(r.value))
}

// Then chains a Result-returning step onto a success, passing failures through.
func Then[E, V, U any](r Result[E, V], fn func(V) Result[E, U]) Result[E, U] {
	if !r.ok {
		return Fail[E, U](r.failure)
	}
	return fn(r.value)
}
