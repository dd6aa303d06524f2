// Package apperr defines the error kinds shared across packages. Callers
// wrap a kind with context using fmt.Errorf("%w: ...") and test for it
// with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation marks malformed input: a missing field, negative
	// points, an unrecognized recurrence.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an operation on a missing task or user.
	ErrNotFound = errors.New("not found")
	// ErrAuth marks credential failures, duplicate registration and
	// unauthorized actions.
	ErrAuth = errors.New("not authorized")
	// ErrPersistence marks a storage read or write failure.
	ErrPersistence = errors.New("persistence failed")
	// ErrNetwork marks a failed remote call.
	ErrNetwork = errors.New("network failure")
)

// HTTPStatus maps an error to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
