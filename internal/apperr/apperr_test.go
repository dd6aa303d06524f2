package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: title is required", ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("task %q: %w", "x", ErrNotFound), http.StatusNotFound},
		{ErrAuth, http.StatusUnauthorized},
		{fmt.Errorf("s3 put: %w", ErrNetwork), http.StatusBadGateway},
		{fmt.Errorf("%w: disk full", ErrPersistence), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
