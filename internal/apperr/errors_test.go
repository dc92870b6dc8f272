package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", ErrValidation, http.StatusBadRequest},
		{"conflict", ErrConflict, http.StatusConflict},
		{"credentials", ErrInvalidCredentials, http.StatusUnauthorized},
		{"invalid token", ErrInvalidToken, http.StatusUnauthorized},
		{"expired token", ErrExpiredToken, http.StatusUnauthorized},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"not found", ErrNotFound, http.StatusNotFound},
		{"fmt wrapped", fmt.Errorf("load: %w", ErrNotFound), http.StatusNotFound},
		{"oops wrapped", oops.Code("AUTH_REFRESH_CONSUMED").With("user_id", "u1").Wrap(ErrInvalidToken), http.StatusUnauthorized},
		{"unknown", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestPublicMessage_HidesInternals(t *testing.T) {
	assert.Equal(t, "internal server error", PublicMessage(errors.New("dial tcp 10.0.0.1:3306: refused")))
	assert.Equal(t, "token expired", PublicMessage(oops.Wrap(ErrExpiredToken)))
	assert.Equal(t, "email already exists", PublicMessage(ErrConflict))
}
