// Package apperr defines the error taxonomy shared by the service, token
// and HTTP layers. Lower layers wrap these sentinels (usually through
// oops, which keeps errors.Is working) and the HTTP boundary translates
// them into status codes with HTTPStatus. Callers should match with
// errors.Is rather than comparing values.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation signals malformed input (400).
	ErrValidation = errors.New("validation failed")
	// ErrConflict signals a uniqueness violation such as a duplicate email (409).
	ErrConflict = errors.New("conflict")
	// ErrInvalidCredentials is returned when a password does not match (401).
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken covers bad signatures, wrong token kind and
	// refresh tokens that were already consumed or never issued.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a token's lifetime has lapsed.
	ErrExpiredToken = errors.New("token expired")
	// ErrNotFound is returned when a requested record does not exist (404).
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller acts on a resource it does not own (403).
	ErrForbidden = errors.New("forbidden")
	// ErrConfig is returned for missing or malformed configuration.
	ErrConfig = errors.New("invalid configuration")
)

// HTTPStatus maps an error onto the status code the HTTP boundary should
// answer with. Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text that is safe to show a client for err.
// Internal errors collapse to a generic message.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return ErrValidation.Error()
	case errors.Is(err, ErrConflict):
		return "email already exists"
	case errors.Is(err, ErrInvalidCredentials):
		return ErrInvalidCredentials.Error()
	case errors.Is(err, ErrExpiredToken):
		return ErrExpiredToken.Error()
	case errors.Is(err, ErrInvalidToken):
		return ErrInvalidToken.Error()
	case errors.Is(err, ErrForbidden):
		return ErrForbidden.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	default:
		return "internal server error"
	}
}
