// Package common defines shared constants, helpers and sentinel errors used
// across client and server layers of RentKeeper. Callers should use errors.Is
// (or errors.As for *ValidationError) to match these values.
package common

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// ErrorConfiguration marks malformed startup settings. It is fatal.
	ErrorConfiguration = errors.New("configuration error")

	// Auth errors (invalid or malformed token). Every token lifecycle error
	// below wraps ErrInvalidToken.
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired         = fmt.Errorf("%w: token expired", ErrInvalidToken)
	ErrRefreshTokenNotFound = fmt.Errorf("%w: refresh token not found", ErrInvalidToken)
	ErrRefreshTokenExpired  = fmt.Errorf("%w: refresh token expired", ErrInvalidToken)
	ErrRefreshTokenRevoked  = fmt.Errorf("%w: refresh token revoked", ErrInvalidToken)
	ErrRefreshTokenReused   = fmt.Errorf("%w: refresh token reused", ErrInvalidToken)

	// Crypto errors.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// ValidationError carries field-level detail for malformed input.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns an empty ValidationError ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string]string{}}
}

// Add records a problem with the named field. The first message per field wins.
func (e *ValidationError) Add(field, msg string) {
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// HasErrors reports whether any field was rejected.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrorValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrorValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrorValidation
}

// IsTokenError reports whether err belongs to the token error family.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrInvalidToken)
}
