package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	assert.Equal(t, "NOT_FOUND: patient p1", NewNotFoundError("patient p1").Error())

	cause := errors.New("connection refused")
	err := NewExternalError("remote put", cause)
	assert.Equal(t, "EXTERNAL: remote put: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), ""},
		{"validation", NewValidationError("bad"), ErrorTypeValidation},
		{"conflict", NewConflictError("dup"), ErrorTypeConflict},
		{"internal", NewInternalError("x", nil), ErrorTypeInternal},
		{"unauthorized", NewUnauthorizedError("no creds"), ErrorTypeUnauthorized},
		{"disabled", NewDisabledError("sync off"), ErrorTypeDisabled},
		{"wrapped", fmt.Errorf("flush: %w", NewUnauthorizedErrorWrap("expired", errors.New("token"))), ErrorTypeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeOf(tt.err))
		})
	}
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("hydrate: %w", NewDisabledError("background sync disabled"))
	assert.True(t, IsType(err, ErrorTypeDisabled))
	assert.False(t, IsType(err, ErrorTypeNotFound))
	assert.False(t, IsType(nil, ErrorTypeDisabled))
}
