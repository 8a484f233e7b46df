package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without detail",
			err: &AppError{
				Code:    ErrCodeIncorrectPin,
				Message: "Incorrect PIN",
			},
			expected: "incorrect_pin: Incorrect PIN",
		},
		{
			name: "error with detail",
			err: &AppError{
				Code:    ErrCodeBadRequest,
				Message: "Invalid request",
				Detail:  "missing required field 'handle'",
			},
			expected: "bad_request: Invalid request (missing required field 'handle')",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNew(t *testing.T) {
	err := New("test_code", "Test message", http.StatusTeapot)

	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "Test message", err.Message)
	assert.Equal(t, http.StatusTeapot, err.StatusCode)
	assert.Empty(t, err.Detail)
}

func TestStaleNonce(t *testing.T) {
	err := StaleNonce(4, 7)

	assert.Equal(t, ErrCodeStaleNonce, err.Code)
	assert.Equal(t, http.StatusConflict, err.StatusCode)
	assert.Contains(t, err.Detail, "signed nonce 4")
	assert.Contains(t, err.Detail, "ledger nonce 7")
}

func TestRetryableClassification(t *testing.T) {
	// Transient failures are marked retryable; terminal ones are not.
	assert.True(t, StoreUnavailable(errors.New("conn refused")).Retryable)
	assert.True(t, LedgerRevert("insufficient funds").Retryable)

	assert.False(t, InvalidSignature("mismatch").Retryable)
	assert.False(t, PolicyDenied("external recipient").Retryable)
	assert.False(t, NotRegistered("+15551234567").Retryable)
	assert.False(t, MalformedWrapper("truncated").Retryable)
	assert.False(t, UnwrapDepthExceeded(3).Retryable)
}

func TestIsAppError(t *testing.T) {
	appErr := NotRegistered("+15551234567")

	got, ok := IsAppError(appErr)
	require.True(t, ok)
	assert.Equal(t, ErrCodeNotRegistered, got.Code)

	// Wrapped AppErrors are still recognized.
	wrapped := fmt.Errorf("handling request: %w", appErr)
	got, ok = IsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeNotRegistered, got.Code)

	_, ok = IsAppError(errors.New("plain error"))
	assert.False(t, ok)
}

func TestHasCode(t *testing.T) {
	err := StaleNonce(1, 2)

	assert.True(t, HasCode(err, ErrCodeStaleNonce))
	assert.False(t, HasCode(err, ErrCodeInvalidSignature))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeStaleNonce))
}
