package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeNotRegistered       = "not_registered"
	ErrCodeAwaitingPin         = "awaiting_pin"
	ErrCodeInvalidPinFormat    = "invalid_pin_format"
	ErrCodeIncorrectPin        = "incorrect_pin"
	ErrCodePinAttemptsExceeded = "pin_attempts_exceeded"
	ErrCodePolicyDenied        = "policy_denied"
	ErrCodeInvalidSignature    = "invalid_signature"
	ErrCodeStaleNonce          = "stale_nonce"
	ErrCodeMalformedWrapper    = "malformed_wrapper"
	ErrCodeUnwrapDepth         = "unwrap_depth_exceeded"
	ErrCodeLedgerRevert        = "ledger_revert"
	ErrCodeStoreUnavailable    = "store_unavailable"
	ErrCodeBadRequest          = "bad_request"
	ErrCodeNotFound            = "not_found"
	ErrCodeConflict            = "conflict"
	ErrCodeRateLimited         = "rate_limited"
	ErrCodeInternalError       = "internal_error"
)

// Predefined errors
var (
	ErrBadRequest = &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		StatusCode: http.StatusBadRequest,
	}

	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrConflict = &AppError{
		Code:       ErrCodeConflict,
		Message:    "Request conflict",
		StatusCode: http.StatusConflict,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrInvalidPinFormat = &AppError{
		Code:       ErrCodeInvalidPinFormat,
		Message:    "PIN must be 4 to 6 digits",
		StatusCode: http.StatusBadRequest,
	}

	ErrIncorrectPin = &AppError{
		Code:       ErrCodeIncorrectPin,
		Message:    "Incorrect PIN",
		StatusCode: http.StatusUnauthorized,
	}

	ErrPinAttemptsExceeded = &AppError{
		Code:       ErrCodePinAttemptsExceeded,
		Message:    "Too many incorrect PIN attempts, request a new challenge",
		StatusCode: http.StatusUnauthorized,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NotRegistered indicates the handle has no account record.
func NotRegistered(handle string) *AppError {
	return &AppError{
		Code:       ErrCodeNotRegistered,
		Message:    "No account registered for this identifier",
		Detail:     fmt.Sprintf("handle: %s", handle),
		StatusCode: http.StatusNotFound,
	}
}

// PolicyDenied creates a policy denied error
func PolicyDenied(reason string) *AppError {
	return &AppError{
		Code:       ErrCodePolicyDenied,
		Message:    "Policy denied",
		Detail:     reason,
		StatusCode: http.StatusForbidden,
	}
}

// InvalidSignature indicates the recovered signer does not match the
// claimed signer. Terminal for this attempt; the signing flow must restart.
func InvalidSignature(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidSignature,
		Message:    "Signature does not match signer",
		Detail:     detail,
		StatusCode: http.StatusUnauthorized,
	}
}

// StaleNonce indicates a replay or a lost race: the signed nonce no longer
// matches the ledger's live nonce. The client should refetch and re-sign.
func StaleNonce(signed, live uint64) *AppError {
	return &AppError{
		Code:       ErrCodeStaleNonce,
		Message:    "Authorization expired, please sign again",
		Detail:     fmt.Sprintf("signed nonce %d, ledger nonce %d", signed, live),
		StatusCode: http.StatusConflict,
	}
}

// MalformedWrapper indicates the deployment wrapper failed to parse.
func MalformedWrapper(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeMalformedWrapper,
		Message:    "Malformed signature wrapper",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// UnwrapDepthExceeded indicates the wrapper nesting bound was hit.
func UnwrapDepthExceeded(max int) *AppError {
	return &AppError{
		Code:       ErrCodeUnwrapDepth,
		Message:    "Signature wrapper nesting too deep",
		Detail:     fmt.Sprintf("maximum unwrap depth %d exceeded", max),
		StatusCode: http.StatusBadRequest,
	}
}

// LedgerRevert wraps an on-chain revert. Retryable: the action itself may
// succeed later (funds arrive, nonce settles).
func LedgerRevert(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeLedgerRevert,
		Message:    "Ledger rejected the transaction",
		Detail:     detail,
		Retryable:  true,
		StatusCode: http.StatusBadGateway,
	}
}

// StoreUnavailable wraps a credential-store failure. Always retryable and
// never downgraded to an active session (fail closed).
func StoreUnavailable(err error) *AppError {
	return &AppError{
		Code:       ErrCodeStoreUnavailable,
		Message:    "Temporary storage failure, please try again",
		Detail:     err.Error(),
		Retryable:  true,
		StatusCode: http.StatusServiceUnavailable,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}
