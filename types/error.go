package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Engine error codes.
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrInvalidContext ErrorCode = "INVALID_CONTEXT"
	ErrInvalidGraph   ErrorCode = "INVALID_GRAPH"
	ErrStepFailed     ErrorCode = "STEP_FAILED"
	ErrInputTooLong   ErrorCode = "INPUT_TOO_LONG"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrStoreFailure   ErrorCode = "STORE_FAILURE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Field     string    `json:"field,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithField names the request/context field the error is about.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// ProviderErrorCode classifies a single provider-call failure.
type ProviderErrorCode string

const (
	// ProviderErrRateLimit is retryable and carries a resolved retry-after.
	ProviderErrRateLimit ProviderErrorCode = "rate_limit"
	// ProviderErrAuthExpired requires re-authentication; never retried.
	ProviderErrAuthExpired ProviderErrorCode = "auth_expired"
	ProviderErrTimeout     ProviderErrorCode = "timeout"
	ProviderErrNetwork     ProviderErrorCode = "network"
	// ProviderErrContentFilter: the provider refused the content.
	ProviderErrContentFilter ProviderErrorCode = "content_filter"
	// ProviderErrCircuitOpen is raised locally when the health tracker denies
	// an attempt.
	ProviderErrCircuitOpen ProviderErrorCode = "circuit_open"
	// ProviderErrInputTooLong is raised locally by the input-length gate.
	ProviderErrInputTooLong ProviderErrorCode = "input_too_long"
	// ProviderErrUnknown is the optimistically retryable default.
	ProviderErrUnknown ProviderErrorCode = "unknown"
)

// Retryable reports whether a failure with this code is worth retrying.
func (c ProviderErrorCode) Retryable() bool {
	switch c {
	case ProviderErrRateLimit, ProviderErrTimeout, ProviderErrNetwork, ProviderErrUnknown:
		return true
	default:
		return false
	}
}

// ProviderError is a classified failure of one provider call.
type ProviderError struct {
	Code       ProviderErrorCode `json:"code"`
	ProviderID string            `json:"provider_id"`
	Message    string            `json:"message"`

	// RetryAfter is resolved from headers or nested reset timestamps for
	// rate-limit errors; zero when unknown.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	Cause error `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %s: %s: %s: %v", e.ProviderID, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %s: %s: %s", e.ProviderID, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether this specific failure may be retried.
func (e *ProviderError) Retryable() bool {
	return e.Code.Retryable()
}

// NewProviderError builds a classified provider error.
func NewProviderError(code ProviderErrorCode, providerID, message string) *ProviderError {
	return &ProviderError{Code: code, ProviderID: providerID, Message: message}
}

// MultiProviderAuthError aggregates a batch whose failures were all auth
// failures into a single composite error, so the boundary can prompt one
// unified re-login instead of one per provider.
type MultiProviderAuthError struct {
	ProviderIDs []string
}

// NewMultiProviderAuthError builds a composite auth error over the given
// provider ids, sorted for stable output.
func NewMultiProviderAuthError(providerIDs []string) *MultiProviderAuthError {
	ids := append([]string(nil), providerIDs...)
	sort.Strings(ids)
	return &MultiProviderAuthError{ProviderIDs: ids}
}

func (e *MultiProviderAuthError) Error() string {
	ids := append([]string(nil), e.ProviderIDs...)
	sort.Strings(ids)
	return fmt.Sprintf("authentication expired for providers: %s", strings.Join(ids, ", "))
}

// IsMultiProviderAuth reports whether err is a composite auth error.
func IsMultiProviderAuth(err error) bool {
	_, ok := err.(*MultiProviderAuthError)
	return ok
}
