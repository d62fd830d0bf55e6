package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/conclave-ai/conclave/types"
)

// Response is the uniform API envelope.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo is the serialized error half of the envelope.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// writeJSON writes data with the given status.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeSuccess wraps data in a success envelope.
func writeSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestIDFrom(r.Context()),
	})
}

// writeError maps err onto the envelope and an HTTP status.
func writeError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	info := &ErrorInfo{
		Code:    string(types.ErrInternalError),
		Message: "internal error",
	}
	status := http.StatusInternalServerError

	var typed *types.Error
	var provErr *types.ProviderError
	switch {
	case errors.As(err, &typed):
		info.Code = string(typed.Code)
		info.Message = typed.Message
		info.Field = typed.Field
		info.Retryable = typed.Retryable
		status = statusForCode(typed.Code)
	case types.IsMultiProviderAuth(err):
		info.Code = "AUTH_EXPIRED"
		info.Message = err.Error()
		status = http.StatusUnauthorized
	case errors.As(err, &provErr):
		info.Code = string(provErr.Code)
		info.Message = provErr.Message
		info.Retryable = provErr.Retryable()
		status = http.StatusBadGateway
	}

	if logger != nil {
		logger.Error("request failed",
			zap.String("code", info.Code),
			zap.String("message", info.Message),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	writeJSON(w, status, Response{
		Success:   false,
		Error:     info,
		Timestamp: time.Now(),
		RequestID: requestIDFrom(r.Context()),
	})
}

func statusForCode(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest, types.ErrInvalidContext:
		return http.StatusBadRequest
	case types.ErrInvalidGraph:
		return http.StatusUnprocessableEntity
	case types.ErrInputTooLong:
		return http.StatusRequestEntityTooLarge
	case types.ErrStepFailed:
		return http.StatusBadGateway
	case types.ErrStoreFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody strictly decodes the request body into dst.
func decodeJSONBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return types.NewError(types.ErrInvalidRequest, "request body is empty")
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
	}
	return nil
}
