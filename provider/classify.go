package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/conclave-ai/conclave/types"
)

// CallFailure carries everything the transport knows about a failed call.
// Header and Body are optional; classification degrades gracefully without
// them.
type CallFailure struct {
	Err        error
	HTTPStatus int
	Header     http.Header
	Body       []byte
}

// Classify maps a raw provider-call failure onto the engine taxonomy. The
// mapping prefers strong signals (HTTP status, typed errors) over message
// sniffing, and defaults to the optimistically retryable unknown code.
func Classify(providerID string, f CallFailure) *types.ProviderError {
	if pe, ok := f.Err.(*types.ProviderError); ok {
		// Already classified upstream (e.g. circuit_open, input_too_long).
		return pe
	}

	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}

	code := classifyCode(f, msg)
	pe := types.NewProviderError(code, providerID, msg)
	pe.Cause = f.Err

	if code == types.ProviderErrRateLimit {
		pe.RetryAfter = resolveRetryAfter(f.Header, f.Body, time.Now())
	}
	return pe
}

func classifyCode(f CallFailure, msg string) types.ProviderErrorCode {
	switch f.HTTPStatus {
	case http.StatusTooManyRequests:
		return types.ProviderErrRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.ProviderErrAuthExpired
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return types.ProviderErrTimeout
	}

	if f.Err != nil {
		if errors.Is(f.Err, context.DeadlineExceeded) {
			return types.ProviderErrTimeout
		}
		var netErr net.Error
		if errors.As(f.Err, &netErr) {
			if netErr.Timeout() {
				return types.ProviderErrTimeout
			}
			return types.ProviderErrNetwork
		}
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return types.ProviderErrRateLimit
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "session expired") || strings.Contains(lower, "login"):
		return types.ProviderErrAuthExpired
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded"):
		return types.ProviderErrTimeout
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") || strings.Contains(lower, "network"):
		return types.ProviderErrNetwork
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "content policy") ||
		strings.Contains(lower, "blocked by safety"):
		return types.ProviderErrContentFilter
	default:
		return types.ProviderErrUnknown
	}
}

// resolveRetryAfter extracts a retry-after duration from the standard header
// or from nested reset timestamps in the error body. Providers disagree on
// units; magnitude disambiguates (epoch millis vs epoch seconds vs plain
// durations).
func resolveRetryAfter(header http.Header, body []byte, now time.Time) time.Duration {
	if header != nil {
		if v := header.Get("Retry-After"); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil {
				return normalizeRetryValue(secs, now)
			}
			if at, err := http.ParseTime(v); err == nil {
				if d := at.Sub(now); d > 0 {
					return d
				}
			}
		}
		for _, key := range []string{"X-RateLimit-Reset", "X-RateLimit-Reset-After"} {
			if v := header.Get(key); v != "" {
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					return normalizeRetryValue(n, now)
				}
			}
		}
	}

	if len(body) > 0 {
		var payload any
		if err := json.Unmarshal(body, &payload); err == nil {
			if n, ok := findResetValue(payload); ok {
				return normalizeRetryValue(n, now)
			}
		}
	}
	return 0
}

// resetKeys are the field names providers nest reset hints under.
var resetKeys = map[string]struct{}{
	"retry_after":    {},
	"retry_after_ms": {},
	"reset":          {},
	"reset_at":       {},
	"resets_at":      {},
	"reset_after":    {},
	"retryafter":     {},
}

// findResetValue walks arbitrarily nested JSON for the first numeric reset
// hint.
func findResetValue(v any) (float64, bool) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			if _, ok := resetKeys[strings.ToLower(k)]; ok {
				switch n := child.(type) {
				case float64:
					return n, true
				case string:
					if f, err := strconv.ParseFloat(n, 64); err == nil {
						return f, true
					}
				}
			}
		}
		for _, child := range val {
			if n, ok := findResetValue(child); ok {
				return n, true
			}
		}
	case []any:
		for _, child := range val {
			if n, ok := findResetValue(child); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// normalizeRetryValue maps a bare number onto a duration:
//   - > 1e11: epoch milliseconds
//   - > 1e9:  epoch seconds
//   - > 1e4:  a duration in milliseconds (no provider asks for hours of wait
//     in whole seconds)
//   - else:   a duration in seconds
func normalizeRetryValue(n float64, now time.Time) time.Duration {
	switch {
	case n > 1e11:
		at := time.UnixMilli(int64(n))
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	case n > 1e9:
		at := time.Unix(int64(n), 0)
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	case n > 1e4:
		return time.Duration(n * float64(time.Millisecond))
	case n > 0:
		return time.Duration(n * float64(time.Second))
	default:
		return 0
	}
}
