package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-ai/conclave/types"
)

func TestClassify_HTTPStatusTakesPriority(t *testing.T) {
	t.Parallel()

	pe := Classify("gpt", CallFailure{Err: errors.New("boom"), HTTPStatus: http.StatusTooManyRequests})
	assert.Equal(t, types.ProviderErrRateLimit, pe.Code)

	pe = Classify("gpt", CallFailure{Err: errors.New("boom"), HTTPStatus: http.StatusUnauthorized})
	assert.Equal(t, types.ProviderErrAuthExpired, pe.Code)

	pe = Classify("gpt", CallFailure{Err: errors.New("boom"), HTTPStatus: http.StatusGatewayTimeout})
	assert.Equal(t, types.ProviderErrTimeout, pe.Code)
}

func TestClassify_ContextDeadline(t *testing.T) {
	t.Parallel()

	pe := Classify("claude", CallFailure{Err: fmt.Errorf("call: %w", context.DeadlineExceeded)})
	assert.Equal(t, types.ProviderErrTimeout, pe.Code)
	assert.True(t, pe.Retryable())
}

func TestClassify_MessageSniffing(t *testing.T) {
	t.Parallel()

	cases := map[string]types.ProviderErrorCode{
		"Rate limit exceeded, slow down":   types.ProviderErrRateLimit,
		"session expired, please login":    types.ProviderErrAuthExpired,
		"request timed out after 30s":      types.ProviderErrTimeout,
		"dial tcp: connection refused":     types.ProviderErrNetwork,
		"response blocked by safety rules": types.ProviderErrContentFilter,
		"something inexplicable":           types.ProviderErrUnknown,
	}
	for msg, want := range cases {
		pe := Classify("p", CallFailure{Err: errors.New(msg)})
		assert.Equal(t, want, pe.Code, "message %q", msg)
	}
}

func TestClassify_PassesThroughPreclassified(t *testing.T) {
	t.Parallel()

	orig := types.NewProviderError(types.ProviderErrCircuitOpen, "gpt", "denied")
	pe := Classify("gpt", CallFailure{Err: orig})
	assert.Same(t, orig, pe)
}

func TestResolveRetryAfter_HeaderSeconds(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("Retry-After", "30")
	d := resolveRetryAfter(h, nil, time.Now())
	assert.Equal(t, 30*time.Second, d)
}

func TestResolveRetryAfter_HeaderHTTPDate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	h := http.Header{}
	h.Set("Retry-After", now.Add(90*time.Second).UTC().Format(http.TimeFormat))
	d := resolveRetryAfter(h, nil, now)
	assert.InDelta(t, float64(90*time.Second), float64(d), float64(time.Second))
}

func TestResolveRetryAfter_NestedBodyEpochMillis(t *testing.T) {
	t.Parallel()

	now := time.Now()
	resetAt := now.Add(45 * time.Second).UnixMilli()
	body := []byte(fmt.Sprintf(`{"error":{"details":{"reset_at":%d}}}`, resetAt))

	d := resolveRetryAfter(nil, body, now)
	assert.InDelta(t, float64(45*time.Second), float64(d), float64(time.Second))
}

func TestResolveRetryAfter_NestedBodyEpochSeconds(t *testing.T) {
	t.Parallel()

	now := time.Now()
	body := []byte(fmt.Sprintf(`{"rate":{"reset":%d}}`, now.Add(2*time.Minute).Unix()))

	d := resolveRetryAfter(nil, body, now)
	assert.InDelta(t, float64(2*time.Minute), float64(d), float64(time.Second))
}

func TestResolveRetryAfter_MillisDurationDisambiguated(t *testing.T) {
	t.Parallel()

	// 30000 is too large to be seconds of wait; read as milliseconds.
	body := []byte(`{"retry_after_ms": 30000}`)
	d := resolveRetryAfter(nil, body, time.Now())
	assert.Equal(t, 30*time.Second, d)
}

func TestResolveRetryAfter_Absent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), resolveRetryAfter(nil, []byte(`{"error":"x"}`), time.Now()))
}

func TestClassify_RateLimitCarriesRetryAfter(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("Retry-After", "12")
	pe := Classify("gpt", CallFailure{
		Err:        errors.New("429"),
		HTTPStatus: http.StatusTooManyRequests,
		Header:     h,
	})
	require.Equal(t, types.ProviderErrRateLimit, pe.Code)
	assert.Equal(t, 12*time.Second, pe.RetryAfter)
}

func TestLimitTable_Fits(t *testing.T) {
	t.Parallel()

	table := NewLimitTable(map[string]Limit{
		"small": {MaxInputChars: 10},
	})

	assert.True(t, table.Fits("small", "short"))
	assert.False(t, table.Fits("small", "this prompt is far too long"))

	// Unknown providers get the default budget.
	assert.Equal(t, DefaultMaxInputChars, table.MaxInputChars("unknown"))
	assert.True(t, table.Fits("unknown", "short"))
}
