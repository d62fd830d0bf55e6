// Package fanout defines the collaborator contract the step executor uses to
// reach providers, and an in-process implementation that drives registered
// ProviderClients with bounded concurrency. The engine never talks to a
// provider directly; everything goes through a Collaborator.
package fanout

import (
	"context"
	"time"

	"github.com/conclave-ai/conclave/types"
)

// Result is one provider's final output for a call.
type Result struct {
	ProviderID string
	Text       string
	Meta       types.ContinuationMeta
}

// Options tune a single dispatch.
type Options struct {
	// Timeout bounds each provider call; zero means no per-call timeout.
	Timeout time.Duration

	// Continuation carries the conversation thread to resume, opaque to the
	// engine.
	Continuation types.ContinuationMeta
}

// Callbacks receive fan-out progress. They may be invoked from multiple
// goroutines; OnAllComplete is invoked exactly once, after every per-provider
// callback has fired.
type Callbacks struct {
	OnPartial          func(providerID, fullText string)
	OnProviderComplete func(providerID string)
	OnError            func(providerID string, err error)
	OnAllComplete      func(results map[string]Result, errs map[string]error)
}

// Collaborator is the transport boundary. Implementations must support
// cancelling all in-flight calls of a session.
type Collaborator interface {
	// ExecuteParallelFanout sends one prompt to many providers concurrently.
	// It blocks until every call settled and OnAllComplete returned.
	ExecuteParallelFanout(ctx context.Context, sessionID, prompt string, providerIDs []string, opts Options, cb Callbacks) error

	// ExecuteSingle sends one prompt to one provider and waits for the
	// result.
	ExecuteSingle(ctx context.Context, sessionID, prompt, providerID string, opts Options) (Result, error)

	// CancelSession aborts every in-flight call keyed to the session.
	CancelSession(sessionID string)
}
