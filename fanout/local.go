package fanout

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/conclave-ai/conclave/types"
)

// ProviderClient generates text for one provider. onPartial receives the full
// accumulated text so far on every tick, matching how remote providers
// re-send their whole buffer.
type ProviderClient interface {
	Generate(ctx context.Context, prompt string, continuation types.ContinuationMeta, onPartial func(fullText string)) (Result, error)
}

// Local is an in-process Collaborator over a registry of ProviderClients.
// Fan-out concurrency is bounded by a weighted semaphore; cancellation is
// keyed by session id.
type Local struct {
	logger  *zap.Logger
	clients map[string]ProviderClient
	sem     *semaphore.Weighted

	mu      sync.Mutex
	cancels map[string][]context.CancelFunc
}

// NewLocal builds a Local collaborator. maxConcurrent bounds simultaneous
// provider calls across all sessions; <=0 means 8.
func NewLocal(clients map[string]ProviderClient, maxConcurrent int64, logger *zap.Logger) *Local {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	copied := make(map[string]ProviderClient, len(clients))
	for id, c := range clients {
		copied[id] = c
	}
	return &Local{
		logger:  logger.With(zap.String("component", "fanout")),
		clients: copied,
		sem:     semaphore.NewWeighted(maxConcurrent),
		cancels: make(map[string][]context.CancelFunc),
	}
}

// ExecuteParallelFanout implements Collaborator.
func (l *Local) ExecuteParallelFanout(ctx context.Context, sessionID, prompt string, providerIDs []string, opts Options, cb Callbacks) error {
	if len(providerIDs) == 0 {
		return fmt.Errorf("fanout requires at least one provider")
	}

	callCtx := l.trackSession(ctx, sessionID)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]Result, len(providerIDs))
		errs    = make(map[string]error)
	)

	for _, providerID := range providerIDs {
		wg.Add(1)
		go func(providerID string) {
			defer wg.Done()

			if err := l.sem.Acquire(callCtx, 1); err != nil {
				l.record(&mu, errs, nil, providerID, Result{}, err, cb)
				return
			}
			defer l.sem.Release(1)

			res, err := l.callOne(callCtx, prompt, providerID, opts, cb.OnPartial)
			l.record(&mu, errs, results, providerID, res, err, cb)
		}(providerID)
	}

	wg.Wait()

	if cb.OnAllComplete != nil {
		cb.OnAllComplete(results, errs)
	}
	return nil
}

// ExecuteSingle implements Collaborator.
func (l *Local) ExecuteSingle(ctx context.Context, sessionID, prompt, providerID string, opts Options) (Result, error) {
	callCtx := l.trackSession(ctx, sessionID)
	return l.callOne(callCtx, prompt, providerID, opts, nil)
}

// CancelSession implements Collaborator.
func (l *Local) CancelSession(sessionID string) {
	l.mu.Lock()
	cancels := l.cancels[sessionID]
	delete(l.cancels, sessionID)
	l.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if len(cancels) > 0 {
		l.logger.Info("session cancelled",
			zap.String("session_id", sessionID),
			zap.Int("inflight", len(cancels)),
		)
	}
}

func (l *Local) callOne(ctx context.Context, prompt, providerID string, opts Options, onPartial func(string, string)) (Result, error) {
	client, ok := l.clients[providerID]
	if !ok {
		return Result{}, fmt.Errorf("unknown provider %q", providerID)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var partial func(string)
	if onPartial != nil {
		partial = func(fullText string) { onPartial(providerID, fullText) }
	}

	res, err := client.Generate(ctx, prompt, opts.Continuation, partial)
	if err != nil {
		return res, err
	}
	res.ProviderID = providerID
	return res, nil
}

func (l *Local) record(mu *sync.Mutex, errs map[string]error, results map[string]Result, providerID string, res Result, err error, cb Callbacks) {
	mu.Lock()
	if err != nil {
		errs[providerID] = err
	} else if results != nil {
		results[providerID] = res
	}
	mu.Unlock()

	if err != nil {
		if cb.OnError != nil {
			cb.OnError(providerID, err)
		}
		return
	}
	if cb.OnProviderComplete != nil {
		cb.OnProviderComplete(providerID)
	}
}

// trackSession derives a cancellable context registered under the session
// so CancelSession can abort it.
func (l *Local) trackSession(ctx context.Context, sessionID string) context.Context {
	callCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancels[sessionID] = append(l.cancels[sessionID], cancel)
	l.mu.Unlock()
	return callCtx
}
