package workflow

import (
	"context"
	"sync"

	"github.com/conclave-ai/conclave/store"
	"github.com/conclave-ai/conclave/types"
)

// contextCache holds per-provider continuation metadata for one run. It is
// written synchronously by the batch completion handler before the step
// resolves, so the next phase observes fresh data; the mutex covers
// multi-threaded hosts.
type contextCache struct {
	mu    sync.Mutex
	metas map[string]types.ContinuationMeta
}

func newContextCache() *contextCache {
	return &contextCache{metas: make(map[string]types.ContinuationMeta)}
}

func (c *contextCache) put(providerID string, meta types.ContinuationMeta) {
	if len(meta) == 0 {
		return
	}
	c.mu.Lock()
	c.metas[providerID] = meta
	c.mu.Unlock()
}

func (c *contextCache) get(providerID string) (types.ContinuationMeta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	meta, ok := c.metas[providerID]
	return meta, ok
}

// preload seeds the cache from a resolved context so extend and recompute
// runs avoid redundant storage fetches.
func (c *contextCache) preload(resolved *types.ResolvedContext) {
	for id, pc := range resolved.ProviderContexts {
		c.put(id, pc.Meta)
	}
	for _, h := range resolved.FrozenBatchOutputs {
		c.put(h.ProviderID, h.Meta)
	}
}

// contextResolver resolves the acting provider's conversation context
// through four tiers, first match wins: in-run cache, resolved-context
// history, a linked upstream batch step's recorded metadata, then durable
// storage. The later tiers are correctness fallbacks only.
type contextResolver struct {
	cache    *contextCache
	resolved *types.ResolvedContext
	results  func(stepID string) (*types.StepResult, bool)
	store    store.TurnStore
}

func (r *contextResolver) resolve(ctx context.Context, providerID string, sourceStepIDs []string) types.ContinuationMeta {
	if meta, ok := r.cache.get(providerID); ok {
		return meta
	}

	if r.resolved != nil {
		if pc, ok := r.resolved.ProviderContexts[providerID]; ok && len(pc.Meta) > 0 {
			return pc.Meta
		}
		for _, h := range r.resolved.FrozenBatchOutputs {
			if h.ProviderID == providerID && len(h.Meta) > 0 {
				return h.Meta
			}
		}
	}

	if r.results != nil {
		for _, stepID := range sourceStepIDs {
			res, ok := r.results(stepID)
			if !ok || res.Output == nil {
				continue
			}
			if pr, ok := res.Output.Results[providerID]; ok && len(pr.Meta) > 0 {
				return pr.Meta
			}
		}
	}

	if r.store != nil && r.resolved != nil {
		pc, ok, err := r.store.GetProviderContext(ctx, r.resolved.SessionID, providerID)
		if err == nil && ok {
			return pc.Meta
		}
	}
	return nil
}
