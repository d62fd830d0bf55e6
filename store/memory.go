package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/conclave-ai/conclave/types"
)

// MemoryStore is the default in-process TurnStore. Safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	responses map[string]StoredResponse
	contexts  map[string]types.ProviderContext
	results   map[string]*WorkflowResult
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		responses: make(map[string]StoredResponse),
		contexts:  make(map[string]types.ProviderContext),
		results:   make(map[string]*WorkflowResult),
	}
}

func responseKey(sessionID, turnID, providerID, responseType string, index int) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%d", sessionID, turnID, providerID, responseType, index)
}

func contextKey(sessionID, providerID string) string {
	return sessionID + "\x00" + providerID
}

func (s *MemoryStore) UpsertProviderResponse(_ context.Context, r StoredResponse) error {
	s.mu.Lock()
	s.responses[responseKey(r.SessionID, r.TurnID, r.ProviderID, r.ResponseType, r.Index)] = r
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetProviderResponses(_ context.Context, sessionID, turnID, providerID string) ([]StoredResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StoredResponse
	for _, r := range s.responses {
		if r.SessionID == sessionID && r.TurnID == turnID && r.ProviderID == providerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetTurnResponses(_ context.Context, sessionID, turnID, responseType string) ([]StoredResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StoredResponse
	for _, r := range s.responses {
		if r.SessionID == sessionID && r.TurnID == turnID && r.ResponseType == responseType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) PersistWorkflowResult(ctx context.Context, _ *types.WorkflowRequest, resolved *types.ResolvedContext, result *WorkflowResult) (types.TurnRefs, error) {
	refs := types.TurnRefs{
		SessionID:  resolved.SessionID,
		UserTurnID: uuid.NewString(),
		AITurnID:   uuid.NewString(),
	}
	if refs.SessionID == "" {
		refs.SessionID = uuid.NewString()
	}

	s.mu.Lock()
	s.results[refs.AITurnID] = result
	s.mu.Unlock()

	// Re-home every step's provider outputs under the canonical turn id so
	// recompute can look them up later.
	for _, out := range result.Steps {
		for id, pr := range out.Results {
			r := StoredResponse{
				SessionID:    refs.SessionID,
				TurnID:       refs.AITurnID,
				ProviderID:   id,
				ResponseType: string(out.Type),
				Index:        0,
				Text:         pr.Text,
				Meta:         pr.Meta,
				SoftError:    pr.SoftError,
			}
			if err := s.UpsertProviderResponse(ctx, r); err != nil {
				return types.TurnRefs{}, err
			}
		}
	}
	return refs, nil
}

func (s *MemoryStore) SaveProviderContext(_ context.Context, sessionID string, pc types.ProviderContext) error {
	s.mu.Lock()
	s.contexts[contextKey(sessionID, pc.ProviderID)] = pc
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetProviderContext(_ context.Context, sessionID, providerID string) (types.ProviderContext, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pc, ok := s.contexts[contextKey(sessionID, providerID)]
	return pc, ok, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
