package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/conclave-ai/conclave/store"
	"github.com/conclave-ai/conclave/types"
)

// RecordingStore is an in-memory TurnStore that records every call and
// supports per-method error injection. PersistWorkflowResult returns
// canonical turn ids distinct from any placeholder the engine generated.
type RecordingStore struct {
	mu        sync.Mutex
	responses map[string]store.StoredResponse
	contexts  map[string]types.ProviderContext
	persisted []store.WorkflowResult

	UpsertErr  error
	PersistErr error

	// Refs is returned by PersistWorkflowResult; zero-value fields fall
	// back to generated canonical ids.
	Refs types.TurnRefs
}

// NewRecordingStore builds an empty RecordingStore.
func NewRecordingStore() *RecordingStore {
	return &RecordingStore{
		responses: make(map[string]store.StoredResponse),
		contexts:  make(map[string]types.ProviderContext),
	}
}

func respKey(sessionID, turnID, providerID, responseType string, index int) string {
	return fmt.Sprintf("%s/%s/%s/%s/%d", sessionID, turnID, providerID, responseType, index)
}

func (s *RecordingStore) UpsertProviderResponse(_ context.Context, r store.StoredResponse) error {
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	s.mu.Lock()
	s.responses[respKey(r.SessionID, r.TurnID, r.ProviderID, r.ResponseType, r.Index)] = r
	s.mu.Unlock()
	return nil
}

func (s *RecordingStore) GetProviderResponses(_ context.Context, sessionID, turnID, providerID string) ([]store.StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.StoredResponse
	for _, r := range s.responses {
		if r.SessionID == sessionID && r.TurnID == turnID && r.ProviderID == providerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RecordingStore) GetTurnResponses(_ context.Context, sessionID, turnID, responseType string) ([]store.StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.StoredResponse
	for _, r := range s.responses {
		if r.SessionID == sessionID && r.TurnID == turnID && r.ResponseType == responseType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RecordingStore) PersistWorkflowResult(_ context.Context, _ *types.WorkflowRequest, resolved *types.ResolvedContext, result *store.WorkflowResult) (types.TurnRefs, error) {
	if s.PersistErr != nil {
		return types.TurnRefs{}, s.PersistErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted = append(s.persisted, *result)

	refs := s.Refs
	if refs.SessionID == "" {
		refs.SessionID = resolved.SessionID
	}
	if refs.UserTurnID == "" {
		refs.UserTurnID = fmt.Sprintf("user-turn-%d", len(s.persisted))
	}
	if refs.AITurnID == "" {
		refs.AITurnID = fmt.Sprintf("ai-turn-%d", len(s.persisted))
	}
	return refs, nil
}

func (s *RecordingStore) SaveProviderContext(_ context.Context, sessionID string, pc types.ProviderContext) error {
	s.mu.Lock()
	s.contexts[sessionID+"/"+pc.ProviderID] = pc
	s.mu.Unlock()
	return nil
}

func (s *RecordingStore) GetProviderContext(_ context.Context, sessionID, providerID string) (types.ProviderContext, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.contexts[sessionID+"/"+providerID]
	return pc, ok, nil
}

func (s *RecordingStore) Ping(context.Context) error { return nil }
func (s *RecordingStore) Close() error               { return nil }

// Persisted returns a copy of every persisted workflow result.
func (s *RecordingStore) Persisted() []store.WorkflowResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.WorkflowResult(nil), s.persisted...)
}

// ResponseCount reports how many distinct response rows are stored.
func (s *RecordingStore) ResponseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}

// SeedContext stores a provider context directly.
func (s *RecordingStore) SeedContext(sessionID string, pc types.ProviderContext) {
	s.mu.Lock()
	s.contexts[sessionID+"/"+pc.ProviderID] = pc
	s.mu.Unlock()
}
