// Package store provides durable persistence for sessions, turns and
// per-provider responses, with interchangeable memory, redis, sql and mongo
// backends behind one TurnStore interface.
package store

import (
	"context"

	"github.com/conclave-ai/conclave/types"
)

// Response types stored per provider within a turn.
const (
	ResponseBatch      = "batch"
	ResponseMapping    = "mapping"
	ResponseSynthesis  = "synthesis"
	ResponseRefiner    = "refiner"
	ResponseAntagonist = "antagonist"
	ResponseUnderstand = "understand"
	ResponseGauntlet   = "gauntlet"
)

// StoredResponse is one persisted provider output.
type StoredResponse struct {
	SessionID    string                 `json:"session_id"`
	TurnID       string                 `json:"turn_id"`
	ProviderID   string                 `json:"provider_id"`
	ResponseType string                 `json:"response_type"`
	Index        int                    `json:"index"`
	Text         string                 `json:"text"`
	Meta         types.ContinuationMeta `json:"meta,omitempty"`
	SoftError    bool                   `json:"soft_error,omitempty"`
}

// WorkflowResult is the aggregate handed to PersistWorkflowResult at the end
// of a run, grouped by step type.
type WorkflowResult struct {
	WorkflowID string                             `json:"workflow_id"`
	Steps      map[types.StepID]*types.StepOutput `json:"steps"`
	Gate       *types.ConsensusGate               `json:"gate,omitempty"`
	Structure  *types.ProblemStructure            `json:"structure,omitempty"`
	HaltReason types.HaltReason                   `json:"halt_reason,omitempty"`
}

// TurnStore is the persistence collaborator contract. UpsertProviderResponse
// is idempotent on (sessionID, turnID, providerID, responseType, index):
// repeated writes with the same key replace rather than duplicate.
type TurnStore interface {
	UpsertProviderResponse(ctx context.Context, r StoredResponse) error
	GetProviderResponses(ctx context.Context, sessionID, turnID, providerID string) ([]StoredResponse, error)
	GetTurnResponses(ctx context.Context, sessionID, turnID, responseType string) ([]StoredResponse, error)

	// PersistWorkflowResult stores the run's aggregate result and returns the
	// canonical turn identifiers, which override any client-supplied
	// placeholders.
	PersistWorkflowResult(ctx context.Context, req *types.WorkflowRequest, resolved *types.ResolvedContext, result *WorkflowResult) (types.TurnRefs, error)

	// SaveProviderContext and GetProviderContext back the durable tier of the
	// engine's provider-context resolution.
	SaveProviderContext(ctx context.Context, sessionID string, pc types.ProviderContext) error
	GetProviderContext(ctx context.Context, sessionID, providerID string) (types.ProviderContext, bool, error)

	Ping(ctx context.Context) error
	Close() error
}
