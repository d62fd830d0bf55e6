package types

import "encoding/json"

// RequestKind tags a WorkflowRequest with its lifecycle intent.
type RequestKind string

const (
	// RequestInitialize starts a brand-new session from a user message.
	RequestInitialize RequestKind = "initialize"
	// RequestExtend continues an existing session with a follow-up message.
	RequestExtend RequestKind = "extend"
	// RequestRecompute re-derives one historical step using frozen prior
	// outputs as context.
	RequestRecompute RequestKind = "recompute"
)

// ContinuationMeta is the opaque per-provider conversation continuation
// token. The engine carries it between phases and persists it, but never
// branches on its internal shape; only the provider boundary may decode it.
type ContinuationMeta = json.RawMessage

// WorkflowRequest describes one user-facing unit of work. Immutable once
// created; the compiler validates it against its Kind.
type WorkflowRequest struct {
	Kind        RequestKind `json:"kind"`
	UserMessage string      `json:"user_message,omitempty"`
	Providers   []string    `json:"providers,omitempty"`
	SessionID   string      `json:"session_id,omitempty"`

	// IncludeMapping appends a mapping step after the batch step for
	// initialize/extend requests.
	IncludeMapping bool `json:"include_mapping,omitempty"`

	// RequireConfirmation asks the engine to consult the confirmation gate
	// after mapping before running the deep-analysis phases.
	RequireConfirmation bool `json:"require_confirmation,omitempty"`

	// Recompute-only fields.
	SourceTurnID   string   `json:"source_turn_id,omitempty"`
	StepType       StepType `json:"step_type,omitempty"`
	TargetProvider string   `json:"target_provider,omitempty"`
}

// ProviderContext is one provider's continuation state within a session.
type ProviderContext struct {
	ProviderID string           `json:"provider_id"`
	Meta       ContinuationMeta `json:"meta,omitempty"`
}

// HistoricalResponse is a frozen provider output loaded from storage for
// recompute seeding and tier-2 context resolution.
type HistoricalResponse struct {
	ProviderID   string           `json:"provider_id"`
	ResponseType string           `json:"response_type"`
	Index        int              `json:"index"`
	Text         string           `json:"text"`
	Meta         ContinuationMeta `json:"meta,omitempty"`
}

// ResolvedContext echoes the request kind and carries the session/turn
// identifiers plus, for recompute, frozen historical outputs. Produced by an
// external resolver; the engine treats it as read-only.
type ResolvedContext struct {
	Kind       RequestKind `json:"kind"`
	SessionID  string      `json:"session_id,omitempty"`
	LastTurnID string      `json:"last_turn_id,omitempty"`

	// PriorContext is optional prior-conversation text folded into the batch
	// prompt for extend requests.
	PriorContext string `json:"prior_context,omitempty"`

	// ProviderContexts holds per-provider continuation metadata, keyed by
	// provider id.
	ProviderContexts map[string]ProviderContext `json:"provider_contexts,omitempty"`

	// Recompute-only fields.
	StepType           StepType             `json:"step_type,omitempty"`
	FrozenBatchOutputs []HistoricalResponse `json:"frozen_batch_outputs,omitempty"`
}

// TurnRefs are the canonical identifiers returned by the persistence
// collaborator once a workflow result is durably stored. They override any
// client-supplied placeholders.
type TurnRefs struct {
	SessionID  string `json:"session_id"`
	UserTurnID string `json:"user_turn_id"`
	AITurnID   string `json:"ai_turn_id"`
}
