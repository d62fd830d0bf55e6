package types

// EventType identifies a boundary-protocol event.
type EventType string

const (
	// EventWorkflowProgress carries the current provider status list.
	EventWorkflowProgress EventType = "WORKFLOW_PROGRESS"
	// EventWorkflowStepUpdate reports a step reaching a terminal status.
	EventWorkflowStepUpdate EventType = "WORKFLOW_STEP_UPDATE"
	// EventPartialResult carries one streaming delta chunk.
	EventPartialResult EventType = "PARTIAL_RESULT"
	// EventWorkflowPartialComplete reports a phase's successful vs failed
	// providers.
	EventWorkflowPartialComplete EventType = "WORKFLOW_PARTIAL_COMPLETE"
	// EventWorkflowComplete is terminal; emitted exactly once per run.
	EventWorkflowComplete EventType = "WORKFLOW_COMPLETE"
	// EventTurnCreated announces placeholder turn identifiers.
	EventTurnCreated EventType = "TURN_CREATED"
	// EventTurnFinalized announces the canonical persisted identifiers.
	EventTurnFinalized EventType = "TURN_FINALIZED"
)

// HaltReason explains why a run stopped before the final phase.
type HaltReason string

const (
	HaltInsufficientWitnesses HaltReason = "insufficient_witnesses"
	HaltBatchFailed           HaltReason = "batch_failed"
	HaltMappingFailed         HaltReason = "mapping_failed"
	HaltSynthesisFailed       HaltReason = "synthesis_failed"
	HaltByUser                HaltReason = "halted_by_user"
)

// Event is one boundary-protocol message, correlated by session and step.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	StepID    string    `json:"step_id,omitempty"`

	// EventWorkflowProgress.
	Providers      []ProviderStatus `json:"providers,omitempty"`
	CompletedCount int              `json:"completed_count,omitempty"`
	FailedCount    int              `json:"failed_count,omitempty"`

	// EventWorkflowStepUpdate.
	StepStatus StepStatus `json:"step_status,omitempty"`
	StepError  string     `json:"step_error,omitempty"`

	// EventPartialResult.
	ProviderID string `json:"provider_id,omitempty"`
	Delta      string `json:"delta,omitempty"`
	Final      bool   `json:"final,omitempty"`

	// EventWorkflowPartialComplete.
	Succeeded []string `json:"succeeded,omitempty"`
	Failed    []string `json:"failed,omitempty"`

	// EventWorkflowComplete.
	HaltReason HaltReason `json:"halt_reason,omitempty"`

	// EventTurnCreated / EventTurnFinalized.
	Turns *TurnRefs `json:"turns,omitempty"`
}

// EventSink receives boundary events. Implementations must be safe for
// concurrent use; the executor emits streaming deltas from fan-out
// callbacks.
type EventSink func(Event)

// Discard is an EventSink that drops every event.
func Discard(Event) {}
