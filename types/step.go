package types

// StepType discriminates the payload carried by a Step.
type StepType string

const (
	StepBatch      StepType = "batch"
	StepMapping    StepType = "mapping"
	StepSynthesis  StepType = "synthesis"
	StepRefiner    StepType = "refiner"
	StepAntagonist StepType = "antagonist"
	StepUnderstand StepType = "understand"
	StepGauntlet   StepType = "gauntlet"
)

// StepPayload is the sealed payload union for Step. Exactly one concrete
// payload type exists per StepType; constructors in the workflow package
// enforce the pairing so an invalid type/payload combination cannot be built.
type StepPayload interface {
	StepType() StepType
}

// BatchPayload fans one prompt out to several providers in parallel.
type BatchPayload struct {
	Prompt       string
	PriorContext string
	Providers    []string

	// Retry marks a single-provider recompute of a historical batch call.
	// Continuation carries the target provider's conversation thread forward
	// so the retried call continues rather than starting fresh.
	Retry        bool
	Continuation ContinuationMeta
}

func (BatchPayload) StepType() StepType { return StepBatch }

// AnalysisPayload is shared by every post-batch step type: mapping,
// synthesis, refiner, antagonist, understand and gauntlet all read >=2
// resolved input sources and act through a single provider.
type AnalysisPayload struct {
	Type     StepType
	Provider string

	// SourceStepIDs link this step to the in-run steps whose results it
	// consumes (normally the batch step).
	SourceStepIDs []string

	// SourceHistorical points at a persisted turn to re-derive from, used by
	// recompute instead of SourceStepIDs.
	SourceHistorical *HistoricalRef
}

func (p AnalysisPayload) StepType() StepType { return p.Type }

// HistoricalRef identifies persisted provider responses by turn and type.
type HistoricalRef struct {
	TurnID       string
	ResponseType string
}

// Step is one typed unit of work in a compiled workflow plan.
type Step struct {
	ID      string
	Type    StepType
	Payload StepPayload
}

// StepStatus is the terminal status of an executed step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// ProviderResult is one provider's output within a step result.
type ProviderResult struct {
	ProviderID string           `json:"provider_id"`
	Text       string           `json:"text"`
	Meta       ContinuationMeta `json:"meta,omitempty"`

	// SoftError marks usable text recovered from the streaming buffer after
	// the provider reported an error mid-stream.
	SoftError bool   `json:"soft_error,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// StepOutput aggregates a completed step's provider results. For analysis
// steps there is exactly one entry (the acting provider).
type StepOutput struct {
	StepID     StepID                    `json:"step_id"`
	Type       StepType                  `json:"type"`
	Results    map[string]ProviderResult `json:"results"`
	Structured *MappingOutput            `json:"structured,omitempty"`
}

// StepID names a step uniquely within one workflow.
type StepID = string

// CompletedProviders returns the ids of providers that produced non-empty
// text. Order is unspecified; callers that need determinism must sort.
func (o *StepOutput) CompletedProviders() []string {
	ids := make([]string, 0, len(o.Results))
	for id, r := range o.Results {
		if r.Text != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// SucceededProviders returns the ids of providers whose calls completed
// with non-empty text. Soft-error recoveries carry usable text but their
// calls failed, so they are excluded; witness counting and supporter
// restriction both want this stricter set.
func (o *StepOutput) SucceededProviders() []string {
	ids := make([]string, 0, len(o.Results))
	for id, r := range o.Results {
		if r.Text != "" && !r.SoftError {
			ids = append(ids, id)
		}
	}
	return ids
}

// StepResult is owned exclusively by the engine during one run and never
// mutated after insertion into the run's results map.
type StepResult struct {
	Status StepStatus  `json:"status"`
	Output *StepOutput `json:"output,omitempty"`
	Err    error       `json:"-"`
}

// ProviderState is the ephemeral per-provider lifecycle state emitted to the
// boundary. It is never persisted.
type ProviderState string

const (
	ProviderQueued    ProviderState = "queued"
	ProviderStreaming ProviderState = "streaming"
	ProviderCompleted ProviderState = "completed"
	ProviderFailed    ProviderState = "failed"
	ProviderSkipped   ProviderState = "skipped"
)

// ProviderStatus pairs a provider with its current state and, for failed or
// skipped providers, the reason.
type ProviderStatus struct {
	ProviderID string        `json:"provider_id"`
	Status     ProviderState `json:"status"`
	Error      string        `json:"error,omitempty"`
}
