package workflow

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/conclave-ai/conclave/types"
)

// Plan is the compiled form of one workflow request: an ordered list of
// typed steps plus the context they execute under.
type Plan struct {
	WorkflowID string
	Context    *types.ResolvedContext
	Steps      []types.Step
}

// Compiler turns a WorkflowRequest plus its ResolvedContext into a Plan.
// Pure and synchronous; no I/O.
type Compiler struct{}

// NewCompiler builds a Compiler.
func NewCompiler() *Compiler { return &Compiler{} }

// Compile validates the request against its kind, validates the resolved
// context analogously, and constructs the ordered step list. Validation
// failures are *types.Error with code INVALID_REQUEST or INVALID_CONTEXT
// naming the offending field.
func (c *Compiler) Compile(req *types.WorkflowRequest, resolved *types.ResolvedContext) (*Plan, error) {
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "request is nil")
	}
	if resolved == nil {
		return nil, types.NewError(types.ErrInvalidContext, "resolved context is nil")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := validateContext(req, resolved); err != nil {
		return nil, err
	}

	ctx := *resolved
	ctx.SessionID = sessionID(req, resolved)

	plan := &Plan{
		WorkflowID: uuid.NewString(),
		Context:    &ctx,
	}

	switch req.Kind {
	case types.RequestInitialize, types.RequestExtend:
		batchID := newStepID(types.StepBatch)
		plan.Steps = append(plan.Steps, types.Step{
			ID:   batchID,
			Type: types.StepBatch,
			Payload: types.BatchPayload{
				Prompt:       req.UserMessage,
				PriorContext: ctx.PriorContext,
				Providers:    append([]string(nil), req.Providers...),
			},
		})
		if req.IncludeMapping {
			plan.Steps = append(plan.Steps, types.Step{
				ID:   newStepID(types.StepMapping),
				Type: types.StepMapping,
				Payload: types.AnalysisPayload{
					Type:          types.StepMapping,
					SourceStepIDs: []string{batchID},
				},
			})
		}

	case types.RequestRecompute:
		if req.StepType == types.StepBatch {
			plan.Steps = append(plan.Steps, types.Step{
				ID:   newStepID(types.StepBatch),
				Type: types.StepBatch,
				Payload: types.BatchPayload{
					Prompt:       req.UserMessage,
					Providers:    []string{req.TargetProvider},
					Retry:        true,
					Continuation: continuationFor(resolved, req.TargetProvider),
				},
			})
		} else {
			plan.Steps = append(plan.Steps, types.Step{
				ID:   newStepID(types.StepMapping),
				Type: types.StepMapping,
				Payload: types.AnalysisPayload{
					Type:     types.StepMapping,
					Provider: req.TargetProvider,
					SourceHistorical: &types.HistoricalRef{
						TurnID:       req.SourceTurnID,
						ResponseType: "batch",
					},
				},
			})
		}
	}

	return plan, nil
}

func validateRequest(req *types.WorkflowRequest) error {
	switch req.Kind {
	case types.RequestInitialize:
		if req.UserMessage == "" {
			return invalidRequest("userMessage")
		}
		if len(req.Providers) == 0 {
			return invalidRequest("providers")
		}
	case types.RequestExtend:
		if req.UserMessage == "" {
			return invalidRequest("userMessage")
		}
		if len(req.Providers) == 0 {
			return invalidRequest("providers")
		}
		if req.SessionID == "" {
			return invalidRequest("sessionId")
		}
	case types.RequestRecompute:
		if req.SessionID == "" {
			return invalidRequest("sessionId")
		}
		if req.SourceTurnID == "" {
			return invalidRequest("sourceTurnId")
		}
		if req.StepType != types.StepBatch && req.StepType != types.StepMapping {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("recompute supports step types batch and mapping, got %q", req.StepType)).
				WithField("stepType")
		}
		if req.TargetProvider == "" {
			return invalidRequest("targetProvider")
		}
	default:
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown request kind %q", req.Kind)).WithField("kind")
	}
	return nil
}

func validateContext(req *types.WorkflowRequest, resolved *types.ResolvedContext) error {
	if resolved.Kind != req.Kind {
		return types.NewError(types.ErrInvalidContext,
			fmt.Sprintf("context kind %q does not match request kind %q", resolved.Kind, req.Kind)).
			WithField("kind")
	}
	switch req.Kind {
	case types.RequestExtend:
		if resolved.SessionID == "" {
			return invalidContext("sessionId")
		}
		if resolved.LastTurnID == "" {
			return invalidContext("lastTurnId")
		}
		if resolved.ProviderContexts == nil {
			return invalidContext("providerContexts")
		}
	case types.RequestRecompute:
		if resolved.SessionID == "" {
			return invalidContext("sessionId")
		}
		if req.StepType != types.StepBatch && len(resolved.FrozenBatchOutputs) == 0 {
			return invalidContext("frozenBatchOutputs")
		}
	}
	return nil
}

// sessionID applies the session-id policy: initialize generates a fresh id
// only when the caller supplied none; extend and recompute always reuse the
// supplied id.
func sessionID(req *types.WorkflowRequest, resolved *types.ResolvedContext) string {
	if req.Kind == types.RequestInitialize {
		if req.SessionID != "" {
			return req.SessionID
		}
		if resolved.SessionID != "" {
			return resolved.SessionID
		}
		return uuid.NewString()
	}
	if resolved.SessionID != "" {
		return resolved.SessionID
	}
	return req.SessionID
}

func continuationFor(resolved *types.ResolvedContext, providerID string) types.ContinuationMeta {
	if pc, ok := resolved.ProviderContexts[providerID]; ok {
		return pc.Meta
	}
	for _, h := range resolved.FrozenBatchOutputs {
		if h.ProviderID == providerID && len(h.Meta) > 0 {
			return h.Meta
		}
	}
	return nil
}

func newStepID(t types.StepType) string {
	return fmt.Sprintf("%s-%s", t, uuid.NewString()[:8])
}

func invalidRequest(field string) *types.Error {
	return types.NewError(types.ErrInvalidRequest, "missing required field "+field).WithField(field)
}

func invalidContext(field string) *types.Error {
	return types.NewError(types.ErrInvalidContext, "missing required field "+field).WithField(field)
}
