package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-ai/conclave/types"
)

func TestCompileInitialize(t *testing.T) {
	c := NewCompiler()

	req := &types.WorkflowRequest{
		Kind:           types.RequestInitialize,
		UserMessage:    "compare the options",
		Providers:      []string{"alpha", "beta", "gamma"},
		IncludeMapping: true,
	}
	plan, err := c.Compile(req, &types.ResolvedContext{Kind: types.RequestInitialize})
	require.NoError(t, err)

	require.Len(t, plan.Steps, 2)
	assert.NotEmpty(t, plan.WorkflowID)
	assert.NotEmpty(t, plan.Context.SessionID)

	batch := plan.Steps[0]
	assert.Equal(t, types.StepBatch, batch.Type)
	bp, ok := batch.Payload.(types.BatchPayload)
	require.True(t, ok)
	assert.Equal(t, "compare the options", bp.Prompt)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, bp.Providers)
	assert.False(t, bp.Retry)

	mapping := plan.Steps[1]
	assert.Equal(t, types.StepMapping, mapping.Type)
	ap, ok := mapping.Payload.(types.AnalysisPayload)
	require.True(t, ok)
	assert.Equal(t, []string{batch.ID}, ap.SourceStepIDs)
}

func TestCompileInitializeWithoutMapping(t *testing.T) {
	c := NewCompiler()
	plan, err := c.Compile(&types.WorkflowRequest{
		Kind:        types.RequestInitialize,
		UserMessage: "q",
		Providers:   []string{"alpha"},
	}, &types.ResolvedContext{Kind: types.RequestInitialize})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, types.StepBatch, plan.Steps[0].Type)
}

func TestCompileInitializeKeepsCallerSessionID(t *testing.T) {
	c := NewCompiler()
	plan, err := c.Compile(&types.WorkflowRequest{
		Kind:        types.RequestInitialize,
		UserMessage: "q",
		Providers:   []string{"alpha"},
		SessionID:   "caller-session",
	}, &types.ResolvedContext{Kind: types.RequestInitialize})
	require.NoError(t, err)
	assert.Equal(t, "caller-session", plan.Context.SessionID)
}

func TestCompileExtendReusesSessionAndPriorContext(t *testing.T) {
	c := NewCompiler()
	plan, err := c.Compile(&types.WorkflowRequest{
		Kind:        types.RequestExtend,
		UserMessage: "follow up",
		Providers:   []string{"alpha", "beta"},
		SessionID:   "s-1",
	}, &types.ResolvedContext{
		Kind:             types.RequestExtend,
		SessionID:        "s-1",
		LastTurnID:       "t-9",
		PriorContext:     "earlier discussion",
		ProviderContexts: map[string]types.ProviderContext{},
	})
	require.NoError(t, err)
	assert.Equal(t, "s-1", plan.Context.SessionID)

	bp := plan.Steps[0].Payload.(types.BatchPayload)
	assert.Equal(t, "earlier discussion", bp.PriorContext)
}

func TestCompileRecomputeBatchCarriesContinuation(t *testing.T) {
	c := NewCompiler()
	meta := json.RawMessage(`{"thread":"abc"}`)
	plan, err := c.Compile(&types.WorkflowRequest{
		Kind:           types.RequestRecompute,
		SessionID:      "s-1",
		SourceTurnID:   "t-4",
		StepType:       types.StepBatch,
		TargetProvider: "beta",
	}, &types.ResolvedContext{
		Kind:      types.RequestRecompute,
		SessionID: "s-1",
		StepType:  types.StepBatch,
		ProviderContexts: map[string]types.ProviderContext{
			"beta": {ProviderID: "beta", Meta: meta},
		},
	})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)

	bp := plan.Steps[0].Payload.(types.BatchPayload)
	assert.True(t, bp.Retry)
	assert.Equal(t, []string{"beta"}, bp.Providers)
	assert.JSONEq(t, `{"thread":"abc"}`, string(bp.Continuation))
}

func TestCompileRecomputeMappingPointsAtHistory(t *testing.T) {
	c := NewCompiler()
	plan, err := c.Compile(&types.WorkflowRequest{
		Kind:           types.RequestRecompute,
		SessionID:      "s-1",
		SourceTurnID:   "t-4",
		StepType:       types.StepMapping,
		TargetProvider: "alpha",
	}, &types.ResolvedContext{
		Kind:      types.RequestRecompute,
		SessionID: "s-1",
		StepType:  types.StepMapping,
		FrozenBatchOutputs: []types.HistoricalResponse{
			{ProviderID: "alpha", ResponseType: "batch", Text: "frozen"},
			{ProviderID: "beta", ResponseType: "batch", Text: "frozen"},
		},
	})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)

	ap := plan.Steps[0].Payload.(types.AnalysisPayload)
	assert.Equal(t, "alpha", ap.Provider)
	require.NotNil(t, ap.SourceHistorical)
	assert.Equal(t, "t-4", ap.SourceHistorical.TurnID)
	assert.Empty(t, ap.SourceStepIDs)
}

func TestCompileValidationErrors(t *testing.T) {
	c := NewCompiler()
	resolved := func(k types.RequestKind) *types.ResolvedContext {
		return &types.ResolvedContext{Kind: k}
	}

	cases := []struct {
		name  string
		req   *types.WorkflowRequest
		field string
	}{
		{
			name:  "initialize missing message",
			req:   &types.WorkflowRequest{Kind: types.RequestInitialize, Providers: []string{"a"}},
			field: "userMessage",
		},
		{
			name:  "initialize missing providers",
			req:   &types.WorkflowRequest{Kind: types.RequestInitialize, UserMessage: "q"},
			field: "providers",
		},
		{
			name:  "extend missing session",
			req:   &types.WorkflowRequest{Kind: types.RequestExtend, UserMessage: "q", Providers: []string{"a"}},
			field: "sessionId",
		},
		{
			name: "recompute missing source turn",
			req: &types.WorkflowRequest{
				Kind: types.RequestRecompute, SessionID: "s",
				StepType: types.StepBatch, TargetProvider: "a",
			},
			field: "sourceTurnId",
		},
		{
			name: "recompute bad step type",
			req: &types.WorkflowRequest{
				Kind: types.RequestRecompute, SessionID: "s", SourceTurnID: "t",
				StepType: types.StepSynthesis, TargetProvider: "a",
			},
			field: "stepType",
		},
		{
			name: "recompute missing target provider",
			req: &types.WorkflowRequest{
				Kind: types.RequestRecompute, SessionID: "s", SourceTurnID: "t",
				StepType: types.StepBatch,
			},
			field: "targetProvider",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Compile(tc.req, resolved(tc.req.Kind))
			require.Error(t, err)
			var te *types.Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, types.ErrInvalidRequest, te.Code)
			assert.Equal(t, tc.field, te.Field)
		})
	}
}

func TestCompileContextValidation(t *testing.T) {
	c := NewCompiler()

	_, err := c.Compile(&types.WorkflowRequest{
		Kind:        types.RequestExtend,
		UserMessage: "q",
		Providers:   []string{"a"},
		SessionID:   "s",
	}, &types.ResolvedContext{Kind: types.RequestExtend, SessionID: "s"})
	var te *types.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, types.ErrInvalidContext, te.Code)
	assert.Equal(t, "lastTurnId", te.Field)

	// Non-batch recompute needs frozen outputs to analyze.
	_, err = c.Compile(&types.WorkflowRequest{
		Kind:           types.RequestRecompute,
		SessionID:      "s",
		SourceTurnID:   "t",
		StepType:       types.StepMapping,
		TargetProvider: "a",
	}, &types.ResolvedContext{Kind: types.RequestRecompute, SessionID: "s", StepType: types.StepMapping})
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "frozenBatchOutputs", te.Field)

	// Kind mismatch between request and context.
	_, err = c.Compile(&types.WorkflowRequest{
		Kind:        types.RequestInitialize,
		UserMessage: "q",
		Providers:   []string{"a"},
	}, &types.ResolvedContext{Kind: types.RequestExtend})
	require.ErrorAs(t, err, &te)
	assert.Equal(t, types.ErrInvalidContext, te.Code)
}
