package workflow

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/conclave-ai/conclave/consensus"
	"github.com/conclave-ai/conclave/store"
	"github.com/conclave-ai/conclave/streaming"
	"github.com/conclave-ai/conclave/types"
)

// seedStepID names the synthetic batch result inserted for recompute runs.
const seedStepID = "seed-batch"

// ConfirmationGate decides whether a run should stop after mapping for modes
// that require user confirmation before deep analysis. A nil gate never
// halts.
type ConfirmationGate interface {
	ShouldHalt(ctx context.Context, req *types.WorkflowRequest, mapping *types.MappingOutput) bool
}

// EngineConfig carries the engine's tunables.
type EngineConfig struct {
	// Quorum is the minimum number of completed non-empty providers required
	// to proceed past the batch phase on non-recompute runs.
	Quorum int
	// Analytics parameterizes the consensus gate and structural analysis.
	Analytics consensus.AnalyticsConfig
}

// DefaultEngineConfig returns the standard quorum and analytics constants.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Quorum:    2,
		Analytics: consensus.DefaultConfig(),
	}
}

// RunResult is the aggregate outcome of one engine run.
type RunResult struct {
	WorkflowID    string
	Turns         types.TurnRefs
	HaltReason    types.HaltReason
	Steps         map[types.StepID]*types.StepResult
	Gate          *types.ConsensusGate
	Structure     *types.ProblemStructure
	ConsensusOnly bool
}

// Engine drives one workflow run through its phases in strict order,
// enforcing the halt rules and handing the final aggregate to the store.
// All per-run caches are owned by the run and torn down when it ends.
type Engine struct {
	logger   *zap.Logger
	compiler *Compiler
	executor *Executor
	stream   *streaming.Manager
	store    store.TurnStore
	confirm  ConfirmationGate
	sink     types.EventSink
	tracer   trace.Tracer
	observer Observer
	config   EngineConfig
}

// NewEngine wires an Engine. store and confirm may be nil; sink may be nil
// for a silent engine.
func NewEngine(
	logger *zap.Logger,
	compiler *Compiler,
	executor *Executor,
	stream *streaming.Manager,
	turnStore store.TurnStore,
	confirm ConfirmationGate,
	sink types.EventSink,
	config EngineConfig,
) *Engine {
	if sink == nil {
		sink = types.Discard
	}
	if config.Quorum <= 0 {
		config.Quorum = 2
	}
	return &Engine{
		logger:   logger.With(zap.String("component", "engine")),
		compiler: compiler,
		executor: executor,
		stream:   stream,
		store:    turnStore,
		confirm:  confirm,
		sink:     sink,
		tracer:   otel.Tracer("github.com/conclave-ai/conclave/workflow"),
		config:   config,
	}
}

// SetObserver attaches an execution-measurement sink. Not safe to call
// after runs start.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
	e.executor.SetObserver(o)
}

// Run executes one workflow request to completion. Compilation failures
// return an error before any phase runs; a halted run returns a RunResult
// carrying the halt reason and a nil error. Exactly one WORKFLOW_COMPLETE
// event is emitted per started run.
func (e *Engine) Run(ctx context.Context, req *types.WorkflowRequest, resolved *types.ResolvedContext) (*RunResult, error) {
	plan, err := e.compiler.Compile(req, resolved)
	if err != nil {
		return nil, err
	}

	run := &runState{
		workflowID: plan.WorkflowID,
		sessionID:  plan.Context.SessionID,
		turnID:     uuid.NewString(),
		resolved:   plan.Context,
		cache:      newContextCache(),
		results:    make(map[string]*types.StepResult),
		sink:       e.sink,
	}
	defer e.stream.ClearSession(run.sessionID)

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", run.workflowID),
		attribute.String("workflow.session_id", run.sessionID),
		attribute.String("workflow.kind", string(req.Kind)),
	))
	defer span.End()

	logger := e.logger.With(
		zap.String("workflow_id", run.workflowID),
		zap.String("session_id", run.sessionID),
		zap.String("kind", string(req.Kind)),
	)
	logger.Info("run started", zap.Int("steps", len(plan.Steps)))

	run.emit(types.Event{
		Type:  types.EventTurnCreated,
		Turns: &types.TurnRefs{SessionID: run.sessionID, AITurnID: run.turnID},
	})

	e.seed(req, run)

	out := &RunResult{
		WorkflowID: run.workflowID,
		Steps:      run.results,
	}

	var batchStep, mappingStep *types.Step
	for i := range plan.Steps {
		step := plan.Steps[i]
		res := e.runStep(ctx, run, step, logger)

		switch step.Type {
		case types.StepBatch:
			batchStep = &plan.Steps[i]
			if res.Status == types.StepFailed {
				return e.finalize(ctx, req, run, out, types.HaltBatchFailed, logger), nil
			}
			completed := res.Output.SucceededProviders()
			e.emitPartialComplete(run, step.ID, res)
			if len(completed) < e.config.Quorum && req.Kind != types.RequestRecompute {
				logger.Warn("batch under quorum",
					zap.Int("completed", len(completed)),
					zap.Int("quorum", e.config.Quorum),
				)
				return e.finalize(ctx, req, run, out, types.HaltInsufficientWitnesses, logger), nil
			}
		case types.StepMapping:
			mappingStep = &plan.Steps[i]
			if res.Status == types.StepFailed {
				return e.finalize(ctx, req, run, out, types.HaltMappingFailed, logger), nil
			}
		}
	}

	// Recompute re-derives one step; deep analysis never follows it. Runs
	// without a mapping step stop after batch.
	if req.Kind == types.RequestRecompute || mappingStep == nil {
		return e.finalize(ctx, req, run, out, "", logger), nil
	}

	mapping := run.results[mappingStep.ID].Output.Structured
	batchCompleted := run.results[batchStep.ID].Output.SucceededProviders()
	sort.Strings(batchCompleted)

	if err := consensus.ValidateGraph(mapping.Claims, mapping.Edges); err != nil {
		logger.Warn("mapping produced an invalid claim graph", zap.Error(err))
		run.results[mappingStep.ID] = failed(err)
		return e.finalize(ctx, req, run, out, types.HaltMappingFailed, logger), nil
	}

	gate := consensus.ComputeConsensusGate(e.config.Analytics, mapping, batchCompleted)
	out.Gate = &gate
	out.ConsensusOnly = gate.ConsensusOnly
	logger.Info("consensus gate computed",
		zap.Bool("consensus_only", gate.ConsensusOnly),
		zap.String("reason", string(gate.Reason)),
		zap.Int("max_supporters", gate.Stats.MaxSupporters),
	)

	if !gate.ConsensusOnly {
		analysis, aerr := consensus.ComputeStructuralAnalysis(e.config.Analytics, mapping)
		if aerr != nil {
			logger.Warn("structural analysis failed", zap.Error(aerr))
		} else {
			out.Structure = &analysis.Structure
		}
	}

	if req.RequireConfirmation && e.confirm != nil &&
		e.confirm.ShouldHalt(ctx, req, mapping) {
		return e.finalize(ctx, req, run, out, types.HaltByUser, logger), nil
	}

	synthesisID, halted := e.runSynthesis(ctx, req, run, out, batchStep.ID, mappingStep.ID, batchCompleted, logger)
	if halted {
		return e.finalize(ctx, req, run, out, types.HaltSynthesisFailed, logger), nil
	}

	prior := synthesisID
	if !gate.ConsensusOnly {
		prior = e.runOptionalPhase(ctx, run, types.StepRefiner, []string{batchStep.ID, prior}, batchCompleted, 1, logger)
		prior = e.runOptionalPhase(ctx, run, types.StepAntagonist, []string{mappingStep.ID, prior}, batchCompleted, 2, logger)
	}
	prior = e.runOptionalPhase(ctx, run, types.StepUnderstand, []string{mappingStep.ID, prior}, batchCompleted, 3, logger)
	e.runOptionalPhase(ctx, run, types.StepGauntlet, []string{synthesisID, prior}, batchCompleted, 4, logger)

	return e.finalize(ctx, req, run, out, "", logger), nil
}

// seed pre-loads the in-run context cache and, for recompute, inserts a
// synthetic completed batch result built from frozen history so later phases
// can reference it as if it had just run.
func (e *Engine) seed(req *types.WorkflowRequest, run *runState) {
	switch req.Kind {
	case types.RequestExtend:
		run.cache.preload(run.resolved)
	case types.RequestRecompute:
		run.cache.preload(run.resolved)
		if len(run.resolved.FrozenBatchOutputs) == 0 {
			return
		}
		out := &types.StepOutput{
			StepID:  seedStepID,
			Type:    types.StepBatch,
			Results: make(map[string]types.ProviderResult),
		}
		for _, h := range run.resolved.FrozenBatchOutputs {
			out.Results[h.ProviderID] = types.ProviderResult{
				ProviderID: h.ProviderID,
				Text:       h.Text,
				Meta:       h.Meta,
			}
		}
		run.results[seedStepID] = &types.StepResult{Status: types.StepCompleted, Output: out}
	}
}

// runStep executes one step, records its immutable result and reports the
// terminal status at the boundary.
func (e *Engine) runStep(ctx context.Context, run *runState, step types.Step, logger *zap.Logger) *types.StepResult {
	logger.Info("step started",
		zap.String("step_id", step.ID),
		zap.String("step_type", string(step.Type)),
	)
	ctx, span := e.tracer.Start(ctx, "workflow.step."+string(step.Type),
		trace.WithAttributes(attribute.String("step.id", step.ID)))
	started := time.Now()
	res := e.executor.ExecuteStep(ctx, run, step)
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Error())
	}
	span.End()
	if e.observer != nil {
		e.observer.RecordStep(string(step.Type), string(res.Status), time.Since(started))
	}
	run.results[step.ID] = res

	ev := types.Event{
		Type:       types.EventWorkflowStepUpdate,
		StepID:     step.ID,
		StepStatus: res.Status,
	}
	if res.Err != nil {
		ev.StepError = res.Err.Error()
		logger.Warn("step failed",
			zap.String("step_id", step.ID),
			zap.String("step_type", string(step.Type)),
			zap.Error(res.Err),
		)
	}
	run.emit(ev)
	return res
}

// runSynthesis runs the synthesis phase; its failure halts the run.
func (e *Engine) runSynthesis(ctx context.Context, req *types.WorkflowRequest, run *runState, out *RunResult, batchID, mappingID string, completed []string, logger *zap.Logger) (string, bool) {
	step := types.Step{
		ID:   newStepID(types.StepSynthesis),
		Type: types.StepSynthesis,
		Payload: types.AnalysisPayload{
			Type:          types.StepSynthesis,
			Provider:      pickActor(completed, 0),
			SourceStepIDs: []string{batchID, mappingID},
		},
	}
	res := e.runStep(ctx, run, step, logger)
	return step.ID, res.Status == types.StepFailed
}

// runOptionalPhase runs one post-synthesis step. Failure is recorded but
// does not halt the run. Returns the step id to chain into the next phase,
// falling back to the prior sources when the step failed.
func (e *Engine) runOptionalPhase(ctx context.Context, run *runState, stepType types.StepType, sourceIDs []string, completed []string, rotation int, logger *zap.Logger) string {
	step := types.Step{
		ID:   newStepID(stepType),
		Type: stepType,
		Payload: types.AnalysisPayload{
			Type:          stepType,
			Provider:      pickActor(completed, rotation),
			SourceStepIDs: sourceIDs,
		},
	}
	res := e.runStep(ctx, run, step, logger)
	if res.Status == types.StepFailed {
		return sourceIDs[len(sourceIDs)-1]
	}
	return step.ID
}

// finalize persists whatever the run produced, adopts the store's canonical
// turn identifiers and signals completion exactly once.
func (e *Engine) finalize(ctx context.Context, req *types.WorkflowRequest, run *runState, out *RunResult, halt types.HaltReason, logger *zap.Logger) *RunResult {
	out.HaltReason = halt
	out.Turns = types.TurnRefs{SessionID: run.sessionID, AITurnID: run.turnID}

	if e.store != nil {
		started := time.Now()
		refs, err := e.store.PersistWorkflowResult(ctx, req, run.resolved, e.aggregate(run, out))
		if e.observer != nil {
			e.observer.RecordPersist("workflow_result", time.Since(started))
		}
		if err != nil {
			logger.Error("persisting workflow result failed", zap.Error(err))
		} else {
			// Canonical identifiers override the run's placeholders.
			out.Turns = refs
			run.sessionID = refs.SessionID
			run.turnID = refs.AITurnID
			run.emit(types.Event{Type: types.EventTurnFinalized, Turns: &refs})
		}
	}

	run.emit(types.Event{
		Type:       types.EventWorkflowComplete,
		HaltReason: halt,
	})
	logger.Info("run finished",
		zap.String("halt_reason", string(halt)),
		zap.String("ai_turn_id", out.Turns.AITurnID),
	)
	return out
}

func (e *Engine) aggregate(run *runState, out *RunResult) *store.WorkflowResult {
	agg := &store.WorkflowResult{
		WorkflowID: run.workflowID,
		Steps:      make(map[types.StepID]*types.StepOutput),
		Gate:       out.Gate,
		Structure:  out.Structure,
		HaltReason: out.HaltReason,
	}
	for id, res := range run.results {
		if res.Status == types.StepCompleted && res.Output != nil {
			agg.Steps[id] = res.Output
		}
	}
	return agg
}

func (e *Engine) emitPartialComplete(run *runState, stepID string, res *types.StepResult) {
	var succeeded, failedIDs []string
	for id, pr := range res.Output.Results {
		if pr.Text != "" && !pr.SoftError {
			succeeded = append(succeeded, id)
		} else {
			failedIDs = append(failedIDs, id)
		}
	}
	sort.Strings(succeeded)
	sort.Strings(failedIDs)
	run.emit(types.Event{
		Type:      types.EventWorkflowPartialComplete,
		StepID:    stepID,
		Succeeded: succeeded,
		Failed:    failedIDs,
	})
}

// pickActor rotates deterministically through the completed providers so the
// critique phases are not all voiced by the same provider.
func pickActor(completed []string, rotation int) string {
	if len(completed) == 0 {
		return ""
	}
	return completed[rotation%len(completed)]
}
