package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conclave-ai/conclave/fanout"
	"github.com/conclave-ai/conclave/health"
	"github.com/conclave-ai/conclave/provider"
	"github.com/conclave-ai/conclave/store"
	"github.com/conclave-ai/conclave/streaming"
	"github.com/conclave-ai/conclave/types"
)

// SanitizeFunc strips embedded structured blocks and other artifacts from a
// provider's raw text before aggregation. Identity when nil.
type SanitizeFunc func(text string) string

// FallbackStrategy picks a replacement provider after an auth failure in a
// synthesis step. Returning false means no fallback is available.
type FallbackStrategy interface {
	PickFallback(role types.StepType, completed []string) (string, bool)
}

// ExecutorConfig carries the executor's injected tunables.
type ExecutorConfig struct {
	// CallTimeout is the per-provider-call timeout handed to the fan-out
	// collaborator. Zero means no timeout.
	CallTimeout time.Duration
}

// Executor runs one step at a time against the fan-out collaborator, with
// health pre-flight, input-length gating, streaming reconciliation and
// partial-failure aggregation.
type Executor struct {
	logger   *zap.Logger
	health   health.Tracker
	stream   *streaming.Manager
	limits   *provider.LimitTable
	fanout   fanout.Collaborator
	store    store.TurnStore
	deferred *DeferredQueue
	sanitize SanitizeFunc
	fallback FallbackStrategy
	observer Observer
	config   ExecutorConfig
}

// NewExecutor wires an Executor. store, deferred, sanitize and fallback may
// be nil; the corresponding behaviors degrade gracefully.
func NewExecutor(
	logger *zap.Logger,
	tracker health.Tracker,
	stream *streaming.Manager,
	limits *provider.LimitTable,
	collaborator fanout.Collaborator,
	turnStore store.TurnStore,
	deferred *DeferredQueue,
	sanitize SanitizeFunc,
	fallback FallbackStrategy,
	config ExecutorConfig,
) *Executor {
	if sanitize == nil {
		sanitize = func(s string) string { return s }
	}
	return &Executor{
		logger:   logger.With(zap.String("component", "executor")),
		health:   tracker,
		stream:   stream,
		limits:   limits,
		fanout:   collaborator,
		store:    turnStore,
		deferred: deferred,
		sanitize: sanitize,
		fallback: fallback,
		config:   config,
	}
}

// SetObserver attaches an execution-measurement sink. Not safe to call
// after steps start.
func (e *Executor) SetObserver(o Observer) {
	e.observer = o
}

func (e *Executor) recordCall(providerID, status string, d time.Duration) {
	if e.observer != nil {
		e.observer.RecordProviderCall(providerID, status, d)
	}
}

// runState is the mutable state one engine run threads through its steps.
type runState struct {
	workflowID string
	sessionID  string
	turnID     string
	resolved   *types.ResolvedContext
	cache      *contextCache
	results    map[string]*types.StepResult
	sink       types.EventSink
}

func (r *runState) emit(ev types.Event) {
	ev.SessionID = r.sessionID
	r.sink(ev)
}

func (r *runState) result(stepID string) (*types.StepResult, bool) {
	res, ok := r.results[stepID]
	return res, ok
}

// ExecuteStep dispatches on the step's payload type.
func (e *Executor) ExecuteStep(ctx context.Context, run *runState, step types.Step) *types.StepResult {
	switch p := step.Payload.(type) {
	case types.BatchPayload:
		return e.executeBatch(ctx, run, step, p)
	case types.AnalysisPayload:
		return e.executeAnalysis(ctx, run, step, p)
	default:
		return failed(types.NewError(types.ErrInternalError,
			fmt.Sprintf("step %s has unsupported payload %T", step.ID, step.Payload)))
	}
}

// executeBatch fans the prompt out to every eligible provider concurrently
// and aggregates partial failures.
func (e *Executor) executeBatch(ctx context.Context, run *runState, step types.Step, payload types.BatchPayload) *types.StepResult {
	prompt := payload.Prompt
	if payload.PriorContext != "" {
		prompt = payload.PriorContext + "\n\n" + payload.Prompt
	}

	statuses := newStatusBoard(payload.Providers)

	// Pre-flight: circuit check per provider before any network call.
	var active []string
	for _, id := range payload.Providers {
		if d := e.health.ShouldAttempt(id); !d.Allowed {
			statuses.set(id, types.ProviderSkipped, string(types.ProviderErrCircuitOpen))
			continue
		}
		active = append(active, id)
	}

	// Input-length gate among the survivors.
	var eligible []string
	for _, id := range active {
		if !e.limits.Fits(id, prompt) {
			statuses.set(id, types.ProviderSkipped, string(types.ProviderErrInputTooLong))
			continue
		}
		eligible = append(eligible, id)
	}

	e.emitProgress(run, step.ID, statuses)

	if len(eligible) == 0 {
		return failed(types.NewError(types.ErrInputTooLong,
			"no provider can accept the prompt").WithField("providers"))
	}

	final := make(chan *types.StepResult, 1)
	dispatched := time.Now()
	cb := fanout.Callbacks{
		OnPartial: func(providerID, fullText string) {
			statuses.set(providerID, types.ProviderStreaming, "")
			e.forwardDelta(run, step.ID, providerID, fullText, false)
		},
		OnProviderComplete: func(providerID string) {
			e.health.RecordSuccess(providerID)
			statuses.set(providerID, types.ProviderCompleted, "")
			e.recordCall(providerID, "success", time.Since(dispatched))
		},
		OnError: func(providerID string, err error) {
			statuses.set(providerID, types.ProviderFailed, err.Error())
			e.emitProgress(run, step.ID, statuses)
			code := provider.Classify(providerID, provider.CallFailure{Err: err}).Code
			e.recordCall(providerID, string(code), time.Since(dispatched))
		},
		OnAllComplete: func(results map[string]fanout.Result, errs map[string]error) {
			final <- e.aggregateBatch(ctx, run, step, results, errs)
		},
	}

	opts := fanout.Options{Timeout: e.config.CallTimeout, Continuation: payload.Continuation}
	if err := e.fanout.ExecuteParallelFanout(ctx, run.sessionID, prompt, eligible, opts, cb); err != nil {
		return failed(types.NewError(types.ErrStepFailed, "fanout dispatch failed").WithCause(err))
	}

	res := <-final
	e.emitProgress(run, step.ID, statuses)
	return res
}

// aggregateBatch turns the fan-out's raw results and errors into one
// StepResult and applies the health/cache/persistence side effects.
func (e *Executor) aggregateBatch(ctx context.Context, run *runState, step types.Step, results map[string]fanout.Result, errs map[string]error) *types.StepResult {
	out := &types.StepOutput{
		StepID:  step.ID,
		Type:    step.Type,
		Results: make(map[string]types.ProviderResult),
	}

	for id, res := range results {
		clean := e.sanitize(res.Text)
		e.forwardDelta(run, step.ID, id, clean, true)
		out.Results[id] = types.ProviderResult{
			ProviderID: id,
			Text:       clean,
			Meta:       res.Meta,
		}
		// Synchronous cache write so the next phase sees fresh continuation
		// metadata without touching storage.
		run.cache.put(id, res.Meta)
		e.persistLater(run, id, store.ResponseBatch, clean, res.Meta, false)
	}

	var authFailed []string
	for id, err := range errs {
		perr := provider.Classify(id, provider.CallFailure{Err: err})
		e.health.RecordFailure(id)
		if perr.Code == types.ProviderErrAuthExpired {
			authFailed = append(authFailed, id)
		}

		// Soft-error recovery: keep whatever the stream buffered before the
		// provider fell over.
		if text, ok := e.recovered(run, step.ID, id); ok {
			out.Results[id] = types.ProviderResult{
				ProviderID: id,
				Text:       text,
				SoftError:  true,
				ErrorMsg:   perr.Error(),
			}
			e.persistLater(run, id, store.ResponseBatch, text, nil, true)
			continue
		}
		e.logger.Warn("provider failed in batch",
			zap.String("step_id", step.ID),
			zap.String("provider_id", id),
			zap.String("code", string(perr.Code)),
			zap.Error(err),
		)
	}

	if len(out.CompletedProviders()) == 0 {
		if len(authFailed) == len(errs) && len(authFailed) > 0 {
			return failed(types.NewMultiProviderAuthError(authFailed))
		}
		return failed(types.NewError(types.ErrStepFailed, "no provider produced usable text"))
	}
	return &types.StepResult{Status: types.StepCompleted, Output: out}
}

// executeAnalysis runs a single-provider step (mapping, synthesis, refiner,
// antagonist, understand, gauntlet) over at least two resolved sources.
func (e *Executor) executeAnalysis(ctx context.Context, run *runState, step types.Step, payload types.AnalysisPayload) *types.StepResult {
	sources, err := e.resolveSources(ctx, run, payload)
	if err != nil {
		return failed(err)
	}
	if len(sources) < 2 {
		return failed(types.NewError(types.ErrStepFailed,
			fmt.Sprintf("%s step needs at least 2 input sources, got %d", payload.Type, len(sources))))
	}

	actor := payload.Provider
	if actor == "" {
		actor = sources[0].providerID
	}

	prompt := buildAnalysisPrompt(payload.Type, sources)
	res, perr := e.callAnalysisProvider(ctx, run, step, actor, prompt)

	// Synthesis gets one fallback retry, only when the actor's auth expired.
	if perr != nil && perr.Code == types.ProviderErrAuthExpired &&
		payload.Type == types.StepSynthesis && e.fallback != nil {
		completed := completedSources(sources, actor)
		if alt, ok := e.fallback.PickFallback(payload.Type, completed); ok && alt != actor {
			e.logger.Info("synthesis falling back",
				zap.String("from", actor), zap.String("to", alt))
			actor = alt
			res, perr = e.callAnalysisProvider(ctx, run, step, actor, prompt)
		}
	}

	pr := types.ProviderResult{ProviderID: actor, Text: res.Text, Meta: res.Meta}
	if perr != nil {
		text, ok := e.recovered(run, step.ID, actor)
		if !ok {
			return failed(perr)
		}
		pr = types.ProviderResult{ProviderID: actor, Text: text, SoftError: true, ErrorMsg: perr.Error()}
	}

	out := &types.StepOutput{
		StepID:  step.ID,
		Type:    step.Type,
		Results: map[string]types.ProviderResult{actor: pr},
	}

	if payload.Type == types.StepMapping {
		mapping, merr := extractMapping(pr.Text)
		if merr != nil {
			return failed(types.NewError(types.ErrStepFailed,
				"mapping output is not a parseable claim graph").WithCause(merr))
		}
		out.Structured = mapping
	}
	pr.Text = e.sanitize(pr.Text)
	out.Results[actor] = pr

	run.cache.put(actor, pr.Meta)
	e.persistLater(run, actor, string(payload.Type), pr.Text, pr.Meta, pr.SoftError)
	return &types.StepResult{Status: types.StepCompleted, Output: out}
}

// callAnalysisProvider runs the health gate, length gate and a
// single-provider fan-out so partial snapshots still flow through the
// streaming manager.
func (e *Executor) callAnalysisProvider(ctx context.Context, run *runState, step types.Step, actor, prompt string) (fanout.Result, *types.ProviderError) {
	if d := e.health.ShouldAttempt(actor); !d.Allowed {
		return fanout.Result{}, &types.ProviderError{
			Code:       types.ProviderErrCircuitOpen,
			ProviderID: actor,
			Message:    d.Reason,
			RetryAfter: d.RetryAfter,
		}
	}
	if !e.limits.Fits(actor, prompt) {
		return fanout.Result{}, &types.ProviderError{
			Code:       types.ProviderErrInputTooLong,
			ProviderID: actor,
			Message:    "prompt exceeds the provider's input budget",
		}
	}

	meta := e.resolverFor(run).resolve(ctx, actor, sourceStepIDsOf(step))

	var (
		got     fanout.Result
		callErr error
	)
	done := make(chan struct{})
	cb := fanout.Callbacks{
		OnPartial: func(providerID, fullText string) {
			e.forwardDelta(run, step.ID, providerID, fullText, false)
		},
		OnAllComplete: func(results map[string]fanout.Result, errs map[string]error) {
			got = results[actor]
			callErr = errs[actor]
			close(done)
		},
	}
	opts := fanout.Options{Timeout: e.config.CallTimeout, Continuation: meta}
	dispatched := time.Now()
	if err := e.fanout.ExecuteParallelFanout(ctx, run.sessionID, prompt, []string{actor}, opts, cb); err != nil {
		e.health.RecordFailure(actor)
		perr := provider.Classify(actor, provider.CallFailure{Err: err})
		e.recordCall(actor, string(perr.Code), time.Since(dispatched))
		return fanout.Result{}, perr
	}
	<-done

	if callErr != nil {
		e.health.RecordFailure(actor)
		perr := provider.Classify(actor, provider.CallFailure{Err: callErr})
		e.recordCall(actor, string(perr.Code), time.Since(dispatched))
		return fanout.Result{}, perr
	}
	e.health.RecordSuccess(actor)
	e.recordCall(actor, "success", time.Since(dispatched))
	e.forwardDelta(run, step.ID, actor, got.Text, true)
	return got, nil
}

// source is one resolved analysis input: a provider's prior text.
type source struct {
	providerID string
	text       string
}

// resolveSources gathers analysis inputs from live step results or, for
// recompute, from frozen history and storage.
func (e *Executor) resolveSources(ctx context.Context, run *runState, payload types.AnalysisPayload) ([]source, error) {
	var sources []source

	for _, stepID := range payload.SourceStepIDs {
		res, ok := run.result(stepID)
		if !ok || res.Status != types.StepCompleted || res.Output == nil {
			return nil, types.NewError(types.ErrStepFailed,
				fmt.Sprintf("source step %s has no completed result", stepID))
		}
		for id, pr := range res.Output.Results {
			if pr.Text != "" {
				sources = append(sources, source{providerID: id, text: pr.Text})
			}
		}
	}

	if payload.SourceHistorical != nil {
		if run.resolved != nil && len(run.resolved.FrozenBatchOutputs) > 0 {
			for _, h := range run.resolved.FrozenBatchOutputs {
				if h.Text != "" {
					sources = append(sources, source{providerID: h.ProviderID, text: h.Text})
				}
			}
		} else if e.store != nil {
			hist, err := e.store.GetTurnResponses(ctx, run.sessionID,
				payload.SourceHistorical.TurnID, payload.SourceHistorical.ResponseType)
			if err != nil {
				return nil, types.NewError(types.ErrStoreFailure,
					"historical source lookup failed").WithCause(err)
			}
			for _, h := range hist {
				if h.Text != "" {
					sources = append(sources, source{providerID: h.ProviderID, text: h.Text})
				}
			}
		}
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].providerID < sources[j].providerID })
	return sources, nil
}

func (e *Executor) resolverFor(run *runState) *contextResolver {
	return &contextResolver{
		cache:    run.cache,
		resolved: run.resolved,
		results:  run.result,
		store:    e.store,
	}
}

// forwardDelta pushes a snapshot through the streaming manager and emits the
// resulting delta, if any.
func (e *Executor) forwardDelta(run *runState, stepID, providerID, fullText string, final bool) {
	key := streaming.Key{SessionID: run.sessionID, StepID: stepID, ProviderID: providerID}
	delta, emit := e.stream.MakeDelta(key, fullText, final)
	if !emit {
		return
	}
	run.emit(types.Event{
		Type:       types.EventPartialResult,
		StepID:     stepID,
		ProviderID: providerID,
		Delta:      delta,
		Final:      final,
	})
}

// recovered returns the streaming buffer's best partial text for a failed
// provider, when non-empty.
func (e *Executor) recovered(run *runState, stepID, providerID string) (string, bool) {
	key := streaming.Key{SessionID: run.sessionID, StepID: stepID, ProviderID: providerID}
	text, ok := e.stream.Baseline(key)
	if !ok || strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// persistLater schedules the fire-and-forget write of one provider's output
// and continuation context. Never blocks step resolution.
func (e *Executor) persistLater(run *runState, providerID, responseType, text string, meta types.ContinuationMeta, soft bool) {
	if e.store == nil || e.deferred == nil {
		return
	}
	rec := store.StoredResponse{
		SessionID:    run.sessionID,
		TurnID:       run.turnID,
		ProviderID:   providerID,
		ResponseType: responseType,
		Index:        0,
		Text:         text,
		Meta:         meta,
		SoftError:    soft,
	}
	sessionID := run.sessionID
	e.deferred.Enqueue(func(ctx context.Context) {
		if err := e.store.UpsertProviderResponse(ctx, rec); err != nil {
			e.logger.Warn("deferred response write failed",
				zap.String("provider_id", rec.ProviderID), zap.Error(err))
		}
		if len(rec.Meta) == 0 {
			return
		}
		pc := types.ProviderContext{ProviderID: rec.ProviderID, Meta: rec.Meta}
		if err := e.store.SaveProviderContext(ctx, sessionID, pc); err != nil {
			e.logger.Warn("deferred context write failed",
				zap.String("provider_id", rec.ProviderID), zap.Error(err))
		}
	})
}

func (e *Executor) emitProgress(run *runState, stepID string, board *statusBoard) {
	list, completed, failedCount := board.snapshot()
	run.emit(types.Event{
		Type:           types.EventWorkflowProgress,
		StepID:         stepID,
		Providers:      list,
		CompletedCount: completed,
		FailedCount:    failedCount,
	})
}

func buildAnalysisPrompt(stepType types.StepType, sources []source) string {
	var b strings.Builder
	b.WriteString(analysisInstruction(stepType))
	for _, s := range sources {
		b.WriteString("\n\n### ")
		b.WriteString(s.providerID)
		b.WriteString("\n")
		b.WriteString(s.text)
	}
	return b.String()
}

// analysisInstruction is a minimal placeholder per step type; real prompt
// wording lives outside the engine.
func analysisInstruction(stepType types.StepType) string {
	switch stepType {
	case types.StepMapping:
		return "Extract the distinct claims and their relations from the responses below as JSON."
	case types.StepSynthesis:
		return "Synthesize one reconciled answer from the responses below."
	case types.StepRefiner:
		return "Refine the synthesized answer using the responses below."
	case types.StepAntagonist:
		return "Challenge the strongest claims in the responses below."
	case types.StepUnderstand:
		return "Explain the reasoning behind the responses below."
	case types.StepGauntlet:
		return "Stress-test the final answer against the responses below."
	default:
		return "Analyze the responses below."
	}
}

// extractMapping parses the claim graph from a mapping provider's text. The
// payload may be bare JSON or wrapped in a fenced code block.
func extractMapping(text string) (*types.MappingOutput, error) {
	raw := strings.TrimSpace(text)
	if i := strings.Index(raw, "```"); i >= 0 {
		raw = raw[i+3:]
		raw = strings.TrimPrefix(raw, "json")
		if j := strings.Index(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
		raw = strings.TrimSpace(raw)
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in mapping output")
	}
	var m types.MappingOutput
	if err := json.Unmarshal([]byte(raw[start:end+1]), &m); err != nil {
		return nil, err
	}
	if len(m.Claims) == 0 {
		return nil, fmt.Errorf("mapping output contains no claims")
	}
	return &m, nil
}

func completedSources(sources []source, exclude string) []string {
	ids := make([]string, 0, len(sources))
	for _, s := range sources {
		if s.providerID != exclude {
			ids = append(ids, s.providerID)
		}
	}
	return ids
}

func sourceStepIDsOf(step types.Step) []string {
	if p, ok := step.Payload.(types.AnalysisPayload); ok {
		return p.SourceStepIDs
	}
	return nil
}

func failed(err error) *types.StepResult {
	return &types.StepResult{Status: types.StepFailed, Err: err}
}
