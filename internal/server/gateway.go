package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/conclave-ai/conclave/health"
	"github.com/conclave-ai/conclave/internal/ctxkeys"
	"github.com/conclave-ai/conclave/internal/metrics"
	"github.com/conclave-ai/conclave/store"
	"github.com/conclave-ai/conclave/types"
	"github.com/conclave-ai/conclave/workflow"
)

// Runner executes one workflow request to completion.
type Runner interface {
	Run(ctx context.Context, req *types.WorkflowRequest, resolved *types.ResolvedContext) (*workflow.RunResult, error)
}

// GatewayOptions configures the optional middleware layers.
type GatewayOptions struct {
	RateLimitRPS   float64
	RateLimitBurst int
	JWTSecret      string
}

// Gateway exposes the workflow engine over HTTP.
type Gateway struct {
	runner    Runner
	broker    *Broker
	store     store.TurnStore
	health    health.Tracker
	collector *metrics.Collector
	logger    *zap.Logger
	opts      GatewayOptions
}

// NewGateway wires the gateway. health and collector may be nil.
func NewGateway(
	runner Runner,
	broker *Broker,
	turnStore store.TurnStore,
	tracker health.Tracker,
	collector *metrics.Collector,
	logger *zap.Logger,
	opts GatewayOptions,
) *Gateway {
	return &Gateway{
		runner:    runner,
		broker:    broker,
		store:     turnStore,
		health:    tracker,
		collector: collector,
		logger:    logger.With(zap.String("component", "gateway")),
		opts:      opts,
	}
}

// Handler builds the routed handler wrapped in the middleware chain.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/workflows", g.handleRunWorkflow)
	mux.HandleFunc("GET /v1/workflows/events", g.handleEvents)
	mux.HandleFunc("GET /healthz", g.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	middlewares := []Middleware{
		Recovery(g.logger),
		RequestID(),
		Logging(g.logger, g.collector),
	}
	if g.opts.RateLimitRPS > 0 {
		middlewares = append(middlewares, RateLimit(g.opts.RateLimitRPS, g.opts.RateLimitBurst, g.logger))
	}
	if g.opts.JWTSecret != "" {
		middlewares = append(middlewares, JWTAuth(g.opts.JWTSecret, g.logger))
	}
	return Chain(mux, middlewares...)
}

// runWorkflowRequest is the POST /v1/workflows body. Context is optional;
// when absent the gateway resolves one from the store.
type runWorkflowRequest struct {
	Request types.WorkflowRequest  `json:"request"`
	Context *types.ResolvedContext `json:"context,omitempty"`
}

// runWorkflowResponse projects a finished run for the client.
type runWorkflowResponse struct {
	WorkflowID    string                             `json:"workflow_id"`
	Turns         types.TurnRefs                     `json:"turns"`
	HaltReason    types.HaltReason                   `json:"halt_reason,omitempty"`
	Steps         map[types.StepID]*types.StepResult `json:"steps"`
	Gate          *types.ConsensusGate               `json:"gate,omitempty"`
	Structure     *types.ProblemStructure            `json:"structure,omitempty"`
	ConsensusOnly bool                               `json:"consensus_only"`
}

func (g *Gateway) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var body runWorkflowRequest
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, r, err, g.logger)
		return
	}

	resolved, err := g.resolveContext(r.Context(), &body.Request, body.Context)
	if err != nil {
		writeError(w, r, err, g.logger)
		return
	}

	ctx := r.Context()
	if resolved.SessionID != "" {
		ctx = ctxkeys.WithSessionID(ctx, resolved.SessionID)
	}

	start := time.Now()
	result, err := g.runner.Run(ctx, &body.Request, resolved)
	if err != nil {
		writeError(w, r, err, g.logger)
		return
	}
	if g.collector != nil {
		g.collector.RecordWorkflowRun(string(body.Request.Kind), result.HaltReason, time.Since(start))
		if result.Gate != nil {
			g.collector.RecordConsensusGate(string(result.Gate.Reason))
		}
	}

	writeSuccess(w, r, runWorkflowResponse{
		WorkflowID:    result.WorkflowID,
		Turns:         result.Turns,
		HaltReason:    result.HaltReason,
		Steps:         result.Steps,
		Gate:          result.Gate,
		Structure:     result.Structure,
		ConsensusOnly: result.ConsensusOnly,
	})
}

// resolveContext fills in a ResolvedContext when the client did not
// provide one. Extend requests must carry their own context because the
// gateway cannot know the previous turn id; recompute requests get their
// frozen batch outputs loaded from the store.
func (g *Gateway) resolveContext(ctx context.Context, req *types.WorkflowRequest, provided *types.ResolvedContext) (*types.ResolvedContext, error) {
	if provided != nil {
		if provided.Kind == "" {
			provided.Kind = req.Kind
		}
		return provided, nil
	}

	switch req.Kind {
	case types.RequestInitialize:
		return &types.ResolvedContext{Kind: types.RequestInitialize, SessionID: req.SessionID}, nil

	case types.RequestExtend:
		return nil, types.NewError(types.ErrInvalidContext, "extend requests require a resolved context").WithField("context")

	case types.RequestRecompute:
		resolved := &types.ResolvedContext{
			Kind:      types.RequestRecompute,
			SessionID: req.SessionID,
			StepType:  req.StepType,
		}
		frozen, err := g.store.GetTurnResponses(ctx, req.SessionID, req.SourceTurnID, store.ResponseBatch)
		if err != nil {
			return nil, types.NewError(types.ErrStoreFailure, "load frozen batch outputs").WithCause(err)
		}
		for _, fr := range frozen {
			resolved.FrozenBatchOutputs = append(resolved.FrozenBatchOutputs, types.HistoricalResponse{
				ProviderID:   fr.ProviderID,
				ResponseType: fr.ResponseType,
				Index:        fr.Index,
				Text:         fr.Text,
				Meta:         fr.Meta,
			})
		}
		if req.TargetProvider != "" {
			if pc, ok, err := g.store.GetProviderContext(ctx, req.SessionID, req.TargetProvider); err == nil && ok {
				resolved.ProviderContexts = map[string]types.ProviderContext{req.TargetProvider: pc}
			}
		}
		return resolved, nil

	default:
		return nil, types.NewError(types.ErrInvalidRequest, "unknown request kind").WithField("kind")
	}
}

func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	if g.collector != nil {
		g.collector.ConnectionOpened()
		defer g.collector.ConnectionClosed()
	}

	events, cancel := g.broker.Subscribe(sessionID)
	defer cancel()

	g.logger.Info("event subscriber connected", zap.String("session_id", sessionID))

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "broker closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			cancelWrite()
			if err != nil {
				g.logger.Debug("event subscriber gone", zap.Error(err))
				return
			}
		}
	}
}

// healthzResponse reports store reachability and provider circuit states.
type healthzResponse struct {
	Status    string            `json:"status"`
	Store     string            `json:"store"`
	Providers map[string]string `json:"providers,omitempty"`
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{Status: "ok", Store: "ok"}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := g.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	}

	if g.health != nil {
		resp.Providers = make(map[string]string)
		for id, state := range g.health.Snapshot() {
			resp.Providers[id] = state.String()
		}
	}

	writeJSON(w, status, resp)
}
