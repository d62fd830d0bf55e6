package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/conclave-ai/conclave/config"
	"github.com/conclave-ai/conclave/fanout"
	"github.com/conclave-ai/conclave/health"
	"github.com/conclave-ai/conclave/internal/metrics"
	"github.com/conclave-ai/conclave/internal/server"
	"github.com/conclave-ai/conclave/internal/telemetry"
	"github.com/conclave-ai/conclave/provider"
	"github.com/conclave-ai/conclave/store"
	"github.com/conclave-ai/conclave/streaming"
	"github.com/conclave-ai/conclave/workflow"
)

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting conclave",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	ctx := context.Background()
	turnStore, err := store.New(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}

	collector := metrics.NewCollector("conclave", logger)
	broker := server.NewBroker(logger)
	sink := collector.Sink(broker.Sink())

	tracker := health.NewTracker(health.Config{
		FailureThreshold:  cfg.Health.FailureThreshold,
		ResetTimeout:      cfg.Health.ResetTimeout,
		HalfOpenMaxProbes: cfg.Health.HalfOpenMaxProbes,
		OnStateChange: func(providerID string, _, to health.State) {
			collector.RecordCircuitTransition(providerID, to.String())
		},
	}, logger)

	streamMgr := streaming.NewManager(logger)
	streamMgr.SetRegressionHook(collector.RecordStreamRegression)
	limits := provider.NewLimitTable(limitTable(cfg))
	deferred := workflow.NewDeferredQueue(cfg.Engine.DeferredQueueSize, logger)

	local := fanout.NewLocal(providerClients(cfg, logger), int64(cfg.Engine.MaxConcurrentCalls), logger)

	executor := workflow.NewExecutor(
		logger,
		tracker,
		streamMgr,
		limits,
		local,
		turnStore,
		deferred,
		nil, // sanitize: identity
		nil, // fallback: none configured
		workflow.ExecutorConfig{CallTimeout: cfg.Engine.CallTimeout},
	)

	engine := workflow.NewEngine(
		logger,
		workflow.NewCompiler(),
		executor,
		streamMgr,
		turnStore,
		nil, // confirmation gate: boundary-driven, none in the service
		sink,
		workflow.EngineConfig{Quorum: cfg.Engine.Quorum, Analytics: workflow.DefaultEngineConfig().Analytics},
	)
	engine.SetObserver(collector)
	deferred.SetBacklogGauge(collector.SetDeferredBacklog)

	opts := server.GatewayOptions{}
	if cfg.RateLimit.Enabled {
		opts.RateLimitRPS = cfg.RateLimit.RequestsPerSecond
		opts.RateLimitBurst = cfg.RateLimit.Burst
	}
	if cfg.Auth.Enabled {
		opts.JWTSecret = cfg.Auth.JWTSecret
	}
	gateway := server.NewGateway(engine, broker, turnStore, tracker, collector, logger, opts)

	manager := server.NewManager(gateway.Handler(), server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	if err := manager.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	manager.WaitForShutdown()

	// In-flight persistence drains before the store closes.
	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := deferred.Flush(flushCtx); err != nil {
		logger.Warn("deferred queue flush incomplete", zap.Error(err))
	}
	cancel()
	deferred.Close()
	broker.Close()

	if err := turnStore.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	cancel()

	logger.Info("conclave stopped")
}

// limitTable converts the config's provider limits into the engine's table.
func limitTable(cfg *config.Config) map[string]provider.Limit {
	limits := make(map[string]provider.Limit, len(cfg.Providers.Limits))
	for id, pc := range cfg.Providers.Limits {
		limits[id] = provider.Limit{
			MaxInputChars:  pc.MaxInputChars,
			Encoding:       pc.Encoding,
			MaxInputTokens: pc.MaxInputTokens,
		}
	}
	return limits
}
