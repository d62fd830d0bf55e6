// Package config loads the service configuration with the precedence
// defaults, then YAML file, then CONCLAVE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/conclave-ai/conclave/store"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE"`
	Health    HealthConfig    `yaml:"health" env:"HEALTH"`
	Providers ProvidersConfig `yaml:"providers" env:"PROVIDERS"`
	Store     store.Config    `yaml:"store" env:"-"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Auth      AuthConfig      `yaml:"auth" env:"AUTH"`
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// EngineConfig configures workflow execution.
type EngineConfig struct {
	// Quorum is the minimum completed provider count past the batch phase.
	Quorum int `yaml:"quorum" env:"QUORUM"`
	// CallTimeout bounds each provider call.
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	// MaxConcurrentCalls bounds simultaneous provider calls.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls" env:"MAX_CONCURRENT_CALLS"`
	// DeferredQueueSize bounds the background persistence backlog.
	DeferredQueueSize int `yaml:"deferred_queue_size" env:"DEFERRED_QUEUE_SIZE"`
}

// HealthConfig configures the per-provider circuit breaker.
type HealthConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	ResetTimeout      time.Duration `yaml:"reset_timeout" env:"RESET_TIMEOUT"`
	HalfOpenMaxProbes int           `yaml:"half_open_max_probes" env:"HALF_OPEN_MAX_PROBES"`
}

// ProviderConfig is one provider's static limits.
type ProviderConfig struct {
	MaxInputChars  int    `yaml:"max_input_chars"`
	Encoding       string `yaml:"encoding"`
	MaxInputTokens int    `yaml:"max_input_tokens"`
}

// ProvidersConfig maps provider id to its limits.
type ProvidersConfig struct {
	Limits map[string]ProviderConfig `yaml:"limits" env:"-"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// AuthConfig configures optional JWT bearer auth on the gateway.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// RateLimitConfig configures the per-client gateway rate limiter.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" env:"ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"BURST"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "server.http_port must be in (0, 65535]")
	}
	if c.Engine.Quorum < 1 {
		errs = append(errs, "engine.quorum must be at least 1")
	}
	if c.Engine.CallTimeout <= 0 {
		errs = append(errs, "engine.call_timeout must be positive")
	}
	if c.Health.FailureThreshold <= 0 {
		errs = append(errs, "health.failure_threshold must be positive")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required when auth is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, "rate_limit.requests_per_second must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, "telemetry.otlp_endpoint is required when telemetry is enabled")
	}
	switch c.Store.Backend {
	case store.BackendMemory, store.BackendRedis, store.BackendSQL, store.BackendMongo, "":
	default:
		errs = append(errs, fmt.Sprintf("store.backend %q is not one of memory, redis, sql, mongo", c.Store.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
