package config

import (
	"time"

	"github.com/conclave-ai/conclave/store"
)

// Default builds the configuration every deployment starts from.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Engine: EngineConfig{
			Quorum:             2,
			CallTimeout:        120 * time.Second,
			MaxConcurrentCalls: 8,
			DeferredQueueSize:  64,
		},
		Health: HealthConfig{
			FailureThreshold:  5,
			ResetTimeout:      30 * time.Second,
			HalfOpenMaxProbes: 1,
		},
		Providers: ProvidersConfig{
			Limits: map[string]ProviderConfig{},
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "conclave",
			SampleRate:  1.0,
		},
	}
	cfg.Store.Backend = store.BackendMemory
	return cfg
}
