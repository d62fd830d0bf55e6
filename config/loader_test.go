package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-ai/conclave/store"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 2, cfg.Engine.Quorum)
	assert.Equal(t, 120*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, store.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conclave.yaml")
	content := `
server:
  http_port: 9090
engine:
  quorum: 3
  call_timeout: 45s
store:
  backend: sql
  sql:
    driver: sqlite
    dsn: ":memory:"
providers:
  limits:
    alpha:
      max_input_chars: 50000
      encoding: cl100k_base
      max_input_tokens: 8000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 3, cfg.Engine.Quorum)
	assert.Equal(t, 45*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, store.BackendSQL, cfg.Store.Backend)
	assert.Equal(t, "sqlite", cfg.Store.SQL.Driver)

	alpha, ok := cfg.Providers.Limits["alpha"]
	require.True(t, ok)
	assert.Equal(t, 50000, alpha.MaxInputChars)
	assert.Equal(t, "cl100k_base", alpha.Encoding)
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/conclave.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conclave.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9090\n"), 0o644))

	t.Setenv("CONCLAVE_SERVER_HTTP_PORT", "7070")
	t.Setenv("CONCLAVE_ENGINE_QUORUM", "4")
	t.Setenv("CONCLAVE_LOG_LEVEL", "debug")
	t.Setenv("CONCLAVE_RATE_LIMIT_ENABLED", "false")
	t.Setenv("CONCLAVE_ENGINE_CALL_TIMEOUT", "90s")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, 4, cfg.Engine.Quorum)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Engine.CallTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"zero quorum", func(c *Config) { c.Engine.Quorum = 0 }},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecret = "" }},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry.Enabled = true }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "cassandra" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCustomValidator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error {
		if len(c.Providers.Limits) == 0 {
			return assert.AnError
		}
		return nil
	}).Load()
	require.Error(t, err)
}
