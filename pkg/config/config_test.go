package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxConcurrent = 10
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 65536
	return cfg
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, validBaseConfig().Validate())
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load("non-existent-config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, IPLookupRequest, cfg.IPLookup.Mode)
	assert.Equal(t, 1280, cfg.Layout.ContainerWidth)
	assert.Equal(t, 720, cfg.Layout.ContainerHeight)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9000"
  read_timeout: 10s
  write_timeout: 15s

layout:
  container_width: 1920
  container_height: 1080
  load_timeout: 2s

storage:
  backend: "redis"

redis:
  address: "redis:6379"
  prefix: "test:"

ip_lookup:
  mode: "request"

logging:
  level: "debug"
  format: "console"
`)

	t.Setenv("OVERLAYCAST_SERVER_ADDRESS", ":7000")
	t.Setenv("OVERLAYCAST_LOG_LEVEL", "warn")
	t.Setenv("OVERLAYCAST_REDIS_ADDRESS", "10.0.0.5:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	// YAML values
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 1920, cfg.Layout.ContainerWidth)
	assert.Equal(t, 1080, cfg.Layout.ContainerHeight)
	assert.Equal(t, 2*time.Second, cfg.Layout.LoadTimeout)
	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "test:", cfg.Redis.Prefix)
	assert.Equal(t, IPLookupRequest, cfg.IPLookup.Mode)
	assert.Equal(t, "console", cfg.Logging.Format)

	// defaults survive partial files
	assert.Equal(t, 10*time.Second, cfg.Layout.WriteTimeout)
	assert.Equal(t, 10, cfg.Redis.PoolSize)

	// Env overrides
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "10.0.0.5:6379", cfg.Redis.Address)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidBackendFromEnv(t *testing.T) {
	t.Setenv("OVERLAYCAST_STORAGE_BACKEND", "postgres")
	_, err := Load("non-existent-config.yaml")
	assert.Error(t, err)
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty address", mutate: func(c *Config) { c.Server.Address = "" }},
		{name: "pong before ping", mutate: func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{name: "zero send buffer", mutate: func(c *Config) { c.Signal.SendBuffer = 0 }},
		{name: "zero container", mutate: func(c *Config) { c.Layout.ContainerWidth = 0 }},
		{name: "zero load timeout", mutate: func(c *Config) { c.Layout.LoadTimeout = 0 }},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "sqlite" }},
		{name: "zero connect attempts", mutate: func(c *Config) { c.Storage.ConnectAttempts = 0 }},
		{name: "redis without address", mutate: func(c *Config) {
			c.Storage.Backend = BackendRedis
			c.Redis.Address = ""
		}},
		{name: "firestore without collection", mutate: func(c *Config) {
			c.Storage.Backend = BackendFirestore
			c.Firestore.Collection = ""
		}},
		{name: "unknown ip lookup mode", mutate: func(c *Config) { c.IPLookup.Mode = "geo" }},
		{name: "external lookup without url", mutate: func(c *Config) {
			c.IPLookup.Mode = IPLookupExternal
			c.IPLookup.URL = ""
		}},
		{name: "external lookup with ftp url", mutate: func(c *Config) {
			c.IPLookup.Mode = IPLookupExternal
			c.IPLookup.URL = "ftp://api.ipify.org"
		}},
		{name: "breaker without failures", mutate: func(c *Config) {
			c.IPLookup.Mode = IPLookupExternal
			c.IPLookup.Breaker.MaxFailures = 0
		}},
		{name: "metrics path", mutate: func(c *Config) { c.Monitoring.MetricsPath = "metrics" }},
		{name: "sample rate", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 1.5
		}},
		{name: "backup without directory", mutate: func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Directory = ""
		}},
		{name: "http rps must be > 0", mutate: func(c *Config) { c.RateLimiting.HTTP.RequestsPerSecond = 0 }},
		{name: "http burst must be > 0", mutate: func(c *Config) { c.RateLimiting.HTTP.Burst = 0 }},
		{name: "http max concurrent must be >= 0", mutate: func(c *Config) { c.RateLimiting.HTTP.MaxConcurrent = -1 }},
		{name: "ws connections per minute must be > 0", mutate: func(c *Config) { c.RateLimiting.WebSocket.ConnectionsPerMinute = 0 }},
		{name: "ws messages per second must be > 0", mutate: func(c *Config) { c.RateLimiting.WebSocket.MessagesPerSecond = 0 }},
		{name: "ws burst must be > 0", mutate: func(c *Config) { c.RateLimiting.WebSocket.Burst = 0 }},
		{name: "ws max message size must be >= 0", mutate: func(c *Config) { c.RateLimiting.WebSocket.MaxMessageSizeBytes = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestValidate_DisabledLookupIgnoresURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IPLookup.Mode = IPLookupDisabled
	cfg.IPLookup.URL = ""
	assert.NoError(t, cfg.Validate())
}
