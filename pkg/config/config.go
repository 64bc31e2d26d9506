package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"overlaycast/pkg/validation"

	"gopkg.in/yaml.v2"
)

const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"

	IPLookupExternal = "external"
	IPLookupRequest  = "request"
	IPLookupDisabled = "disabled"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"server"`

	Signal struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteWait    time.Duration `yaml:"write_wait"`
		SendBuffer   int           `yaml:"send_buffer"`
	} `yaml:"signal"`

	Layout struct {
		ContainerWidth  int           `yaml:"container_width"`
		ContainerHeight int           `yaml:"container_height"`
		LoadTimeout     time.Duration `yaml:"load_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
	} `yaml:"layout"`

	Storage struct {
		Backend string `yaml:"backend"`
		// ConnectAttempts and ConnectBackoff govern the startup connection
		// to redis or firestore before falling back to memory.
		ConnectAttempts int           `yaml:"connect_attempts"`
		ConnectBackoff  time.Duration `yaml:"connect_backoff"`
	} `yaml:"storage"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Firestore struct {
		ProjectID         string `yaml:"project_id"`
		CredentialsFile   string `yaml:"credentials_file"`
		CredentialsBase64 string `yaml:"credentials_base64"`
		Collection        string `yaml:"collection"`
	} `yaml:"firestore"`

	IPLookup struct {
		Mode     string        `yaml:"mode"`
		URL      string        `yaml:"url"`
		Timeout  time.Duration `yaml:"timeout"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
		Breaker  struct {
			MaxFailures  int           `yaml:"max_failures"`
			ResetTimeout time.Duration `yaml:"reset_timeout"`
		} `yaml:"breaker"`
	} `yaml:"ip_lookup"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Backup struct {
		Enabled       bool          `yaml:"enabled"`
		Directory     string        `yaml:"directory"`
		Interval      time.Duration `yaml:"interval"`
		RetentionDays int           `yaml:"retention_days"`
	} `yaml:"backup"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			MessagesPerSecond    float64 `yaml:"messages_per_second"`
			Burst                int     `yaml:"burst"`
			MaxConcurrent        int     `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes  int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteWait <= 0 {
		return fmt.Errorf("signal.write_wait must be > 0")
	}
	if c.Signal.SendBuffer <= 0 {
		return fmt.Errorf("signal.send_buffer must be > 0")
	}

	if c.Layout.ContainerWidth <= 0 || c.Layout.ContainerHeight <= 0 {
		return fmt.Errorf("layout.container_width and container_height must be > 0")
	}
	if c.Layout.LoadTimeout <= 0 {
		return fmt.Errorf("layout.load_timeout must be > 0")
	}
	if c.Layout.WriteTimeout <= 0 {
		return fmt.Errorf("layout.write_timeout must be > 0")
	}

	if c.Storage.ConnectAttempts < 1 {
		return fmt.Errorf("storage.connect_attempts must be at least 1")
	}
	if c.Storage.ConnectBackoff < 0 {
		return fmt.Errorf("storage.connect_backoff must not be negative")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when storage.backend=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when storage.backend=redis")
		}
	case BackendFirestore:
		if c.Firestore.Collection == "" {
			return fmt.Errorf("firestore.collection must not be empty when storage.backend=firestore")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, redis, firestore (got %q)", c.Storage.Backend)
	}

	switch c.IPLookup.Mode {
	case IPLookupExternal:
		if err := validation.ValidateURL(c.IPLookup.URL); err != nil {
			return fmt.Errorf("ip_lookup.url: %w", err)
		}
		if c.IPLookup.Timeout <= 0 {
			return fmt.Errorf("ip_lookup.timeout must be > 0")
		}
		if c.IPLookup.CacheTTL < 0 {
			return fmt.Errorf("ip_lookup.cache_ttl must be >= 0")
		}
		if c.IPLookup.Breaker.MaxFailures <= 0 {
			return fmt.Errorf("ip_lookup.breaker.max_failures must be > 0")
		}
		if c.IPLookup.Breaker.ResetTimeout <= 0 {
			return fmt.Errorf("ip_lookup.breaker.reset_timeout must be > 0")
		}
	case IPLookupRequest, IPLookupDisabled:
	default:
		return fmt.Errorf("ip_lookup.mode must be one of external, request, disabled (got %q)", c.IPLookup.Mode)
	}

	if c.Monitoring.PrometheusEnabled && !strings.HasPrefix(c.Monitoring.MetricsPath, "/") {
		return fmt.Errorf("monitoring.metrics_path must start with /")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Backup.Enabled {
		if c.Backup.Directory == "" {
			return fmt.Errorf("backup.directory must not be empty when backup.enabled=true")
		}
		if c.Backup.Interval <= 0 {
			return fmt.Errorf("backup.interval must be > 0 when backup.enabled=true")
		}
		if c.Backup.RetentionDays <= 0 {
			return fmt.Errorf("backup.retention_days must be > 0 when backup.enabled=true")
		}
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.AllowedOrigins = []string{"*"}

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteWait = 10 * time.Second
	cfg.Signal.SendBuffer = 32

	cfg.Layout.ContainerWidth = 1280
	cfg.Layout.ContainerHeight = 720
	cfg.Layout.LoadTimeout = 5 * time.Second
	cfg.Layout.WriteTimeout = 10 * time.Second

	cfg.Storage.Backend = BackendMemory
	cfg.Storage.ConnectAttempts = 3
	cfg.Storage.ConnectBackoff = 500 * time.Millisecond

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Prefix = "overlaycast:"

	cfg.Firestore.Collection = "events"

	cfg.IPLookup.Mode = IPLookupRequest
	cfg.IPLookup.URL = "https://api.ipify.org?format=json"
	cfg.IPLookup.Timeout = 5 * time.Second
	cfg.IPLookup.CacheTTL = 10 * time.Minute
	cfg.IPLookup.Breaker.MaxFailures = 3
	cfg.IPLookup.Breaker.ResetTimeout = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "overlaycast"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Backup.Enabled = false
	cfg.Backup.Directory = "./backups"
	cfg.Backup.Interval = 6 * time.Hour
	cfg.Backup.RetentionDays = 7

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("OVERLAYCAST_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("OVERLAYCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if backend := os.Getenv("OVERLAYCAST_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if addr := os.Getenv("OVERLAYCAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if password := os.Getenv("OVERLAYCAST_REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if project := os.Getenv("OVERLAYCAST_FIRESTORE_PROJECT_ID"); project != "" {
		c.Firestore.ProjectID = project
	}
	if file := os.Getenv("OVERLAYCAST_FIRESTORE_CREDENTIALS_FILE"); file != "" {
		c.Firestore.CredentialsFile = file
	}
	if creds := os.Getenv("OVERLAYCAST_FIRESTORE_CREDENTIALS_BASE64"); creds != "" {
		c.Firestore.CredentialsBase64 = creds
	}
	if mode := os.Getenv("OVERLAYCAST_IP_LOOKUP_MODE"); mode != "" {
		c.IPLookup.Mode = mode
	}
	if enabled, err := strconv.ParseBool(os.Getenv("OVERLAYCAST_TRACING_ENABLED")); err == nil {
		c.Tracing.Enabled = enabled
	}
}
