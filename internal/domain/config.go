package domain

import "time"

// Config is the root of heron.yaml. Every key can be overridden with a
// HERON_ environment variable, e.g. HERON_REPOSITORY_DRIVER.
type Config struct {
	Server ServerConfig `mapstructure:"server" json:"server"`
	Tier   Tier         `mapstructure:"tier" json:"tier"`

	Repository RepositoryConfig `mapstructure:"repository" json:"repository"`
	Cache      CacheConfig      `mapstructure:"cache" json:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus" json:"eventBus"`
	Monitor    MonitorConfig    `mapstructure:"monitor" json:"monitor"`

	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host         string `mapstructure:"host" json:"host"`
	Port         int    `mapstructure:"port" json:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `mapstructure:"write_timeout" json:"writeTimeout"` // seconds

	// AllowedOrigins restricts CORS. Empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowedOrigins,omitempty"`
}

// MonitorConfig tunes the transaction monitor.
type MonitorConfig struct {
	// BatchWorkers bounds the batch worker pool.
	BatchWorkers int `mapstructure:"batch_workers" json:"batchWorkers"`

	// Timeout bounds a single monitoring pass, store calls included.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`

	// Async makes POST /transactions publish an ingested event
	// instead of monitoring inline.
	Async bool `mapstructure:"async" json:"async"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // json, text
}

// TracingConfig turns on W3C trace propagation for HTTP and bus messages.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	ServiceName string `mapstructure:"service_name" json:"serviceName"`
}

// MetricsConfig exposes Prometheus collectors on Path.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" json:"path"`
}

// Tier picks a deployment profile. Community runs in one process on SQLite
// and channels; pro expects PostgreSQL, Redis and NATS and starts the
// ingest worker.
type Tier string

const (
	TierCommunity Tier = "community"
	TierPro       Tier = "pro"
)

// DefaultConfig is the single-process community profile.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./heron.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ResultTTL:    time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Monitor: MonitorConfig{
			BatchWorkers: 4,
			Timeout:      10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "heron",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ProConfig is DefaultConfig switched to the pro backends on localhost.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "heron",
		PostgresSSLMode: "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		ResultTTL:      24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueue:         "heron-workers",
	}
	cfg.Monitor.BatchWorkers = 16
	cfg.Tracing.Enabled = true
	return cfg
}
