// Package config loads Heron configuration from file, environment and tier defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/opensource-finance/heron/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. HERON_SERVER_PORT.
const EnvPrefix = "HERON"

// Load builds configuration from tier defaults, an optional config file and
// HERON_* environment variables, in increasing precedence. With an empty
// path a heron.yaml in the working directory is used if present.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("heron")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	base := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, base)

	var cfg domain.Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Tier = domain.Tier(strings.ToLower(string(cfg.Tier)))

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("tier", string(c.Tier))

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.allowed_origins", c.Server.AllowedOrigins)

	r := c.Repository
	v.SetDefault("repository.driver", r.Driver)
	v.SetDefault("repository.sqlite_path", r.SQLitePath)
	v.SetDefault("repository.postgres_host", r.PostgresHost)
	v.SetDefault("repository.postgres_port", r.PostgresPort)
	v.SetDefault("repository.postgres_user", r.PostgresUser)
	v.SetDefault("repository.postgres_password", r.PostgresPassword)
	v.SetDefault("repository.postgres_db", r.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", r.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", r.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", r.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", r.ConnMaxLifetime)

	ca := c.Cache
	v.SetDefault("cache.type", ca.Type)
	v.SetDefault("cache.local_max_size", ca.LocalMaxSize)
	v.SetDefault("cache.local_ttl", ca.LocalTTL)
	v.SetDefault("cache.result_ttl", ca.ResultTTL)
	v.SetDefault("cache.redis_addr", ca.RedisAddr)
	v.SetDefault("cache.redis_password", ca.RedisPassword)
	v.SetDefault("cache.redis_db", ca.RedisDB)
	v.SetDefault("cache.enable_two_phase", ca.EnableTwoPhase)

	b := c.EventBus
	v.SetDefault("event_bus.type", b.Type)
	v.SetDefault("event_bus.channel_buffer_size", b.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", b.NATSUrl)
	v.SetDefault("event_bus.nats_token", b.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", b.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", b.NATSReconnectWait)
	v.SetDefault("event_bus.nats_queue", b.NATSQueue)

	v.SetDefault("monitor.batch_workers", c.Monitor.BatchWorkers)
	v.SetDefault("monitor.timeout", c.Monitor.Timeout)
	v.SetDefault("monitor.async", c.Monitor.Async)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)

	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.path", c.Metrics.Path)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values.
func Validate(c *domain.Config) error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{domain.ErrConfiguration}, args...)...))
	}

	switch c.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		bad("tier must be community or pro, got %q", c.Tier)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		bad("server.port out of range: %d", c.Server.Port)
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		bad("repository.driver must be sqlite or postgres, got %q", c.Repository.Driver)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		bad("cache.type must be memory or redis, got %q", c.Cache.Type)
	}
	if c.Cache.ResultTTL < 0 {
		bad("cache.result_ttl cannot be negative")
	}
	switch c.EventBus.Type {
	case "channel", "nats":
	default:
		bad("event_bus.type must be channel or nats, got %q", c.EventBus.Type)
	}
	if c.Monitor.BatchWorkers <= 0 {
		bad("monitor.batch_workers must be greater than zero")
	}
	if c.Monitor.Timeout <= 0 {
		bad("monitor.timeout must be greater than zero")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		bad("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		bad("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		bad("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return errors.Join(errs...)
}
