// Package config provides YAML-based configuration for the slab-sinks
// binaries. Supports validation, defaults, and env overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/copjon/slab-sinks/internal/cache"
	"github.com/copjon/slab-sinks/internal/constants"
	"github.com/copjon/slab-sinks/internal/source"
	"github.com/copjon/slab-sinks/internal/storage"
	"github.com/copjon/slab-sinks/internal/transport"
)

// Backend names accepted for transport.backend.
const (
	BackendClickHouse = "clickhouse"
	BackendNATS       = "nats"
)

// Config is the top-level configuration.
type Config struct {
	LogLevel   string                   `yaml:"log_level"`
	Sink       SinkConfig               `yaml:"sink"`
	Ingest     source.Config            `yaml:"ingest"`
	Transport  TransportConfig          `yaml:"transport"`
	ClickHouse storage.ClickHouseConfig `yaml:"clickhouse"`
	NATS       transport.NATSConfig     `yaml:"nats"`
	Redis      RedisConfig              `yaml:"redis"`
	Metrics    MetricsConfig            `yaml:"metrics"`
	API        APIConfig                `yaml:"api"`
}

// SinkConfig holds the sink construction parameters.
type SinkConfig struct {
	InstanceName   string            `yaml:"instance_name"`
	GlobalContext  map[string]string `yaml:"global_context"`
	BufferInterval time.Duration     `yaml:"buffer_interval"`
	CountThreshold int               `yaml:"count_threshold"`
	MaxBufferSize  int               `yaml:"max_buffer_size"`

	// FlushTimeout bounds the on-completion drain; -1 waits indefinitely.
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// TransportConfig selects and decorates the record backend.
type TransportConfig struct {
	Backend  string `yaml:"backend"`
	LiveTail bool   `yaml:"live_tail"`
}

// RedisConfig extends the cache settings with the live channel name.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PoolSize    int    `yaml:"pool_size"`
	LiveChannel string `yaml:"live_channel"`
}

// Cache converts to the cache package's connection settings.
func (r RedisConfig) Cache() cache.RedisConfig {
	return cache.RedisConfig{Addr: r.Addr, PoolSize: r.PoolSize}
}

// MetricsConfig holds the ops server settings.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// APIConfig holds the query API settings.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config with sensible production defaults.
func Default() *Config {
	return &Config{
		LogLevel: constants.DefaultLogLevel,
		Sink: SinkConfig{
			InstanceName:   constants.DefaultInstanceName,
			GlobalContext:  map[string]string{},
			BufferInterval: constants.DefaultBufferInterval,
			CountThreshold: constants.DefaultCountThreshold,
			MaxBufferSize:  constants.DefaultMaxBufferSize,
			FlushTimeout:   constants.DefaultFlushTimeout,
		},
		Ingest: source.DefaultConfig(),
		Transport: TransportConfig{
			Backend:  BackendClickHouse,
			LiveTail: false,
		},
		ClickHouse: storage.DefaultClickHouseConfig(),
		NATS:       transport.DefaultNATSConfig(),
		Redis: RedisConfig{
			Addr:        constants.RedisDefaultAddr,
			PoolSize:    constants.RedisPoolSize,
			LiveChannel: constants.RedisLiveChannel,
		},
		Metrics: MetricsConfig{Addr: constants.DefaultMetricsAddr},
		API:     APIConfig{Addr: constants.APIDefaultAddr},
	}
}

// Load reads a YAML config file and merges with defaults.
// If the file doesn't exist, returns defaults.
// Environment variables override: SLABSINK_INSTANCE_NAME, SLABSINK_LOG_LEVEL,
// SLABSINK_METRICS_ADDR, SLABSINK_CLICKHOUSE_DSN, SLABSINK_NATS_URL,
// SLABSINK_REDIS_ADDR.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file, use defaults + env overrides
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides allows environment variables to override config values.
func (c *Config) applyEnvOverrides() {
	if name := os.Getenv(constants.EnvInstanceName); name != "" {
		c.Sink.InstanceName = name
	}
	if level := os.Getenv(constants.EnvLogLevel); level != "" {
		c.LogLevel = level
	}
	if addr := os.Getenv(constants.EnvMetricsAddr); addr != "" {
		c.Metrics.Addr = addr
	}
	if dsn := os.Getenv(constants.EnvClickHouseDSN); dsn != "" {
		c.ClickHouse.DSN = dsn
	}
	if url := os.Getenv(constants.EnvNATSURL); url != "" {
		c.Ingest.URL = url
		c.NATS.URL = url
	}
	if addr := os.Getenv(constants.EnvRedisAddr); addr != "" {
		c.Redis.Addr = addr
	}
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Sink.InstanceName == "" {
		errs = append(errs, "sink.instance_name is required")
	}
	if c.Sink.CountThreshold < 1 {
		errs = append(errs, "sink.count_threshold must be >= 1")
	}
	if c.Sink.MaxBufferSize < constants.MinMaxBufferSize {
		errs = append(errs, fmt.Sprintf("sink.max_buffer_size must be >= %d", constants.MinMaxBufferSize))
	}
	if c.Sink.FlushTimeout < 0 && c.Sink.FlushTimeout != -1 {
		errs = append(errs, "sink.flush_timeout must be non-negative or -1 (wait indefinitely)")
	}
	if c.Transport.Backend != BackendClickHouse && c.Transport.Backend != BackendNATS {
		errs = append(errs, fmt.Sprintf("transport.backend must be %q or %q", BackendClickHouse, BackendNATS))
	}
	if c.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
