// Package config loads the service configuration. The resulting Config is
// immutable after Load and passed by reference to every component.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Overload  OverloadConfig  `mapstructure:"overload"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	TradeExec TradeExecConfig `mapstructure:"trade_exec"`
	LogLevel  string          `mapstructure:"log_level"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxInFlight     int           `mapstructure:"max_in_flight"`
}

// DatabaseConfig holds the connection pool settings.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// RedisConfig holds the optional order cache settings.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// KafkaConfig holds the optional batch event publisher settings.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// OverloadConfig holds the overload detector thresholds and retry delay bounds.
type OverloadConfig struct {
	ThreadPoolThreshold    float64 `mapstructure:"thread_pool_threshold"`
	DBConnectionThreshold  float64 `mapstructure:"db_connection_threshold"`
	MemoryThreshold        float64 `mapstructure:"memory_threshold"`
	ActiveRequestThreshold float64 `mapstructure:"active_request_threshold"`
	BaseRetryDelaySeconds  int     `mapstructure:"base_retry_delay_seconds"`
	MaxRetryDelaySeconds   int     `mapstructure:"max_retry_delay_seconds"`
	WorkerCeiling          int     `mapstructure:"worker_ceiling"`
	MemoryLimitBytes       uint64  `mapstructure:"memory_limit_bytes"`
}

// BreakerConfig holds the circuit breaker policy.
type BreakerConfig struct {
	UtilizationTripThreshold float64       `mapstructure:"utilization_trip_threshold"`
	MaxConsecutiveFailures   int           `mapstructure:"max_consecutive_failures"`
	RecoveryTimeout          time.Duration `mapstructure:"recovery_timeout"`
}

// AdmissionConfig holds the admission gate policy.
type AdmissionConfig struct {
	Permits        int           `mapstructure:"permits"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

// PipelineConfig holds the batch pipeline phase timeouts.
type PipelineConfig struct {
	LoadTimeout   time.Duration `mapstructure:"load_timeout"`
	UpdateTimeout time.Duration `mapstructure:"update_timeout"`
	MaxBatchSize  int           `mapstructure:"max_batch_size"`
}

// TradeExecConfig holds the downstream trade-execution client settings.
type TradeExecConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
}

// Load reads configuration from the given file (yaml) with ORDERGATE_
// environment variable overrides, applying defaults for unset keys.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ORDERGATE")
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_in_flight", 256)

	v.SetDefault("database.max_open_conns", 60)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")

	v.SetDefault("redis.cache_ttl", "5m")

	v.SetDefault("overload.thread_pool_threshold", 0.90)
	v.SetDefault("overload.db_connection_threshold", 0.95)
	v.SetDefault("overload.memory_threshold", 0.85)
	v.SetDefault("overload.active_request_threshold", 0.90)
	v.SetDefault("overload.base_retry_delay_seconds", 60)
	v.SetDefault("overload.max_retry_delay_seconds", 300)
	v.SetDefault("overload.worker_ceiling", 1024)
	v.SetDefault("overload.memory_limit_bytes", uint64(2<<30))

	v.SetDefault("breaker.utilization_trip_threshold", 0.75)
	v.SetDefault("breaker.max_consecutive_failures", 3)
	v.SetDefault("breaker.recovery_timeout", "15s")

	v.SetDefault("admission.permits", 15)
	v.SetDefault("admission.acquire_timeout", "10s")

	v.SetDefault("pipeline.load_timeout", "3s")
	v.SetDefault("pipeline.update_timeout", "5s")
	v.SetDefault("pipeline.max_batch_size", 500)

	v.SetDefault("trade_exec.connect_timeout", "5s")
	v.SetDefault("trade_exec.read_timeout", "45s")
	v.SetDefault("trade_exec.max_idle_conns", 32)
}

// Validate rejects configurations that would defeat the admission controls.
func (c *Config) Validate() error {
	if c.Admission.Permits <= 0 {
		return fmt.Errorf("admission.permits must be positive, got %d", c.Admission.Permits)
	}
	if c.Admission.Permits >= c.Database.MaxOpenConns {
		return fmt.Errorf("admission.permits (%d) must be strictly below database.max_open_conns (%d)",
			c.Admission.Permits, c.Database.MaxOpenConns)
	}
	if c.Overload.BaseRetryDelaySeconds <= 0 || c.Overload.MaxRetryDelaySeconds < c.Overload.BaseRetryDelaySeconds {
		return fmt.Errorf("invalid overload retry delay bounds: base=%d max=%d",
			c.Overload.BaseRetryDelaySeconds, c.Overload.MaxRetryDelaySeconds)
	}
	if c.Breaker.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("breaker.max_consecutive_failures must be positive, got %d", c.Breaker.MaxConsecutiveFailures)
	}
	if c.Pipeline.MaxBatchSize <= 0 {
		return fmt.Errorf("pipeline.max_batch_size must be positive, got %d", c.Pipeline.MaxBatchSize)
	}
	return nil
}
