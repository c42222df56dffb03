// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for an executor process.
type Config struct {
	App          AppConfig      `koanf:"app"`
	GRPC         GRPCConfig     `koanf:"grpc"`
	Log          LogConfig      `koanf:"log"`
	Metrics      MetricsConfig  `koanf:"metrics"`
	Tracing      TracingConfig  `koanf:"tracing"`
	Redis        RedisConfig    `koanf:"redis"`
	Database     DatabaseConfig `koanf:"database"`
	Oplog        OplogConfig    `koanf:"oplog"`
	Retry        RetryConfig    `koanf:"retry"`
	ShardManager ServiceConfig  `koanf:"shard_manager_service"`
	Template     ServiceConfig  `koanf:"template_service"`
	Audit        AuditConfig    `koanf:"audit"`
}

// AppConfig holds process identity.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// GRPCConfig controls the executor's inbound RPC fabric listener (§4.3, §6).
type GRPCConfig struct {
	Port              int             `koanf:"port"`
	MaxRecvMsgSize    int             `koanf:"max_recv_msg_size"`
	MaxSendMsgSize    int             `koanf:"max_send_msg_size"`
	MaxConcurrentConn int             `koanf:"max_concurrent_conn"`
	KeepAlive         KeepAliveConfig `koanf:"keepalive"`
}

// KeepAliveConfig controls gRPC connection keep-alive behavior.
type KeepAliveConfig struct {
	MaxConnectionIdle     time.Duration `koanf:"max_connection_idle"`
	MaxConnectionAge      time.Duration `koanf:"max_connection_age"`
	MaxConnectionAgeGrace time.Duration `koanf:"max_connection_age_grace"`
	Time                  time.Duration `koanf:"time"`
	Timeout               time.Duration `koanf:"timeout"`
}

// LogConfig controls pkg/logger.
type LogConfig struct {
	Level      string `koanf:"level"` // debug, info, warn, error
	Format     string `koanf:"format"`
	Output     string `koanf:"output"`
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"`
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig controls pkg/metrics' Prometheus registry.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
}

// TracingConfig controls pkg/telemetry.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// ServiceConfig describes a retriable connection to a peer service (§6:
// shard manager retry is exponential with jitter, initial 100ms, max 2s,
// max 5 attempts).
type ServiceConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxRetries     int           `koanf:"max_retries"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

// Address returns the dialable host:port for the service.
func (s ServiceConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisConfig backs pkg/cache's KeyValueStore. The shard routing cache's
// push invalidations do not go through Redis.
type RedisConfig struct {
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	PoolSize   int           `koanf:"pool_size"`
}

// Address returns the dialable host:port for Redis.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig backs the postgres-backed OplogStorage implementation.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	MigrationsPath  string        `koanf:"migrations_path"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN returns the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// OplogConfig controls payload indirection (§3) and commit semantics.
type OplogConfig struct {
	InlineThresholdBytes int    `koanf:"inline_threshold_bytes"`
	CommitLevel          string `koanf:"commit_level"` // durable_only, always
}

// RetryConfig is the default ChangeRetryPolicy applied to imported function
// calls until a worker overrides it (§3, §4.2).
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// AuditConfig controls how durable-host Log entries are rendered through
// pkg/logger during live execution.
type AuditConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Backend    string `koanf:"backend"` // stdout, file
	FilePath   string `koanf:"file_path"`
	BufferSize int    `koanf:"buffer_size"`
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Sprintf("grpc.port must be between 1 and 65535, got %d", c.GRPC.Port))
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	if c.Oplog.InlineThresholdBytes < 0 {
		errs = append(errs, "oplog.inline_threshold_bytes must be non-negative")
	}

	validCommitLevels := map[string]bool{"": true, "durable_only": true, "always": true}
	if !validCommitLevels[c.Oplog.CommitLevel] {
		errs = append(errs, fmt.Sprintf("oplog.commit_level must be one of: durable_only, always, got %s", c.Oplog.CommitLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment reports whether the app is running in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether the app is running in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
