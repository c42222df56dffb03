// pkg/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix and the "__" nesting separator are part of the operational
// contract (§6): GOLEM__REDIS__HOST, GOLEM__SHARD_MANAGER_SERVICE__HOST and
// GOLEM__TEMPLATE_SERVICE__HOST map onto their Config sections.
// GOLEM__PORT and GOLEM__HTTP_PORT load into the top-level keys "port" and
// "http_port", which no Config field reads, so they have no effect.
const (
	envPrefix    = "GOLEM__"
	configEnvVar = "GOLEM_CONFIG_PATH"
)

// Loader loads executor configuration from defaults, an optional config
// file, and environment variables, in that priority order.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader creates a Loader with the runtime's default search paths.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/golem/executor.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths overrides the list of config file search paths.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load resolves configuration with priority:
// 1. Defaults (lowest)
// 2. Config file (yaml)
// 3. Environment variables (highest)
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		// The config file is optional; missing is not fatal.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		"app.name":        "golem-executor",
		"app.version":     "0.1.0",
		"app.environment": "development",
		"app.debug":       false,

		"grpc.port":                               9000,
		"grpc.max_recv_msg_size":                  16 * 1024 * 1024,
		"grpc.max_send_msg_size":                  16 * 1024 * 1024,
		"grpc.max_concurrent_conn":                1000,
		"grpc.keepalive.max_connection_idle":      15 * time.Minute,
		"grpc.keepalive.max_connection_age":       30 * time.Minute,
		"grpc.keepalive.max_connection_age_grace": 5 * time.Minute,
		"grpc.keepalive.time":                     5 * time.Minute,
		"grpc.keepalive.timeout":                  20 * time.Second,

		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "golem_executor",

		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "golem-executor",
		"tracing.sample_rate":  0.1,

		"redis.host":        "localhost",
		"redis.port":        6379,
		"redis.db":          0,
		"redis.default_ttl": 5 * time.Minute,
		"redis.pool_size":   10,

		"database.driver":            "postgres",
		"database.host":              "localhost",
		"database.port":              5432,
		"database.database":         "golem_oplog",
		"database.username":          "postgres",
		"database.ssl_mode":          "disable",
		"database.max_open_conns":    25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  5 * time.Minute,
		"database.conn_max_idle_time": 10 * time.Minute,
		"database.auto_migrate":       true,

		"oplog.inline_threshold_bytes": 8 * 1024, // 8 KiB per spec §3
		"oplog.commit_level":           "durable_only",

		"retry.max_attempts":       3,
		"retry.initial_backoff":    100 * time.Millisecond,
		"retry.max_backoff":        10 * time.Second,
		"retry.backoff_multiplier": 2.0,

		// Shard manager client retry is exponential with jitter, initial
		// 100ms, max 2s, max 5 attempts per §6.
		"shard_manager_service.host":            "localhost",
		"shard_manager_service.port":            9021,
		"shard_manager_service.timeout":         5 * time.Second,
		"shard_manager_service.max_retries":     5,
		"shard_manager_service.initial_backoff": 100 * time.Millisecond,
		"shard_manager_service.max_backoff":     2 * time.Second,

		"template_service.host":            "localhost",
		"template_service.port":            9090,
		"template_service.timeout":         30 * time.Second,
		"template_service.max_retries":     3,
		"template_service.initial_backoff": 100 * time.Millisecond,
		"template_service.max_backoff":     2 * time.Second,

		"audit.enabled":     true,
		"audit.backend":     "stdout",
		"audit.buffer_size": 1000,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

// loadEnv maps GOLEM__SHARD_MANAGER_SERVICE__HOST -> shard_manager_service.host,
// preserving the double-underscore nesting separator the operational
// contract (§6) specifies.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		trimmed := strings.TrimPrefix(s, l.envPrefix)
		return strings.ReplaceAll(strings.ToLower(trimmed), "__", ".")
	}), nil)
}

// MustLoad loads configuration or panics.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load loads configuration with default search paths and the GOLEM__ prefix.
func Load() (*Config, error) {
	return NewLoader().Load()
}
