// ABOUTME: Configuration loading and parsing for persona-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Backends
const (
	SessionsSQLite    = "sqlite"
	SessionsRedis     = "redis"
	GenerationEcho    = "echo"
	GenerationRemote  = "remote"
	defaultConfigName = "gateway.yaml"
)

// Config represents the complete persona-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Sessions   SessionsConfig   `yaml:"sessions" toml:"sessions"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" toml:"rate_limit"`
	Dedupe     DedupeConfig     `yaml:"dedupe" toml:"dedupe"`
	Generation GenerationConfig `yaml:"generation" toml:"generation"`
	Limits     LimitsConfig     `yaml:"limits" toml:"limits"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	Environment     string        `yaml:"environment" toml:"environment"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// IsDevelopment reports whether internal error detail may be shown to clients.
func (s ServerConfig) IsDevelopment() bool {
	return s.Environment == EnvDevelopment
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// SessionsConfig selects where sessions are stored
type SessionsConfig struct {
	Backend       string        `yaml:"backend" toml:"backend"`
	RedisAddr     string        `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" toml:"redis_db"`
	RedisTTL      time.Duration `yaml:"-" toml:"-"`

	RedisTTLRaw string `yaml:"redis_ttl" toml:"redis_ttl"`
}

// RateLimitConfig holds per-caller fixed-window limits
type RateLimitConfig struct {
	Window           time.Duration `yaml:"-" toml:"-"`
	Capacity         int           `yaml:"capacity" toml:"capacity"`
	HighWater        int           `yaml:"high_water" toml:"high_water"`
	RetentionWindows int           `yaml:"retention_windows" toml:"retention_windows"`

	WindowRaw string `yaml:"window" toml:"window"`
}

// DedupeConfig holds in-flight deduplication timing
type DedupeConfig struct {
	TTL           time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	TTLRaw           string `yaml:"ttl" toml:"ttl"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// GenerationConfig selects and tunes the answer generator
type GenerationConfig struct {
	Backend      string        `yaml:"backend" toml:"backend"`
	URL          string        `yaml:"url" toml:"url"`
	Timeout      time.Duration `yaml:"-" toml:"-"`
	EchoDelay    time.Duration `yaml:"-" toml:"-"`
	HistoryLimit int           `yaml:"history_limit" toml:"history_limit"`

	TimeoutRaw   string `yaml:"timeout" toml:"timeout"`
	EchoDelayRaw string `yaml:"echo_delay" toml:"echo_delay"`
}

// LimitsConfig bounds request sizes
type LimitsConfig struct {
	MaxMessageLength int   `yaml:"max_message_length" toml:"max_message_length"`
	MaxBodyBytes     int64 `yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills zero values. Durations are already parsed.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.Environment == "" {
		c.Server.Environment = EnvProduction
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	if c.Sessions.Backend == "" {
		c.Sessions.Backend = SessionsSQLite
	}
	if c.Sessions.RedisTTL == 0 {
		c.Sessions.RedisTTL = 24 * time.Hour
	}

	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 30
	}
	if c.RateLimit.HighWater == 0 {
		c.RateLimit.HighWater = 1000
	}
	if c.RateLimit.RetentionWindows == 0 {
		c.RateLimit.RetentionWindows = 5
	}

	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 30 * time.Second
	}
	if c.Dedupe.SweepInterval == 0 {
		c.Dedupe.SweepInterval = time.Minute
	}

	if c.Generation.Backend == "" {
		c.Generation.Backend = GenerationEcho
	}
	if c.Generation.Timeout == 0 {
		c.Generation.Timeout = 30 * time.Second
	}
	if c.Generation.HistoryLimit == 0 {
		c.Generation.HistoryLimit = 20
	}

	if c.Limits.MaxMessageLength == 0 {
		c.Limits.MaxMessageLength = 5000
	}
	if c.Limits.MaxBodyBytes == 0 {
		c.Limits.MaxBodyBytes = 10 << 20
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Server.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("server.environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Server.Environment)
	}

	switch c.Sessions.Backend {
	case SessionsSQLite:
	case SessionsRedis:
		if c.Sessions.RedisAddr == "" {
			return fmt.Errorf("sessions.redis_addr is required when sessions.backend is redis")
		}
	default:
		return fmt.Errorf("sessions.backend must be %q or %q, got %q", SessionsSQLite, SessionsRedis, c.Sessions.Backend)
	}

	switch c.Generation.Backend {
	case GenerationEcho:
	case GenerationRemote:
		if c.Generation.URL == "" {
			return fmt.Errorf("generation.url is required when generation.backend is remote")
		}
	default:
		return fmt.Errorf("generation.backend must be %q or %q, got %q", GenerationEcho, GenerationRemote, c.Generation.Backend)
	}

	if c.RateLimit.Capacity < 0 || c.RateLimit.HighWater < 0 || c.RateLimit.RetentionWindows < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if c.Limits.MaxMessageLength < 0 || c.Limits.MaxBodyBytes < 0 {
		return fmt.Errorf("limits values must not be negative")
	}
	if c.Generation.HistoryLimit < 0 {
		return fmt.Errorf("generation.history_limit must not be negative")
	}
	if err := c.validateDurations(); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// validateDurations rejects negative durations. The timer and ticker driven
// ones must also be positive.
func (c *Config) validateDurations() error {
	durations := []struct {
		name     string
		value    time.Duration
		positive bool
	}{
		{"server.shutdown_timeout", c.Server.ShutdownTimeout, false},
		{"sessions.redis_ttl", c.Sessions.RedisTTL, false},
		{"rate_limit.window", c.RateLimit.Window, true},
		{"dedupe.ttl", c.Dedupe.TTL, false},
		{"dedupe.sweep_interval", c.Dedupe.SweepInterval, true},
		{"generation.timeout", c.Generation.Timeout, true},
		{"generation.echo_delay", c.Generation.EchoDelay, false},
	}

	for _, d := range durations {
		if d.value < 0 {
			return fmt.Errorf("%s must not be negative, got %s", d.name, d.value)
		}
		if d.positive && d.value == 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"sessions.redis_ttl", cfg.Sessions.RedisTTLRaw, &cfg.Sessions.RedisTTL},
		{"rate_limit.window", cfg.RateLimit.WindowRaw, &cfg.RateLimit.Window},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
		{"dedupe.sweep_interval", cfg.Dedupe.SweepIntervalRaw, &cfg.Dedupe.SweepInterval},
		{"generation.timeout", cfg.Generation.TimeoutRaw, &cfg.Generation.Timeout},
		{"generation.echo_delay", cfg.Generation.EchoDelayRaw, &cfg.Generation.EchoDelay},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

// DefaultPath returns the config path to use when no --config flag is given:
// $PERSONA_GATEWAY_CONFIG, else $XDG_CONFIG_HOME/persona-gateway/gateway.yaml,
// else ~/.config/persona-gateway/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("PERSONA_GATEWAY_CONFIG"); p != "" {
		return p
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return defaultConfigName
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "persona-gateway", defaultConfigName)
}
