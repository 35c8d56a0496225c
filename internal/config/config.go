// Package config handles application configuration loading and validation
// from environment variables, providing a type-safe configuration structure.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration values loaded from environment
// variables. It is built once at startup and passed down to the components.
type Config struct {
	// Server configuration
	ListenAddr     string        // Address to listen on (e.g., ":33001")
	RequestTimeout time.Duration // Timeout for non-streaming handlers

	// Environment: 'production', 'development', 'test'
	Environment string

	// Redis configuration
	RedisURL string // Connection URL, e.g. redis://localhost:6379/0

	// Message queue stream settings
	StreamMaxLen int64         // XADD MAXLEN cap per channel stream
	StreamTTL    time.Duration // Key TTL refreshed on every send

	// Agent runtime
	AgentAPIURL  string        // Base URL of the LLM agent runtime
	AgentTimeout time.Duration // End-to-end limit for a single streamed run

	// Database
	DatabaseURL string // sqlite path, postgres:// or mysql:// URL

	// Assistant registry
	AssistantsConfigPath string // Optional YAML file extending the built-in registry

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogFile   string
}

// Stream maxlen bounds: the default keeps a modest per-channel backlog, the
// cap matches the largest document the platform accepts (~1M short segments).
const (
	defaultStreamMaxLen = 10_000
	maxStreamMaxLen     = 1_000_000
)

// New creates a Config populated from environment variables with defaults.
func New() (*Config, error) {
	env := getEnvString("ENVIRONMENT", "development")

	ttlDefault := 5 * time.Minute
	if env == "development" {
		ttlDefault = time.Hour
	}

	cfg := &Config{
		ListenAddr:     getEnvString("LISTEN_ADDR", ":33001"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		Environment: env,

		RedisURL: getEnvString("REDIS_URL", "redis://localhost:6379/0"),

		StreamMaxLen: getEnvInt64("REDIS_STREAM_MQ_MAXLEN", defaultStreamMaxLen),
		StreamTTL:    time.Duration(getEnvInt64("REDIS_STREAM_MQ_TTL_SECONDS", int64(ttlDefault/time.Second))) * time.Second,

		AgentAPIURL:  getEnvString("AGENT_API_URL", "http://localhost:8123"),
		AgentTimeout: getEnvDuration("AGENT_TIMEOUT", 10*time.Minute),

		DatabaseURL: getEnvString("DATABASE_URL", "file::memory:?cache=shared"),

		AssistantsConfigPath: getEnvString("ASSISTANTS_CONFIG", ""),

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "json"),
		LogFile:   getEnvString("LOG_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("redis URL must not be empty")
	}
	if c.AgentAPIURL == "" {
		return fmt.Errorf("agent API URL must not be empty")
	}
	if c.StreamMaxLen <= 0 {
		return fmt.Errorf("stream maxlen must be positive, got %d", c.StreamMaxLen)
	}
	if c.StreamMaxLen > maxStreamMaxLen {
		return fmt.Errorf("stream maxlen %d exceeds cap %d", c.StreamMaxLen, maxStreamMaxLen)
	}
	if c.StreamTTL <= 0 {
		return fmt.Errorf("stream TTL must be positive, got %s", c.StreamTTL)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnvString retrieves a string value from an environment variable,
// falling back to the provided default value if the variable is not set.
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt64 retrieves a 64-bit integer value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as a 64-bit integer.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as a duration.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := time.ParseDuration(value)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}
