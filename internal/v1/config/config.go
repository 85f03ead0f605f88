package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Defaults for optional settings.
const (
	DefaultMaxConnections = 16
	DefaultRateLimitConn  = "30-M"
)

// Config holds validated environment configuration for the server.
type Config struct {
	// Required variables
	Port          string
	PasswordsFile string

	// Optional variables with defaults
	OpsPort         string
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	MaxConnections  int
	AllowedOrigins  string

	// Per-IP connect rate limit, ulule formatted ("30-M" = 30 per minute)
	RateLimitConnIP string

	// Tracing
	OtelEnabled       bool
	OtelCollectorAddr string
}

// ValidateEnv validates all required environment variables and returns a
// Config object. Returns an error if any required variable is missing or
// invalid. A non-empty portArg (the `server <port>` positional argument)
// overrides PORT.
func ValidateEnv(portArg string) (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number), overridable by the CLI argument
	cfg.Port = os.Getenv("PORT")
	if portArg != "" {
		cfg.Port = portArg
	}
	if cfg.Port == "" {
		errors = append(errors, "PORT is required (env or `server <port>`)")
	} else if !isValidPort(cfg.Port) {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Required: PASSWORDS_FILE (must exist and be readable)
	cfg.PasswordsFile = os.Getenv("PASSWORDS_FILE")
	if cfg.PasswordsFile == "" {
		cfg.PasswordsFile = "passwords.txt"
	}
	if _, err := os.Stat(cfg.PasswordsFile); err != nil {
		errors = append(errors, fmt.Sprintf("PASSWORDS_FILE is not readable: %v", err))
	}

	// Optional: OPS_PORT (metrics and health endpoint, defaults to 9090)
	cfg.OpsPort = getEnvOrDefault("OPS_PORT", "9090")
	if !isValidPort(cfg.OpsPort) {
		errors = append(errors, fmt.Sprintf("OPS_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.OpsPort))
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Optional: MAX_CONNECTIONS (defaults to 16, the admission bound)
	cfg.MaxConnections = DefaultMaxConnections
	if raw := os.Getenv("MAX_CONNECTIONS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errors = append(errors, fmt.Sprintf("MAX_CONNECTIONS must be a positive integer (got '%s')", raw))
		} else {
			cfg.MaxConnections = n
		}
	}

	// Per-IP connect limit (M = minute, H = hour)
	cfg.RateLimitConnIP = getEnvOrDefault("RATE_LIMIT_CONN_IP", DefaultRateLimitConn)

	// Tracing is opt-in; the collector address only matters when enabled
	cfg.OtelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	if cfg.OtelEnabled {
		cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.OtelCollectorAddr == "" {
			cfg.OtelCollectorAddr = "localhost:4317"
			slog.Warn("OTEL_COLLECTOR_ADDR not set, using default", "addr", cfg.OtelCollectorAddr)
		} else if !isValidHostPort(cfg.OtelCollectorAddr) {
			errors = append(errors, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OtelCollectorAddr))
		}
	}

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidPort checks that a string parses as a TCP port.
func isValidPort(raw string) bool {
	port, err := strconv.Atoi(raw)
	return err == nil && port >= 1 && port <= 65535
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	if parts[0] == "" {
		return false
	}
	return isValidPort(parts[1])
}

// logValidatedConfig logs the validated configuration
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"passwords_file", cfg.PasswordsFile,
		"ops_port", cfg.OpsPort,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"max_connections", cfg.MaxConnections,
		"rate_limit_conn_ip", cfg.RateLimitConnIP,
		"otel_enabled", cfg.OtelEnabled,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
