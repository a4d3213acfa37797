// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverBadger   = "badger"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultCatalogBaseURL is the public catalog the mobile application read from.
const DefaultCatalogBaseURL = "https://reactnd-books-api.udacity.com"

// Config holds the application configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Data     DataConfig
	Store    StoreConfig
	Server   ServerConfig
	Auth     AuthConfig
	Catalog  CatalogConfig
	Sessions SessionConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// DataConfig holds the location of on-disk state (databases, keys, tokens).
type DataConfig struct {
	Dir string
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver      string // badger, sqlite or postgres (default: badger)
	DatabaseURL string // PostgreSQL DSN, required for the postgres driver
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port         string        // Server port (default: 8080)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 0, SSE streams are long lived)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)
	CORSOrigins  []string
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// PASETO v4 symmetric key for access tokens (32 bytes, hex encoded).
	// Set by auth.LoadOrGenerateKey at startup.
	AccessTokenKey string

	AccessTokenDuration time.Duration // e.g., 15m
	SessionDuration     time.Duration // e.g., 720h (30 days)
}

// CatalogConfig holds configuration for the remote book catalog.
type CatalogConfig struct {
	BaseURL   string
	Timeout   time.Duration
	PageSize  int
	CacheTTL  time.Duration
	RateLimit float64 // requests per second
	Burst     int
}

// SessionConfig holds configuration for server-hosted screen sessions.
type SessionConfig struct {
	IdleTimeout  time.Duration // idle detail/list sessions are closed after this
	ReadyTimeout time.Duration // how long opening a detail session waits for Ready
}

// LoadConfig loads configuration from the process arguments.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("bookshelf", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	dataDir := fs.String("data-dir", "", "Directory for databases and keys (default: ~/.bookshelf)")

	storeDriver := fs.String("store", "", "Store driver (badger, sqlite, postgres)")
	databaseURL := fs.String("database-url", "", "PostgreSQL connection string")

	accessTokenDuration := fs.String("access-token-duration", "", "Access token lifetime (e.g., 15m)")
	sessionDuration := fs.String("session-duration", "", "Login session lifetime (e.g., 720h)")

	serverPort := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 0)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	corsOrigins := fs.String("cors-origins", "", "Comma separated allowed CORS origins (default: *)")

	catalogURL := fs.String("catalog-url", "", "Catalog API base URL")
	catalogTimeout := fs.String("catalog-timeout", "", "Catalog request timeout (default: 30s)")
	catalogPageSize := fs.String("catalog-page-size", "", "Books per catalog page (default: 5)")
	catalogCacheTTL := fs.String("catalog-cache-ttl", "", "How long a fetched catalog shelf is reused (default: 5m)")
	catalogRate := fs.String("catalog-rate", "", "Catalog requests per second (default: 5)")
	catalogBurst := fs.String("catalog-burst", "", "Catalog request burst (default: 10)")

	sessionIdle := fs.String("session-idle-timeout", "", "Idle timeout for screen sessions (default: 30m)")
	readyTimeout := fs.String("ready-timeout", "", "Max wait for a detail session to become ready (default: 10s)")

	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Data: DataConfig{
			Dir: getConfigValue(*dataDir, "DATA_DIR", ""),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(getConfigValue(*storeDriver, "STORE_DRIVER", DriverBadger)),
			DatabaseURL: getConfigValue(*databaseURL, "DATABASE_URL", ""),
		},
		Server: ServerConfig{
			Port:        getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			CORSOrigins: splitList(getConfigValue(*corsOrigins, "CORS_ORIGINS", "*")),
		},
		Catalog: CatalogConfig{
			BaseURL:   strings.TrimRight(getConfigValue(*catalogURL, "CATALOG_BASE_URL", DefaultCatalogBaseURL), "/"),
			PageSize:  getIntConfigValue(*catalogPageSize, "CATALOG_PAGE_SIZE", 5),
			RateLimit: getFloatConfigValue(*catalogRate, "CATALOG_RATE", 5),
			Burst:     getIntConfigValue(*catalogBurst, "CATALOG_BURST", 10),
		},
	}

	durations := []struct {
		name   string
		flag   string
		envKey string
		def    string
		dst    *time.Duration
	}{
		{"access token duration", *accessTokenDuration, "ACCESS_TOKEN_DURATION", "15m", &cfg.Auth.AccessTokenDuration},
		{"session duration", *sessionDuration, "SESSION_DURATION", "720h", &cfg.Auth.SessionDuration},
		{"read timeout", *readTimeout, "SERVER_READ_TIMEOUT", "15s", &cfg.Server.ReadTimeout},
		{"write timeout", *writeTimeout, "SERVER_WRITE_TIMEOUT", "0s", &cfg.Server.WriteTimeout},
		{"idle timeout", *idleTimeout, "SERVER_IDLE_TIMEOUT", "60s", &cfg.Server.IdleTimeout},
		{"catalog timeout", *catalogTimeout, "CATALOG_TIMEOUT", "30s", &cfg.Catalog.Timeout},
		{"catalog cache ttl", *catalogCacheTTL, "CATALOG_CACHE_TTL", "5m", &cfg.Catalog.CacheTTL},
		{"session idle timeout", *sessionIdle, "SESSION_IDLE_TIMEOUT", "30m", &cfg.Sessions.IdleTimeout},
		{"ready timeout", *readyTimeout, "READY_TIMEOUT", "10s", &cfg.Sessions.ReadyTimeout},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flag, d.envKey, d.def)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, raw, err)
		}
		*d.dst = parsed
	}

	if err := cfg.expandDataDir(); err != nil {
		return nil, fmt.Errorf("invalid data dir: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Data.Dir == "" {
		return errors.New("data dir cannot be empty after expansion")
	}

	switch c.Store.Driver {
	case DriverBadger, DriverSQLite:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("invalid store driver: %s (must be badger, sqlite, or postgres)", c.Store.Driver)
	}

	if c.Catalog.PageSize <= 0 {
		return fmt.Errorf("catalog page size must be positive, got %d", c.Catalog.PageSize)
	}
	if c.Catalog.BaseURL == "" {
		return errors.New("catalog base URL cannot be empty")
	}

	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func (c *Config) expandDataDir() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	expanded, err := expandPath(c.Data.Dir, filepath.Join(homeDir, ".bookshelf"))
	if err != nil {
		return err
	}
	c.Data.Dir = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(strValue, "%g", &result); err != nil {
		return defaultValue
	}
	return result
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Real environment variables take precedence over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
