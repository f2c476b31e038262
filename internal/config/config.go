// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MinConnections  int           // warm idle floor (default 2)
	MaxConnections  int           // hard handle ceiling (default 5)
	AcquireTimeout  time.Duration // handle wait budget (default 5s)
	ValidationQuery string        // liveness probe (default "SELECT 1")
	SweepSchedule   string        // cron spec for idle revalidation ("" disables)
}

// CacheConfig bounds the result cache.
type CacheConfig struct {
	MaxEntries int   // LRU entry cap (default 100)
	MaxBytes   int64 // estimated byte cap (default 256 MiB)
}

// MetricsConfig tunes query telemetry.
type MetricsConfig struct {
	MaxHistory         int           // finalized metrics kept in memory (default 1000)
	SlowQueryThreshold time.Duration // slow-query log threshold (default 2s)
	LogSlowQueries     bool
	PersistPath        string // NDJSON metrics file ("" disables persistence)
}

// EngineConfig controls the embedded DuckDB engine.
type EngineConfig struct {
	Database          string // database file path ("" for in-memory)
	Threads           int
	MemoryLimit       string // e.g. "4GB" ("" for engine default)
	EnableObjectCache bool
}

// Config holds the full service configuration.
type Config struct {
	ListenAddr    string // HTTP listen address (default ":8080")
	LogLevel      string // log level: debug, info, warn, error (default "info")
	Env           string // environment: "development" (default) or "production"
	HistoryDBPath string // SQLite query-history file ("" disables history)

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	Pool    PoolConfig
	Cache   CacheConfig
	Metrics MetricsConfig
	Engine  EngineConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Pool.MaxConnections <= 0 {
		return fmt.Errorf("POOL_MAX_CONNECTIONS must be positive, got %d", c.Pool.MaxConnections)
	}
	if c.Pool.MinConnections > c.Pool.MaxConnections {
		return fmt.Errorf("POOL_MIN_CONNECTIONS (%d) exceeds POOL_MAX_CONNECTIONS (%d)",
			c.Pool.MinConnections, c.Pool.MaxConnections)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("CACHE_MAX_BYTES must be positive, got %d", c.Cache.MaxBytes)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables, applying
// defaults for anything unset. Malformed numeric values produce a
// warning and keep the default rather than failing startup.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:     envDefault("LISTEN_ADDR", ":8080"),
		LogLevel:       envDefault("LOG_LEVEL", "info"),
		Env:            envDefault("ENV", "development"),
		HistoryDBPath:  os.Getenv("HISTORY_DB_PATH"),
		RateLimitRPS:   100,
		RateLimitBurst: 200,
		Pool: PoolConfig{
			MinConnections:  2,
			MaxConnections:  5,
			AcquireTimeout:  5 * time.Second,
			ValidationQuery: envDefault("POOL_VALIDATION_QUERY", "SELECT 1"),
			SweepSchedule:   envDefault("POOL_SWEEP_SCHEDULE", "@every 60s"),
		},
		Cache: CacheConfig{
			MaxEntries: 100,
			MaxBytes:   256 << 20,
		},
		Metrics: MetricsConfig{
			MaxHistory:         1000,
			SlowQueryThreshold: 2 * time.Second,
			LogSlowQueries:     parseBoolEnvDefault("METRICS_LOG_SLOW_QUERIES", true),
			PersistPath:        os.Getenv("METRICS_PERSIST_PATH"),
		},
		Engine: EngineConfig{
			Database:          os.Getenv("DUCKDB_PATH"),
			MemoryLimit:       os.Getenv("DUCKDB_MEMORY_LIMIT"),
			EnableObjectCache: parseBoolEnvDefault("DUCKDB_OBJECT_CACHE", true),
		},
	}

	cfg.parseIntEnv("POOL_MIN_CONNECTIONS", &cfg.Pool.MinConnections)
	cfg.parseIntEnv("POOL_MAX_CONNECTIONS", &cfg.Pool.MaxConnections)
	cfg.parseDurationEnv("POOL_ACQUIRE_TIMEOUT", &cfg.Pool.AcquireTimeout)
	cfg.parseIntEnv("CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)
	cfg.parseInt64Env("CACHE_MAX_BYTES", &cfg.Cache.MaxBytes)
	cfg.parseIntEnv("METRICS_MAX_HISTORY", &cfg.Metrics.MaxHistory)
	cfg.parseDurationEnv("METRICS_SLOW_QUERY_THRESHOLD", &cfg.Metrics.SlowQueryThreshold)
	cfg.parseIntEnv("DUCKDB_THREADS", &cfg.Engine.Threads)
	cfg.parseFloatEnv("RATE_LIMIT_RPS", &cfg.RateLimitRPS)
	cfg.parseIntEnv("RATE_LIMIT_BURST", &cfg.RateLimitBurst)

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
			}
		}
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Config) parseIntEnv(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring %s=%q: not an integer", key, v))
		return
	}
	*dst = n
}

func (c *Config) parseFloatEnv(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring %s=%q: not a number", key, v))
		return
	}
	*dst = f
}

func (c *Config) parseInt64Env(key string, dst *int64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring %s=%q: not an integer", key, v))
		return
	}
	*dst = n
}

func (c *Config) parseDurationEnv(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring %s=%q: not a duration", key, v))
		return
	}
	*dst = d
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
