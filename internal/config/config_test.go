package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Pool.MinConnections)
	assert.Equal(t, 5, cfg.Pool.MaxConnections)
	assert.Equal(t, 5*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, "SELECT 1", cfg.Pool.ValidationQuery)
	assert.Equal(t, 100, cfg.Cache.MaxEntries)
	assert.Equal(t, int64(256<<20), cfg.Cache.MaxBytes)
	assert.Equal(t, 1000, cfg.Metrics.MaxHistory)
	assert.Equal(t, 2*time.Second, cfg.Metrics.SlowQueryThreshold)
	assert.True(t, cfg.Metrics.LogSlowQueries)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("POOL_MIN_CONNECTIONS", "1")
	t.Setenv("POOL_MAX_CONNECTIONS", "8")
	t.Setenv("POOL_ACQUIRE_TIMEOUT", "250ms")
	t.Setenv("CACHE_MAX_ENTRIES", "5")
	t.Setenv("CACHE_MAX_BYTES", "1048576")
	t.Setenv("METRICS_SLOW_QUERY_THRESHOLD", "500ms")
	t.Setenv("DUCKDB_PATH", "/data/analytics.db")
	t.Setenv("DUCKDB_THREADS", "8")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 1, cfg.Pool.MinConnections)
	assert.Equal(t, 8, cfg.Pool.MaxConnections)
	assert.Equal(t, 250*time.Millisecond, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 5, cfg.Cache.MaxEntries)
	assert.Equal(t, int64(1048576), cfg.Cache.MaxBytes)
	assert.Equal(t, 500*time.Millisecond, cfg.Metrics.SlowQueryThreshold)
	assert.Equal(t, "/data/analytics.db", cfg.Engine.Database)
	assert.Equal(t, 8, cfg.Engine.Threads)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadFromEnv_MalformedValueWarnsAndKeepsDefault(t *testing.T) {
	t.Setenv("POOL_MAX_CONNECTIONS", "lots")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Pool.MaxConnections)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "POOL_MAX_CONNECTIONS")
}

func TestLoadFromEnv_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "min above max", key: "POOL_MIN_CONNECTIONS", val: "99"},
		{name: "non-positive max", key: "POOL_MAX_CONNECTIONS", val: "0"},
		{name: "non-positive cache entries", key: "CACHE_MAX_ENTRIES", val: "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			_, err := LoadFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.level}
		assert.Equal(t, tt.want, cfg.SlogLevel(), "level %q", tt.level)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nDOTENV_TEST_A=hello\nDOTENV_TEST_B=\"quoted\"\n\nnot-a-pair\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("DOTENV_TEST_A", "")
	t.Setenv("DOTENV_TEST_B", "")
	os.Unsetenv("DOTENV_TEST_A")
	os.Unsetenv("DOTENV_TEST_B")

	require.NoError(t, LoadDotEnv(path))

	assert.Equal(t, "hello", os.Getenv("DOTENV_TEST_A"))
	assert.Equal(t, "quoted", os.Getenv("DOTENV_TEST_B"))
}

func TestLoadDotEnv_ExistingEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DOTENV_TEST_C=file\n"), 0o644))

	t.Setenv("DOTENV_TEST_C", "env")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "env", os.Getenv("DOTENV_TEST_C"))
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}
