package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentwave/internal/engine"
	"github.com/rendis/agentwave/internal/logging"
	"github.com/rendis/agentwave/pkg/schema"
)

// isolateHome points the settings lookup at an empty temp directory.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"AGENTWAVE_DB_PATH", "AGENTWAVE_LOG_LEVEL", "AGENTWAVE_MODE",
		"AGENTWAVE_CONCURRENCY", "AGENTWAVE_CONFIDENCE_THRESHOLD", "AGENTWAVE_CIRCUIT_BREAKER",
	} {
		t.Setenv(key, "")
	}
	return home
}

func TestLoadConfig_Defaults(t *testing.T) {
	home := isolateHome(t)

	cfg := loadConfig()
	assert.Equal(t, filepath.Join(home, ".agentwave", "agentwave.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, engine.DefaultConcurrencyLimit, cfg.Concurrency)
	assert.Equal(t, engine.DefaultConfidenceThreshold, cfg.ConfidenceThreshold)
	assert.Equal(t, string(schema.ModePartial), cfg.Mode)
	assert.Equal(t, time.Minute, cfg.scheduleInterval())
}

func TestLoadConfig_Layering(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, ".agentwave")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	settings := `{"log_level":"debug","concurrency":3,"mode":"fail_fast"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(settings), 0o600))

	t.Setenv("AGENTWAVE_CONCURRENCY", "7")
	t.Setenv("AGENTWAVE_CONFIDENCE_THRESHOLD", "0.4")
	t.Setenv("AGENTWAVE_CIRCUIT_BREAKER", "true")

	cfg := loadConfig()
	assert.Equal(t, "debug", cfg.LogLevel, "settings.json beats defaults")
	assert.Equal(t, "fail_fast", cfg.Mode)
	assert.Equal(t, 7, cfg.Concurrency, "env beats settings.json")
	assert.Equal(t, 0.4, cfg.ConfidenceThreshold)
	assert.True(t, cfg.CircuitBreaker)
}

func TestLoadConfig_BadSettingsIgnored(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, ".agentwave")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{not json"), 0o600))

	assert.Equal(t, "info", loadConfig().LogLevel)
}

func TestExecutorConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Mode = "FAIL_FAST"
	cfg.CircuitBreaker = true
	cfg.RetryMaxAttempts = 5
	cfg.RetryDelay = "250ms"

	ec, err := cfg.executorConfig(logging.Discard(), nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ModeFailFast, ec.Mode)
	assert.Equal(t, engine.CautionSkip, ec.Caution)
	assert.Equal(t, 5, ec.RetryPolicy.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, ec.RetryPolicy.RetryDelay)
	assert.NotNil(t, ec.CircuitBreaker)
}

func TestExecutorConfig_Invalid(t *testing.T) {
	tests := map[string]func(*Config){
		"timeout":   func(c *Config) { c.Timeout = "soon" },
		"delay":     func(c *Config) { c.RetryDelay = "x" },
		"threshold": func(c *Config) { c.ConfidenceThreshold = 1.5 },
		"mode":      func(c *Config) { c.Mode = "eventually" },
		"caution":   func(c *Config) { c.Caution = "maybe" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			mutate(&cfg)
			_, err := cfg.executorConfig(logging.Discard(), nil)
			assert.Error(t, err)
		})
	}
}

func TestDBURL(t *testing.T) {
	assert.Equal(t, "file:/tmp/a.db", Config{DBPath: "/tmp/a.db"}.dbURL())
	assert.Equal(t, "file:/tmp/a.db", Config{DBPath: "file:/tmp/a.db"}.dbURL())
	assert.Equal(t, "libsql://db.example.com", Config{DBPath: "libsql://db.example.com"}.dbURL())
}

func TestLoadConfig_Plugins(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, ".agentwave")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	settings := `{"plugins":[{"name":"calc","command":"/usr/local/bin/calc-mcp","args":["--stdio"],"base_confidence":0.75}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(settings), 0o600))

	cfg := loadConfig()
	require.Len(t, cfg.Plugins, 1)
	assert.Equal(t, "calc", cfg.Plugins[0].Name)
	assert.Equal(t, []string{"--stdio"}, cfg.Plugins[0].Args)
	assert.Equal(t, 0.75, cfg.Plugins[0].BaseConfidence)
}
