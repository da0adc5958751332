package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/agentwave/internal/engine"
	"github.com/rendis/agentwave/internal/plugins"
	"github.com/rendis/agentwave/internal/streaming"
	"github.com/rendis/agentwave/pkg/schema"
)

// Config holds all agentwave configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath              string  `json:"db_path"`
	LogLevel            string  `json:"log_level"`
	LogFormat           string  `json:"log_format"`
	Concurrency         int     `json:"concurrency"`
	Timeout             string  `json:"timeout"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	RetryMaxAttempts    int     `json:"retry_max_attempts"`
	RetryDelay          string  `json:"retry_delay"`
	ExponentialBackoff  bool    `json:"exponential_backoff"`
	RetryLowConfidence  bool    `json:"retry_low_confidence"`
	Mode                string  `json:"mode"`
	Caution             string  `json:"caution"`
	CircuitBreaker      bool    `json:"circuit_breaker"`
	HTTPAddr            string  `json:"http_addr"`
	ScheduleInterval    string  `json:"schedule_interval"`

	// Plugins are MCP servers whose tools become agents. settings.json only.
	Plugins []plugins.Config `json:"plugins,omitempty"`
}

func defaultConfig() Config {
	return Config{
		DBPath:              filepath.Join(agentwaveDir(), "agentwave.db"),
		LogLevel:            "info",
		LogFormat:           "text",
		Concurrency:         engine.DefaultConcurrencyLimit,
		Timeout:             engine.DefaultExecutionTimeout.String(),
		ConfidenceThreshold: engine.DefaultConfidenceThreshold,
		RetryMaxAttempts:    engine.DefaultRetryPolicy().MaxAttempts,
		RetryDelay:          engine.DefaultRetryPolicy().RetryDelay.String(),
		Mode:                string(schema.ModePartial),
		Caution:             string(engine.CautionSkip),
		HTTPAddr:            ":9464",
		ScheduleInterval:    "1m",
	}
}

func agentwaveDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentwave"
	}
	return filepath.Join(home, ".agentwave")
}

func settingsPath() string {
	return filepath.Join(agentwaveDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	envString("AGENTWAVE_DB_PATH", &cfg.DBPath)
	envString("AGENTWAVE_LOG_LEVEL", &cfg.LogLevel)
	envString("AGENTWAVE_LOG_FORMAT", &cfg.LogFormat)
	envInt("AGENTWAVE_CONCURRENCY", &cfg.Concurrency)
	envString("AGENTWAVE_TIMEOUT", &cfg.Timeout)
	if v := os.Getenv("AGENTWAVE_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ConfidenceThreshold = f
		}
	}
	envInt("AGENTWAVE_RETRY_MAX_ATTEMPTS", &cfg.RetryMaxAttempts)
	envString("AGENTWAVE_RETRY_DELAY", &cfg.RetryDelay)
	envBool("AGENTWAVE_EXPONENTIAL_BACKOFF", &cfg.ExponentialBackoff)
	envBool("AGENTWAVE_RETRY_LOW_CONFIDENCE", &cfg.RetryLowConfidence)
	envString("AGENTWAVE_MODE", &cfg.Mode)
	envString("AGENTWAVE_CAUTION", &cfg.Caution)
	envBool("AGENTWAVE_CIRCUIT_BREAKER", &cfg.CircuitBreaker)
	envString("AGENTWAVE_HTTP_ADDR", &cfg.HTTPAddr)
	envString("AGENTWAVE_SCHEDULE_INTERVAL", &cfg.ScheduleInterval)

	return cfg
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

// executorConfig validates the executor-related fields.
func (c Config) executorConfig(logger *slog.Logger, events streaming.Publisher) (engine.ExecutorConfig, error) {
	timeout, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return engine.ExecutorConfig{}, fmt.Errorf("timeout: %w", err)
	}
	delay, err := time.ParseDuration(c.RetryDelay)
	if err != nil {
		return engine.ExecutorConfig{}, fmt.Errorf("retry_delay: %w", err)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return engine.ExecutorConfig{}, fmt.Errorf("confidence_threshold %v is outside [0, 1]", c.ConfidenceThreshold)
	}

	mode := schema.ExecutionMode(strings.ToLower(c.Mode))
	if mode != schema.ModePartial && mode != schema.ModeFailFast {
		return engine.ExecutorConfig{}, fmt.Errorf("mode must be partial or fail_fast, got %q", c.Mode)
	}
	caution := engine.CautionPolicy(strings.ToLower(c.Caution))
	if caution != engine.CautionSkip && caution != engine.CautionProceed {
		return engine.ExecutorConfig{}, fmt.Errorf("caution must be skip or proceed, got %q", c.Caution)
	}

	policy := engine.DefaultRetryPolicy()
	policy.MaxAttempts = c.RetryMaxAttempts
	policy.RetryDelay = delay
	policy.ExponentialBackoff = c.ExponentialBackoff
	policy.RetryOnLowConfidence = c.RetryLowConfidence

	cfg := engine.ExecutorConfig{
		ConcurrencyLimit:    c.Concurrency,
		ExecutionTimeout:    timeout,
		ConfidenceThreshold: c.ConfidenceThreshold,
		RetryPolicy:         policy,
		Mode:                mode,
		Caution:             caution,
		Logger:              logger,
		Events:              events,
	}
	if c.CircuitBreaker {
		cb := engine.DefaultCircuitBreakerConfig()
		cfg.CircuitBreaker = &cb
	}
	return cfg, nil
}

// scheduleInterval parses ScheduleInterval; zero means the scheduler default.
func (c Config) scheduleInterval() time.Duration {
	d, err := time.ParseDuration(c.ScheduleInterval)
	if err != nil {
		return 0
	}
	return d
}

// dbURL turns DBPath into the file URI libSQL expects.
func (c Config) dbURL() string {
	if strings.HasPrefix(c.DBPath, "file:") || strings.Contains(c.DBPath, "://") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}
