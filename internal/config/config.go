// Package config loads and validates all runtime configuration for
// the gateway. Configuration is read from environment variables
// (preferred for containers) or from a .env file in the working
// directory. Environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8000.
	Port int

	// LogLevel controls the minimum log level: debug, info, warn, error.
	LogLevel string

	// DBPath is the SQLite database file path.
	DBPath string

	// Secret is the static HERMES_SECRET fallback credential, accepted
	// in addition to any issued key.
	Secret string

	Cache        CacheConfig
	Breaker      BreakerConfig
	LogBatch     LogBatchConfig
	RateLimit    RateLimitConfig
	Dispatcher   DispatcherConfig
	Orchestrator OrchestratorConfig

	// CORSOrigins is the list of allowed CORS origins. ["*"] allows any.
	CORSOrigins []string
}

// CacheConfig controls the provider/models TTL-LRU cache.
type CacheConfig struct {
	TTLProviders time.Duration
	TTLModels    time.Duration
	MaxSize      int
}

// BreakerConfig controls the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// LogBatchConfig controls the log batcher's flush triggers.
type LogBatchConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// RateLimitConfig controls the sliding-window edge rate limiter.
type RateLimitConfig struct {
	Max           int
	WindowSeconds int
}

// DispatcherConfig controls cooldown backoff defaults. They are read
// from env vars at process start only; values stored in the settings
// table do not change them.
type DispatcherConfig struct {
	InitialPenalty  time.Duration
	MaxPenalty      time.Duration
	ResyncThreshold int
	ResyncCooldown  time.Duration
}

// OrchestratorConfig controls the chat retry loop and periodic sync.
type OrchestratorConfig struct {
	ChatMaxRetries            int
	PeriodicSyncIntervalHours int
}

// Load reads configuration from the environment (and an optional
// .env file) and validates it.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", 8000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_PATH", "hermes.db")
	v.SetDefault("HERMES_SECRET", "")

	v.SetDefault("CACHE_TTL_PROVIDERS", "30s")
	v.SetDefault("CACHE_TTL_MODELS", "60s")
	v.SetDefault("CACHE_MAX_SIZE", 100)

	v.SetDefault("CIRCUIT_FAILURE_THRESHOLD", 5)
	v.SetDefault("CIRCUIT_RECOVERY_TIMEOUT", "30s")
	v.SetDefault("CIRCUIT_SUCCESS_THRESHOLD", 2)

	v.SetDefault("LOG_BATCH_SIZE", 50)
	v.SetDefault("LOG_FLUSH_INTERVAL", "5s")

	v.SetDefault("RATE_LIMIT_MAX", 60)
	v.SetDefault("RATE_LIMIT_WINDOW", 60)

	v.SetDefault("DISPATCHER_INITIAL_PENALTY_MS", 30*60*1000)
	v.SetDefault("DISPATCHER_MAX_PENALTY_MS", 4*60*60*1000)
	v.SetDefault("DISPATCHER_RESYNC_THRESHOLD", 3)
	v.SetDefault("DISPATCHER_RESYNC_COOLDOWN_MS", 10*60*1000)

	v.SetDefault("CHAT_MAX_RETRIES", 3)
	v.SetDefault("PERIODIC_SYNC_INTERVAL_HOURS", 6)

	v.SetDefault("CORS_ORIGINS", []string{"*"})

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),
		DBPath:   v.GetString("DB_PATH"),
		Secret:   v.GetString("HERMES_SECRET"),

		Cache: CacheConfig{
			TTLProviders: v.GetDuration("CACHE_TTL_PROVIDERS"),
			TTLModels:    v.GetDuration("CACHE_TTL_MODELS"),
			MaxSize:      v.GetInt("CACHE_MAX_SIZE"),
		},
		Breaker: BreakerConfig{
			FailureThreshold: v.GetInt("CIRCUIT_FAILURE_THRESHOLD"),
			RecoveryTimeout:  v.GetDuration("CIRCUIT_RECOVERY_TIMEOUT"),
			SuccessThreshold: v.GetInt("CIRCUIT_SUCCESS_THRESHOLD"),
		},
		LogBatch: LogBatchConfig{
			BatchSize:     v.GetInt("LOG_BATCH_SIZE"),
			FlushInterval: v.GetDuration("LOG_FLUSH_INTERVAL"),
		},
		RateLimit: RateLimitConfig{
			Max:           v.GetInt("RATE_LIMIT_MAX"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW"),
		},
		Dispatcher: DispatcherConfig{
			InitialPenalty:  time.Duration(v.GetInt64("DISPATCHER_INITIAL_PENALTY_MS")) * time.Millisecond,
			MaxPenalty:      time.Duration(v.GetInt64("DISPATCHER_MAX_PENALTY_MS")) * time.Millisecond,
			ResyncThreshold: v.GetInt("DISPATCHER_RESYNC_THRESHOLD"),
			ResyncCooldown:  time.Duration(v.GetInt64("DISPATCHER_RESYNC_COOLDOWN_MS")) * time.Millisecond,
		},
		Orchestrator: OrchestratorConfig{
			ChatMaxRetries:            v.GetInt("CHAT_MAX_RETRIES"),
			PeriodicSyncIntervalHours: v.GetInt("PERIODIC_SYNC_INTERVAL_HOURS"),
		},
		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("config: CIRCUIT_FAILURE_THRESHOLD must be >= 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Orchestrator.ChatMaxRetries < 1 {
		return fmt.Errorf("config: CHAT_MAX_RETRIES must be >= 1, got %d", c.Orchestrator.ChatMaxRetries)
	}
	if c.RateLimit.Max < 1 {
		return fmt.Errorf("config: RATE_LIMIT_MAX must be >= 1, got %d", c.RateLimit.Max)
	}
	if c.Dispatcher.ResyncThreshold < 1 {
		return fmt.Errorf("config: DISPATCHER_RESYNC_THRESHOLD must be >= 1, got %d", c.Dispatcher.ResyncThreshold)
	}
	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
