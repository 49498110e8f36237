package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DB_PATH", "HERMES_SECRET",
		"CACHE_TTL_PROVIDERS", "CACHE_TTL_MODELS", "CACHE_MAX_SIZE",
		"CIRCUIT_FAILURE_THRESHOLD", "CIRCUIT_RECOVERY_TIMEOUT", "CIRCUIT_SUCCESS_THRESHOLD",
		"LOG_BATCH_SIZE", "LOG_FLUSH_INTERVAL",
		"RATE_LIMIT_MAX", "RATE_LIMIT_WINDOW",
		"DISPATCHER_INITIAL_PENALTY_MS", "DISPATCHER_MAX_PENALTY_MS",
		"DISPATCHER_RESYNC_THRESHOLD", "DISPATCHER_RESYNC_COOLDOWN_MS",
		"CHAT_MAX_RETRIES", "PERIODIC_SYNC_INTERVAL_HOURS", "CORS_ORIGINS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Port)
	}
	if cfg.Cache.MaxSize != 100 {
		t.Errorf("Cache.MaxSize = %d, want 100", cfg.Cache.MaxSize)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Breaker.FailureThreshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}
	if cfg.Orchestrator.ChatMaxRetries != 3 {
		t.Errorf("ChatMaxRetries = %d, want 3", cfg.Orchestrator.ChatMaxRetries)
	}
	if cfg.RateLimit.Max != 60 || cfg.RateLimit.WindowSeconds != 60 {
		t.Errorf("RateLimit = %+v, want {60 60}", cfg.RateLimit)
	}
}

func TestLoadRespectsEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("CIRCUIT_FAILURE_THRESHOLD", "9")
	t.Setenv("HERMES_SECRET", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Breaker.FailureThreshold != 9 {
		t.Errorf("Breaker.FailureThreshold = %d, want 9", cfg.Breaker.FailureThreshold)
	}
	if cfg.Secret != "sk-test" {
		t.Errorf("Secret = %q, want sk-test", cfg.Secret)
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid LOG_LEVEL")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "70000")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for out-of-range PORT")
	}
}
