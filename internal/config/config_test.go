package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COMPLETION_BACKEND", "")
	t.Setenv("PLANNER_MAX_TOKENS_PER_CHUNK", "")
	t.Setenv("RATE_LIMIT_TOKENS_PER_MINUTE", "")
	t.Setenv("RATE_LIMIT_SAFETY_MARGIN", "")
	t.Setenv("NATS_RETRY_ON_FAILED_CONNECT", "")

	cfg := Load()
	if cfg.CompletionBackend != "ollama" {
		t.Fatalf("expected default completion backend ollama, got %q", cfg.CompletionBackend)
	}
	if cfg.PlannerMaxTokensPerChunk != 100000 {
		t.Fatalf("expected default max tokens per chunk 100000, got %d", cfg.PlannerMaxTokensPerChunk)
	}
	if cfg.RateLimitTokensPerMinute != 80000 {
		t.Fatalf("expected default tokens per minute 80000, got %d", cfg.RateLimitTokensPerMinute)
	}
	if cfg.RateLimitSafetyMargin != 0.8 {
		t.Fatalf("expected default safety margin 0.8, got %v", cfg.RateLimitSafetyMargin)
	}
	if !cfg.NATSRetryConnect {
		t.Fatalf("expected nats retry on failed connect by default")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("COMPLETION_BACKEND", "vertex")
	t.Setenv("PLANNER_PAGES_PER_CHUNK", "5")
	t.Setenv("RATE_LIMIT_SAFETY_MARGIN", "0.5")
	t.Setenv("COMPLETION_TIMEOUT_SECONDS", "30")
	t.Setenv("API_MAX_UPLOAD_MB", "2")
	t.Setenv("NATS_RETRY_ON_FAILED_CONNECT", "false")
	t.Setenv("COMPLETION_BREAKER_ENABLED", "false")
	t.Setenv("COMPLETION_RETRY_MAX_ATTEMPTS", "4")

	cfg := Load()
	if cfg.CompletionBackend != "vertex" {
		t.Fatalf("expected completion backend override, got %q", cfg.CompletionBackend)
	}
	if cfg.PlannerPagesPerChunk != 5 {
		t.Fatalf("expected pages per chunk 5, got %d", cfg.PlannerPagesPerChunk)
	}
	if cfg.RateLimitSafetyMargin != 0.5 {
		t.Fatalf("expected safety margin 0.5, got %v", cfg.RateLimitSafetyMargin)
	}
	if cfg.CompletionTimeout() != 30*time.Second {
		t.Fatalf("expected 30s completion timeout, got %v", cfg.CompletionTimeout())
	}
	if cfg.MaxUploadBytes() != 2<<20 {
		t.Fatalf("expected 2MiB upload limit, got %d", cfg.MaxUploadBytes())
	}
	if cfg.NATSRetryConnect {
		t.Fatalf("expected nats retry override to false")
	}
	if cfg.CompletionBreaker || cfg.CompletionRetryAttempts != 4 {
		t.Fatalf("expected completion policy overrides, got breaker=%v attempts=%d", cfg.CompletionBreaker, cfg.CompletionRetryAttempts)
	}
}

func TestLoadFallsBackOnMalformedNumbers(t *testing.T) {
	t.Setenv("FILE_CONCURRENCY", "many")
	t.Setenv("PLANNER_SAFETY_MARGIN", "high")

	cfg := Load()
	if cfg.FileConcurrency != 3 {
		t.Fatalf("expected fallback concurrency 3, got %d", cfg.FileConcurrency)
	}
	if cfg.PlannerSafetyMargin != 0.8 {
		t.Fatalf("expected fallback planner margin 0.8, got %v", cfg.PlannerSafetyMargin)
	}
}
