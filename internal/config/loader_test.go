package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	content := `{
	// This is a JSONC comment
	"gateway": {
		"host": "0.0.0.0",
		"port": 9999
	},
	"models": {
		"default": "claude",
		"providers": {
			"claude": {
				"driver": "anthropic",
				"model": "claude-sonnet-4-20250514",
				"auth": {
					"api_key": "${{ .Env.ANTHROPIC_API_KEY }}"
				},
				"max_tokens": 4096,
				"timeout": "90s"
			}
		}
	},
	"executor": {
		"max_parallel": 4,
		"retry_delay": "500ms"
	}
}`

	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "test-key-123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Gateway.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Gateway.Port)
	}
	if cfg.Models.Default != "claude" {
		t.Errorf("expected default claude, got %s", cfg.Models.Default)
	}

	p, ok := cfg.Models.Providers["claude"]
	if !ok {
		t.Fatal("expected claude provider")
	}
	if p.Auth.APIKey != "test-key-123" {
		t.Errorf("expected api_key test-key-123, got %s", p.Auth.APIKey)
	}
	if p.MaxTokens != 4096 {
		t.Errorf("expected max_tokens 4096, got %d", p.MaxTokens)
	}
	if p.Timeout.Duration() != 90*time.Second {
		t.Errorf("expected timeout 90s, got %s", p.Timeout.Duration())
	}
	if cfg.Executor.MaxParallel != 4 {
		t.Errorf("expected max_parallel 4, got %d", cfg.Executor.MaxParallel)
	}
	if cfg.Executor.RetryDelay.Duration() != 500*time.Millisecond {
		t.Errorf("expected retry_delay 500ms, got %s", cfg.Executor.RetryDelay.Duration())
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `{}`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("expected default host 127.0.0.1, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 18720 {
		t.Errorf("expected default port 18720, got %d", cfg.Gateway.Port)
	}
	if cfg.Events.BufferSize != 1024 {
		t.Errorf("expected default buffer 1024, got %d", cfg.Events.BufferSize)
	}
	if cfg.Executor.MaxParallel != 10 {
		t.Errorf("expected default max_parallel 10, got %d", cfg.Executor.MaxParallel)
	}
	if cfg.Executor.RetryDelay.Duration() != time.Second {
		t.Errorf("expected default retry_delay 1s, got %s", cfg.Executor.RetryDelay.Duration())
	}
	if cfg.Context.KeepRecent != 10 {
		t.Errorf("expected default keep_recent 10, got %d", cfg.Context.KeepRecent)
	}
	if cfg.Decision.MaxFailedAttempts != 3 {
		t.Errorf("expected default max_failed_attempts 3, got %d", cfg.Decision.MaxFailedAttempts)
	}
	if cfg.Planner.SemanticThreshold != 0.80 {
		t.Errorf("expected default semantic_threshold 0.80, got %f", cfg.Planner.SemanticThreshold)
	}
	if cfg.Tools.WebSearch.Provider != "duckduckgo" {
		t.Errorf("expected default web search provider duckduckgo, got %q", cfg.Tools.WebSearch.Provider)
	}
}

func TestLoad_TrailingComma(t *testing.T) {
	content := `{
	"gateway": {
		"host": "localhost",
		"port": 1234,
	},
}`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("trailing commas should be tolerated: %v", err)
	}
	if cfg.Gateway.Port != 1234 {
		t.Errorf("expected port 1234, got %d", cfg.Gateway.Port)
	}
}

func TestExpandEnvTemplates(t *testing.T) {
	t.Setenv("TEST_KEY", "my-secret")
	result := expandEnvTemplates(`{"key": "${{ .Env.TEST_KEY }}"}`)
	expected := `{"key": "my-secret"}`
	if result != expected {
		t.Errorf("expected %s, got %s", expected, result)
	}
}
