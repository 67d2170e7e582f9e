package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates, strips
// comments and trailing commas, unmarshals it into Config, and applies
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates before stripping, since the
	// templates live inside strings.
	expanded := expandEnvTemplates(string(data))

	standard, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standard, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18720
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Events.LogLevel == "" {
		cfg.Events.LogLevel = "info"
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = filepath.Join(OrbitPath(), "cache.db")
	}
	if cfg.Cache.JanitorSpec == "" {
		cfg.Cache.JanitorSpec = "0 * * * *"
	}
	if cfg.Planner.SemanticThreshold == 0 {
		cfg.Planner.SemanticThreshold = 0.80
	}
	if cfg.Planner.SemanticMaxEntries == 0 {
		cfg.Planner.SemanticMaxEntries = 1000
	}
	if cfg.Executor.MaxParallel == 0 {
		cfg.Executor.MaxParallel = 10
	}
	if cfg.Executor.RetryDelay == 0 {
		cfg.Executor.RetryDelay = Duration(time.Second)
	}
	if cfg.Executor.StepTimeout == 0 {
		cfg.Executor.StepTimeout = Duration(30 * time.Second)
	}
	if cfg.Context.MaxTokens == 0 {
		cfg.Context.MaxTokens = 126000
	}
	if cfg.Context.CompactThreshold == 0 {
		cfg.Context.CompactThreshold = 0.80
	}
	if cfg.Context.KeepRecent == 0 {
		cfg.Context.KeepRecent = 10
	}
	if cfg.Decision.MaxSameQuestion == 0 {
		cfg.Decision.MaxSameQuestion = 1
	}
	if cfg.Decision.MaxSameTool == 0 {
		cfg.Decision.MaxSameTool = 2
	}
	if cfg.Decision.MaxFailedAttempts == 0 {
		cfg.Decision.MaxFailedAttempts = 3
	}
	if cfg.Decision.SimilarityThreshold == 0 {
		cfg.Decision.SimilarityThreshold = 0.85
	}
	if cfg.Decision.LoopWindow == 0 {
		cfg.Decision.LoopWindow = 5
	}
	if cfg.Tools.WebSearch.Provider == "" {
		cfg.Tools.WebSearch.Provider = "duckduckgo"
	}
	// Auth resolution is deferred to models.ResolveAuth() at model init time.
}
