package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/tool"

	"github.com/skylattice/orbit/internal/cache"
	"github.com/skylattice/orbit/internal/config"
)

// SetupRegistry builds the registry of builtin tools. toolCache may be nil;
// cacheable tools are then registered unwrapped. cfg.Enabled limits which
// tools are registered, empty means all.
func SetupRegistry(ctx context.Context, cfg config.ToolsConfig, toolCache *cache.Cache) (*Registry, error) {
	reg := NewRegistry()

	enabled := func(name string) bool {
		if len(cfg.Enabled) == 0 {
			return true
		}
		for _, n := range cfg.Enabled {
			if n == name {
				return true
			}
		}
		return false
	}

	if enabled("current_datetime") {
		if err := reg.Register(ctx, NewDatetime()); err != nil {
			return nil, fmt.Errorf("register current_datetime: %w", err)
		}
	}

	if enabled("web_search") {
		search, err := NewWebSearch(ctx, cfg.WebSearch)
		if err != nil {
			// Search misconfiguration should not take the whole agent down.
			slog.Warn("web search disabled", "error", err)
		} else {
			if err := registerCached(ctx, reg, search, toolCache); err != nil {
				return nil, fmt.Errorf("register web_search: %w", err)
			}
		}
	}

	slog.Info("tools registered", "count", len(reg.Names()), "tools", reg.Names())
	return reg, nil
}

func registerCached(ctx context.Context, reg *Registry, t tool.InvokableTool, c *cache.Cache) error {
	if c == nil {
		return reg.Register(ctx, t)
	}
	cached, err := WithCache(ctx, t, c)
	if err != nil {
		return err
	}
	return reg.Register(ctx, cached)
}
