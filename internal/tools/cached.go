package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/skylattice/orbit/internal/cache"
)

// CachedTool wraps an invokable tool with the tool-result cache tier.
// Identical calls within the TTL are served from cache; stale entries in
// the grace window are served while a background call refreshes them.
type CachedTool struct {
	inner tool.InvokableTool
	info  *schema.ToolInfo
	cache *cache.Cache
	ttl   time.Duration
}

// WithCache wraps t so its results go through c. The per-tool TTL comes
// from CacheTTLProvider when implemented, clamped to the allowed range.
func WithCache(ctx context.Context, t tool.InvokableTool, c *cache.Cache) (*CachedTool, error) {
	info, err := t.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("tool info: %w", err)
	}

	ttl := cache.ToolTTLDefault
	if p, ok := t.(CacheTTLProvider); ok {
		ttl = cache.ClampToolTTL(p.CacheTTL())
	}

	return &CachedTool{inner: t, info: info, cache: c, ttl: ttl}, nil
}

// Info returns the wrapped tool's info.
func (t *CachedTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return t.info, nil
}

// InvokableRun serves the call from cache when possible, delegating to the
// wrapped tool on miss or background refresh.
func (t *CachedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	args := map[string]any{}
	if argumentsInJSON != "" {
		if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
			// Unparseable args cannot be keyed; pass straight through.
			return t.inner.InvokableRun(ctx, argumentsInJSON, opts...)
		}
	}

	key := cache.ToolKey(t.info.Name, args)
	raw, _, err := t.cache.GetOrCompute(ctx, key, func(ctx context.Context) (any, error) {
		return t.inner.InvokableRun(ctx, argumentsInJSON, opts...)
	}, t.ttl)
	if err != nil {
		return "", err
	}

	out, err := cache.Decode[string](raw)
	if err != nil {
		return "", fmt.Errorf("tool %s: decode cached result: %w", t.info.Name, err)
	}
	return out, nil
}

// Invalidate drops every cached result of this tool.
func (t *CachedTool) Invalidate(ctx context.Context) int {
	return t.cache.InvalidateByPrefix(ctx, cache.ToolPrefix(t.info.Name))
}

var _ tool.InvokableTool = (*CachedTool)(nil)
